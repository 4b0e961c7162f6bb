// Package mcp exposes the adverse event pipeline as MCP tools over stdio or
// streamable HTTP.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/pv-ae-server/internal/review"
	"github.com/pv-ae-server/internal/service"
)

// Server identity reported during MCP initialization
const (
	ServerName    = "pv-ae-server"
	ServerVersion = "v0.1.0"
)

// ServeOptions select the transport and where export_audit writes files.
// The review tools are registered only when Reviews is set.
type ServeOptions struct {
	Transport string // stdio or http
	HTTPPort  int
	ExportDir string
	Reviews   *review.Service
}

// Server serves the pipeline's tools. It does not own the pipeline's stores.
type Server struct {
	opts       ServeOptions
	mcpServer  *mcp.Server
	pipeline   *service.Pipeline
	httpServer *http.Server
	logger     *logrus.Logger
}

// NewServer registers every tool against pipeline
func NewServer(pipeline *service.Pipeline, opts ServeOptions, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if opts.Transport == "" {
		opts.Transport = "stdio"
	}

	s := &Server{
		opts:     opts,
		pipeline: pipeline,
		logger:   logger,
		mcpServer: mcp.NewServer(&mcp.Implementation{
			Name:    ServerName,
			Version: ServerVersion,
		}, nil),
	}
	s.registerTools()
	return s
}

// Pipeline returns the processing pipeline
func (s *Server) Pipeline() *service.Pipeline {
	return s.pipeline
}

// Start serves MCP over the configured transport until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("transport", s.opts.Transport).Info("Starting adverse event MCP server")

	switch s.opts.Transport {
	case "stdio":
		if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP server failed: %w", err)
		}
		return nil
	case "http":
		return s.serveHTTP(ctx)
	default:
		return fmt.Errorf("unsupported transport: %s", s.opts.Transport)
	}
}

func (s *Server) serveHTTP(ctx context.Context) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)

	addr := fmt.Sprintf(":%d", s.opts.HTTPPort)
	s.httpServer = &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("MCP HTTP transport listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("MCP HTTP transport failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}
