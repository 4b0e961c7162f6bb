// Package notify delivers escalation alerts: a structured log line for every
// escalated case, fan-out to alert channels (live websocket feed, webhook),
// and the safety officer email for high-risk cases.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pv-ae-server/internal/domain"
)

// Truncation applied to alert log lines
const (
	maxAlertDrugLength  = 60
	maxAlertEventLength = 200
)

// AlertChannel delivers an alert to one destination
type AlertChannel interface {
	Name() string
	Send(ctx context.Context, alert domain.Alert) error
}

// AlertService implements domain.AlertNotifier
type AlertService struct {
	channels      []AlertChannel
	retryAttempts int
	retryDelay    time.Duration
	logger        *logrus.Logger
}

// NewAlertService creates an alert service over channels
func NewAlertService(logger *logrus.Logger, retryAttempts int, channels ...AlertChannel) *AlertService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if retryAttempts < 0 {
		retryAttempts = 0
	}
	return &AlertService{
		channels:      channels,
		retryAttempts: retryAttempts,
		retryDelay:    200 * time.Millisecond,
		logger:        logger,
	}
}

// TriggerAlert logs the alert and sends it to every channel. A failing channel
// does not stop the others; the joined channel errors are returned.
func (s *AlertService) TriggerAlert(ctx context.Context, alert domain.Alert) error {
	if alert.Drug == "" {
		alert.Drug = "UNKNOWN"
	}
	if alert.Event == "" {
		alert.Event = "No description"
	}
	if alert.Explanation == "" {
		alert.Explanation = "No explanation"
	}
	if alert.RaisedAt.IsZero() {
		alert.RaisedAt = time.Now().UTC()
	}

	s.logger.WithFields(logrus.Fields{
		"report_id":  alert.ReportID,
		"drug":       truncate(alert.Drug, maxAlertDrugLength),
		"risk_level": alert.RiskLevel,
		"event":      truncate(alert.Event, maxAlertEventLength),
	}).Warn("PHARMACOVIGILANCE ALERT: review this case immediately")

	var errs []error
	for _, channel := range s.channels {
		if err := s.sendWithRetry(ctx, channel, alert); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"channel":   channel.Name(),
				"report_id": alert.ReportID,
			}).Error("Failed to send alert")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *AlertService) sendWithRetry(ctx context.Context, channel AlertChannel, alert domain.Alert) error {
	var lastError error

	for attempt := 0; attempt <= s.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.retryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := channel.Send(ctx, alert)
		if err == nil {
			return nil
		}

		lastError = err
		s.logger.WithError(err).WithFields(logrus.Fields{
			"channel": channel.Name(),
			"attempt": attempt + 1,
		}).Warn("Alert send attempt failed")
	}

	return fmt.Errorf("%s: failed to send alert after %d attempts: %w", channel.Name(), s.retryAttempts+1, lastError)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// WebhookChannel posts alerts as JSON to a URL
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel creates a webhook channel
func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Name identifies the channel
func (w *WebhookChannel) Name() string {
	return "webhook"
}

// Send posts the alert
func (w *WebhookChannel) Send(ctx context.Context, alert domain.Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
