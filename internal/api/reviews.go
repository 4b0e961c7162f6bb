package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pv-ae-server/internal/domain"
)

// ReviewRequest is the body of POST /api/audit/:report_id/review
type ReviewRequest struct {
	Decision string `json:"decision" binding:"required"`
	Reviewer string `json:"reviewer" binding:"required"`
	Notes    string `json:"notes"`
}

// handleSubmitReview confirms or overrides the decision for an audited report
func (s *Server) handleSubmitReview(c *gin.Context) {
	var req ReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, http.StatusBadRequest, domain.ErrCodeInvalidInput, "Invalid request body", err.Error())
		return
	}

	r, err := s.deps.Reviews.Submit(c.Request.Context(), c.Param("report_id"), req.Decision, req.Reviewer, req.Notes)
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) handleGetReview(c *gin.Context) {
	r, err := s.deps.Reviews.Get(c.Request.Context(), c.Param("report_id"))
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) handleListReviews(c *gin.Context) {
	limit, err := intQuery(c, "limit", 100)
	if err != nil {
		s.handleError(c, err)
		return
	}
	offset, err := intQuery(c, "offset", 0)
	if err != nil {
		s.handleError(c, err)
		return
	}

	reviews, err := s.deps.Reviews.List(c.Request.Context(), limit, offset)
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reviews": reviews,
		"count":   len(reviews),
	})
}

func (s *Server) handleReviewStats(c *gin.Context) {
	stats, err := s.deps.Reviews.Stats(c.Request.Context())
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
