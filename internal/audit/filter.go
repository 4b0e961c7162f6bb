package audit

import (
	"strconv"
	"strings"
	"time"

	"github.com/pv-ae-server/internal/domain"
)

// placeholderFunc renders the n-th (1-based) bind parameter
type placeholderFunc func(n int) string

// whereClause renders filter as a WHERE clause. Date bounds are whole UTC
// days: the start date from midnight, the end date through the end of day.
// bound converts a time into the backend's parameter value.
func whereClause(filter domain.AuditFilter, ph placeholderFunc, bound func(time.Time) interface{}) (string, []interface{}) {
	var conds []string
	var args []interface{}

	add := func(expr string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, strings.Replace(expr, "?", ph(len(args)), 1))
	}

	if filter.RiskLevel != "" {
		add("risk_level = ?", string(filter.RiskLevel))
	}
	if filter.EscalatedOnly {
		add("escalation_decision = ?", domain.DecisionEscalate)
	}
	if filter.StartDate != nil {
		add("timestamp >= ?", bound(startOfDay(*filter.StartDate)))
	}
	if filter.EndDate != nil {
		add("timestamp < ?", bound(startOfDay(*filter.EndDate).AddDate(0, 0, 1)))
	}
	if filter.AfterID > 0 {
		add("id > ?", filter.AfterID)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// parseDate reads a YYYY-MM-DD filter bound
func parseDate(value string) (*time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02", value, time.UTC)
	if err != nil {
		return nil, domain.NewValidationError("date", "must be formatted YYYY-MM-DD", value)
	}
	return &t, nil
}

// ParseFilter builds an AuditFilter from string query parameters
func ParseFilter(riskLevel, escalatedOnly, startDate, endDate string) (domain.AuditFilter, error) {
	var filter domain.AuditFilter

	if riskLevel != "" {
		level, err := domain.ParseRiskLevel(riskLevel)
		if err != nil {
			return filter, err
		}
		filter.RiskLevel = level
	}
	if escalatedOnly != "" {
		v, err := strconv.ParseBool(escalatedOnly)
		if err != nil {
			return filter, domain.NewValidationError("escalated_only", "must be a boolean", escalatedOnly)
		}
		filter.EscalatedOnly = v
	}
	if startDate != "" {
		t, err := parseDate(startDate)
		if err != nil {
			return filter, err
		}
		filter.StartDate = t
	}
	if endDate != "" {
		t, err := parseDate(endDate)
		if err != nil {
			return filter, err
		}
		filter.EndDate = t
	}
	return filter, nil
}
