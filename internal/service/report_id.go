package service

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var reportIDPattern = regexp.MustCompile(`^RPT-\d{14}-[0-9A-F]{8}$`)

// NewReportID generates a report id of the form RPT-<UTC YYYYMMDDHHMMSS>-<8 hex>
func NewReportID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("RPT-%s-%s", now.UTC().Format("20060102150405"), strings.ToUpper(suffix))
}

// IsReportID reports whether id has the generated report id shape
func IsReportID(id string) bool {
	return reportIDPattern.MatchString(id)
}
