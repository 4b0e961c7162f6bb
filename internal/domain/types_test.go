package domain

import (
	"testing"
)

func TestRiskLevelConstants(t *testing.T) {
	tests := []struct {
		name     string
		value    RiskLevel
		expected string
		valid    bool
		email    bool
	}{
		{"Low", RiskLow, "LOW", true, false},
		{"Medium", RiskMedium, "MEDIUM", true, false},
		{"High", RiskHigh, "HIGH", true, true},
		{"Critical", RiskCritical, "CRITICAL", true, true},
		{"Unknown", RiskUnknown, "UNKNOWN", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if string(tt.value) != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, string(tt.value))
			}
			if tt.value.IsValid() != tt.valid {
				t.Errorf("IsValid(%s) = %v, want %v", tt.value, tt.value.IsValid(), tt.valid)
			}
			if tt.value.RequiresEmail() != tt.email {
				t.Errorf("RequiresEmail(%s) = %v, want %v", tt.value, tt.value.RequiresEmail(), tt.email)
			}
		})
	}
}

func TestParseRiskLevel(t *testing.T) {
	r, err := ParseRiskLevel("HIGH")
	if err != nil || r != RiskHigh {
		t.Fatalf("ParseRiskLevel(HIGH) = %v, %v", r, err)
	}

	if _, err := ParseRiskLevel("high"); !IsValidationError(err) {
		t.Errorf("Expected validation error for lowercase input, got %v", err)
	}
}

func TestEscalationDecision(t *testing.T) {
	r := &EscalationResult{ShouldEscalate: true}
	if r.Decision() != DecisionEscalate {
		t.Errorf("Expected %s, got %s", DecisionEscalate, r.Decision())
	}

	r.ShouldEscalate = false
	if r.Decision() != DecisionNoEscalate {
		t.Errorf("Expected %s, got %s", DecisionNoEscalate, r.Decision())
	}

	rec := &AuditRecord{EscalationDecision: DecisionEscalate}
	if !rec.Escalated() {
		t.Error("Expected record to be escalated")
	}
}

func TestEmailConfigured(t *testing.T) {
	n := NotificationConfig{SMTPHost: "smtp.example.com", SMTPUser: "u", SMTPPassword: "p"}
	if n.EmailConfigured() {
		t.Error("Expected email to be unconfigured without a recipient")
	}
	n.SafetyOfficer = "safety@example.com"
	if !n.EmailConfigured() {
		t.Error("Expected email to be configured")
	}
}
