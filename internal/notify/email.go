package notify

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pv-ae-server/internal/domain"
)

// Email outcome reasons
const (
	ReasonBelowThreshold = "Severity below escalation threshold"
	ReasonNotConfigured  = "Email not configured"
)

// SendMailFunc matches smtp.SendMail
type SendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailService implements domain.EmailNotifier over SMTP with STARTTLS
type EmailService struct {
	config   domain.NotificationConfig
	sendMail SendMailFunc
	logger   *logrus.Logger
}

// NewEmailService creates an email notifier
func NewEmailService(config domain.NotificationConfig, logger *logrus.Logger) *EmailService {
	if config.SMTPPort == 0 {
		config.SMTPPort = 587
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &EmailService{config: config, sendMail: smtp.SendMail, logger: logger}
}

// WithSendMail replaces the SMTP transport
func (e *EmailService) WithSendMail(fn SendMailFunc) *EmailService {
	e.sendMail = fn
	return e
}

// SendEscalation emails the safety officer for HIGH and CRITICAL cases. The
// outcome is always returned, never an error.
func (e *EmailService) SendEscalation(ctx context.Context, alert domain.Alert) domain.EmailNotification {
	if !alert.RiskLevel.RequiresEmail() {
		return domain.EmailNotification{Reason: ReasonBelowThreshold}
	}
	if !e.config.EmailConfigured() {
		e.logger.WithField("report_id", alert.ReportID).Warn("Email not configured, skipping escalation email")
		return domain.EmailNotification{Reason: ReasonNotConfigured}
	}

	addr := net.JoinHostPort(e.config.SMTPHost, strconv.Itoa(e.config.SMTPPort))
	auth := smtp.PlainAuth("", e.config.SMTPUser, e.config.SMTPPassword, e.config.SMTPHost)
	msg := composeEscalation(e.config.SMTPUser, e.config.SafetyOfficer, alert)

	done := make(chan error, 1)
	go func() {
		done <- e.sendMail(addr, auth, e.config.SMTPUser, []string{e.config.SafetyOfficer}, msg)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	if err != nil {
		e.logger.WithError(err).WithField("report_id", alert.ReportID).Error("Failed to send escalation email")
		return domain.EmailNotification{
			Attempted: true,
			Recipient: e.config.SafetyOfficer,
			Error:     err.Error(),
		}
	}

	now := time.Now().UTC()
	e.logger.WithFields(logrus.Fields{
		"report_id":  alert.ReportID,
		"risk_level": alert.RiskLevel,
	}).Info("Escalation email sent")
	return domain.EmailNotification{
		Attempted: true,
		Sent:      true,
		Recipient: e.config.SafetyOfficer,
		Timestamp: &now,
	}
}

func composeEscalation(from, to string, alert domain.Alert) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: [%s] Pharmacovigilance Alert - %s\r\n", alert.RiskLevel, alert.Drug)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")

	fmt.Fprintf(&b, "PHARMACOVIGILANCE ALERT\r\n\r\n")
	fmt.Fprintf(&b, "Risk Level: %s\r\n", alert.RiskLevel)
	fmt.Fprintf(&b, "Report ID: %s\r\n\r\n", alert.ReportID)
	fmt.Fprintf(&b, "Drug:\r\n%s\r\n\r\n", alert.Drug)
	fmt.Fprintf(&b, "Adverse Event:\r\n%s\r\n\r\n", alert.Event)
	fmt.Fprintf(&b, "Explanation:\r\n%s\r\n\r\n", strings.ReplaceAll(alert.Explanation, "\n", "\r\n"))
	b.WriteString("Action Required:\r\nImmediate safety review.\r\n")
	return []byte(b.String())
}
