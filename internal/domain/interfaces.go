package domain

import (
	"context"
)

// DrugValidator normalizes a drug name or rejects it with ErrInvalidDrug
type DrugValidator interface {
	Validate(ctx context.Context, drugName string) (*DrugValidation, error)
}

// DrugInfoProvider looks up FDA label information
type DrugInfoProvider interface {
	GetDrugInfo(ctx context.Context, drugName string) (*DrugInfo, error)
}

// SeriousnessClassifier predicts whether an adverse event is serious
type SeriousnessClassifier interface {
	Predict(ctx context.Context, drugName, adverseEvent string) (*MLPrediction, error)
	Info() ModelInfo
	Ready() bool
}

// EntityExtractor pulls the drug and symptom list out of a narrative
type EntityExtractor interface {
	Extract(ctx context.Context, drugName, adverseEvent string) *Entities
	Available(ctx context.Context) bool
}

// AlertNotifier raises an alert for an escalated case
type AlertNotifier interface {
	TriggerAlert(ctx context.Context, alert Alert) error
}

// EmailNotifier sends the escalation email for high-risk cases
type EmailNotifier interface {
	SendEscalation(ctx context.Context, alert Alert) EmailNotification
}

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetConfig() *Config
	GetDatabaseConfig() *DatabaseConfig
	GetServerConfig() *ServerConfig
	Reload() error
	Validate() error
	GetDatabaseConnectionString() string
	GetDatabaseURL() string
	GetRedisConnectionString() string
	IsProduction() bool
	IsDevelopment() bool
}
