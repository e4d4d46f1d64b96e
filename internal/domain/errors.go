package domain

import "time"

// ErrorType is the fixed failure taxonomy shared by every component.
type ErrorType string

const (
	ErrorTypeAPI           ErrorType = "API_ERROR"
	ErrorTypeValidation    ErrorType = "VALIDATION_ERROR"
	ErrorTypeSession       ErrorType = "SESSION_ERROR"
	ErrorTypeConfiguration ErrorType = "CONFIGURATION_ERROR"
	ErrorTypeSystem        ErrorType = "SYSTEM_ERROR"
	ErrorTypeUserInput     ErrorType = "USER_INPUT_ERROR"
	ErrorTypeNetwork       ErrorType = "NETWORK_ERROR"
)

// Severity ranks how disruptive a failure is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities from LOW (0) to CRITICAL (3).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// ErrorInfo is the full diagnostic record produced by the error handler.
type ErrorInfo struct {
	Type            ErrorType      `json:"type"`
	Severity        Severity       `json:"severity"`
	Message         string         `json:"message"`
	UserMessage     string         `json:"user_message"`
	Timestamp       time.Time      `json:"timestamp"`
	Context         map[string]any `json:"context,omitempty"`
	Trace           string         `json:"trace,omitempty"`
	SuggestedAction string         `json:"suggested_action"`
	Recovered       bool           `json:"recovered"`
}

// ErrorRecord is the summarized form of an ErrorInfo kept on a Session.
type ErrorRecord struct {
	Type      ErrorType `json:"type"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Stage     int       `json:"stage"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`
}
