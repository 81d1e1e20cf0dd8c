package types

import "time"

// AlertType defines the alert sink backend.
type AlertType string

const (
	AlertConsole AlertType = "console"
	AlertWebhook AlertType = "webhook"
	AlertFile    AlertType = "file"
)

// AlertLevel is the alert severity.
type AlertLevel string

const (
	AlertLevelError   AlertLevel = "error"
	AlertLevelWarning AlertLevel = "warning"
	AlertLevelInfo    AlertLevel = "info"
)

// AlertKind classifies what the alert reports.
type AlertKind string

const (
	// AlertCoverageGap is emitted once per sustained run of dropped
	// entries, not per entry.
	AlertCoverageGap AlertKind = "COVERAGE_GAP"
	// AlertDuplicateDiscarded is emitted when assembly discards the
	// lower-quality of two tiles sharing a nominal pass timestamp.
	AlertDuplicateDiscarded AlertKind = "DUPLICATE_DISCARDED"
	// AlertPairFailed is emitted when a (region, index) pair fails while
	// sibling pairs continue.
	AlertPairFailed AlertKind = "PAIR_FAILED"
	// AlertDriftDetected is emitted when the rolling drift check flags
	// entries for review.
	AlertDriftDetected AlertKind = "DRIFT_DETECTED"
)

// Alert is an observability event dispatched to configured sinks.
type Alert struct {
	Level     AlertLevel             `json:"level"`
	Kind      AlertKind              `json:"kind"`
	RunID     string                 `json:"runId,omitempty"`
	Region    string                 `json:"region,omitempty"`
	Index     string                 `json:"index,omitempty"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// AlertConfig configures one alert sink.
type AlertConfig struct {
	Type AlertType `yaml:"type" json:"type"`
	URL  string    `yaml:"url,omitempty" json:"url,omitempty"`
	Path string    `yaml:"path,omitempty" json:"path,omitempty"`
}
