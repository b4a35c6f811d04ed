package models

import "time"

type MessageLogStatus string

const (
	MessageLogSuccess MessageLogStatus = "success"
	MessageLogFailed  MessageLogStatus = "failed"
	MessageLogSkipped MessageLogStatus = "skipped"
)

// MessageLog summarizes the outcome of one forwarded message.
type MessageLog struct {
	ID                   int64            `json:"id"`
	PairID               int64            `json:"pair_id"`
	UserID               int64            `json:"user_id"`
	SourceMessageID      string           `json:"source_message_id"`
	DestinationMessageID string           `json:"destination_message_id,omitempty"`
	MessageType          string           `json:"message_type"`
	Status               MessageLogStatus `json:"status"`
	SkipReason           string           `json:"skip_reason,omitempty"`
	MessageSize          int              `json:"message_size"`
	HasMedia             bool             `json:"has_media"`
	MediaType            string           `json:"media_type,omitempty"`
	ProcessingMs         int64            `json:"processing_ms"`
	ErrorMessage         string           `json:"error_message,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
}

type ErrorSeverity string

const (
	SeverityInfo     ErrorSeverity = "info"
	SeverityWarning  ErrorSeverity = "warning"
	SeverityCritical ErrorSeverity = "critical"
)

// ErrorLog records an operational failure for later inspection.
type ErrorLog struct {
	ID           int64         `json:"id"`
	UserID       *int64        `json:"user_id,omitempty"`
	AccountID    *int64        `json:"account_id,omitempty"`
	JobID        string        `json:"job_id,omitempty"`
	ErrorType    string        `json:"error_type"`
	ErrorMessage string        `json:"error_message"`
	Severity     ErrorSeverity `json:"severity"`
	Resolved     bool          `json:"resolved"`
	CreatedAt    time.Time     `json:"created_at"`
}
