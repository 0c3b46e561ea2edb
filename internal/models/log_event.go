package models

import (
	"errors"
	"time"
)

// Level represents log severity levels
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// LogEvent represents a single log entry pushed by a producer.
// Events are immutable once ingested; the engine only reads them.
type LogEvent struct {
	// Unique identifier for the log event
	ID string `json:"id"`

	// Timestamp when the log was generated
	Timestamp time.Time `json:"timestamp"`

	// Severity level of the log
	Level Level `json:"level"`

	// Source service or application that generated the log
	Source string `json:"source"`

	// Log message content
	Message string `json:"message"`

	// Optional structured metadata
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Validation errors
var (
	ErrEmptyID          = errors.New("log event ID cannot be empty")
	ErrZeroTimestamp    = errors.New("timestamp cannot be zero")
	ErrFutureTimestamp  = errors.New("timestamp cannot be in the future")
	ErrInvalidTimestamp = errors.New("invalid timestamp format")
	ErrInvalidLevel     = errors.New("invalid log level")
	ErrEmptySource      = errors.New("source cannot be empty")
	ErrEmptyMessage     = errors.New("message cannot be empty")
	ErrMessageTooLong   = errors.New("message exceeds maximum length")
	ErrTooManyMetadata  = errors.New("too many metadata keys")
)

const (
	MaxMessageLength = 65536 // 64KB max message size
	MaxMetadataKeys  = 50
)

// Validate checks if the LogEvent has all required fields and valid values
func (e *LogEvent) Validate() error {
	if e.ID == "" {
		return ErrEmptyID
	}

	if e.Timestamp.IsZero() {
		return ErrZeroTimestamp
	}

	if e.Timestamp.After(time.Now().Add(time.Minute)) {
		return ErrFutureTimestamp
	}

	if !e.Level.IsValid() {
		return ErrInvalidLevel
	}

	if e.Source == "" {
		return ErrEmptySource
	}

	if e.Message == "" {
		return ErrEmptyMessage
	}

	if len(e.Message) > MaxMessageLength {
		return ErrMessageTooLong
	}

	if len(e.Metadata) > MaxMetadataKeys {
		return ErrTooManyMetadata
	}

	return nil
}

// IsValid checks if the level is valid
func (l Level) IsValid() bool {
	switch l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return true
	default:
		return false
	}
}

// rank orders levels by severity for minimum-level filtering.
func (l Level) rank() int {
	switch l {
	case LevelDebug:
		return 0
	case LevelInfo:
		return 1
	case LevelWarn:
		return 2
	case LevelError:
		return 3
	default:
		return -1
	}
}

// AtLeast reports whether l is at or above min in severity.
func (l Level) AtLeast(min Level) bool {
	return l.rank() >= min.rank()
}
