package event

import (
	"fmt"
	"time"

	"github.com/go-json-experiment/json"
)

// ErrorEvent is a diagnostic emitted by timers and pause detectors: detected
// pauses, backfill activity, lifecycle changes and recovered failures. These
// flow through an ErrorBus, never through the recording path.
type ErrorEvent struct {
	// Severity indicates log level and urgency
	Severity ErrorSeverity `json:"severity"`

	// Code is a terse, stable identifier (e.g., "PAUSE_DETECTED")
	Code string `json:"code"`

	// Message is human-readable description
	Message string `json:"message"`

	// Component identifies the source (e.g., "detector:clock-drift", "timer:http.requests")
	Component string `json:"component"`

	// Timestamp is wall time for display only
	Timestamp time.Time `json:"timestamp"`

	// Context provides additional structured data
	Context map[string]any `json:"context,omitempty"`
}

// ErrorSeverity represents the severity level of an error event.
// Maps to standard log levels for easy integration with logging systems.
type ErrorSeverity int

const (
	DebugSeverity    ErrorSeverity = iota // Verbose debugging info
	InfoSeverity                          // Informational (e.g., "detector started")
	WarningSeverity                       // Warning but not critical (e.g., a detected pause)
	Error                                 // Error but recoverable
	CriticalSeverity                      // Critical, may cause crash
)

func (s ErrorSeverity) String() string {
	switch s {
	case DebugSeverity:
		return "DEBUG"
	case InfoSeverity:
		return "INFO"
	case WarningSeverity:
		return "WARNING"
	case Error:
		return "ERROR"
	case CriticalSeverity:
		return "CRITICAL"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// MarshalText encodes the severity by name.
func (s ErrorSeverity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Codes
//
// These are terse, refactor-stable codes. They survive code changes better
// than string messages.
const (
	// Pause detection
	CodePauseDetected = "PAUSE_DETECTED" // Detector observed a stall above threshold
	CodePauseIgnored  = "PAUSE_IGNORED"  // Stall too short relative to the recording cadence
	CodeBackfill      = "BACKFILL"       // Synthetic samples recorded for a stall
	CodeListenerPanic = "LISTENER_PANIC" // Pause listener panicked, probing continues

	// Lifecycle
	CodeDetectorStart = "DETECTOR_START" // Detector began probing
	CodeDetectorStop  = "DETECTOR_STOP"  // Detector shut down
	CodeTimerClosed   = "TIMER_CLOSED"   // Timer released its histogram and detector
)

// NewErrorEvent creates an event with timestamp set to now.
func NewErrorEvent(severity ErrorSeverity, code, component, message string) ErrorEvent {
	return ErrorEvent{
		Severity:  severity,
		Code:      code,
		Component: component,
		Message:   message,
		Timestamp: time.Now(),
		Context:   make(map[string]any),
	}
}

// WithContext adds a context key-value pair.
func (e ErrorEvent) WithContext(key string, value any) ErrorEvent {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// String returns a formatted string representation of the event.
func (e ErrorEvent) String() string {
	return fmt.Sprintf("[%s] %s: %s (component=%s)", e.Severity, e.Code, e.Message, e.Component)
}

// JSON encodes the event, context included.
func (e ErrorEvent) JSON() ([]byte, error) {
	return json.Marshal(e, json.Deterministic(true))
}
