package models

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType is the closed set of lifecycle transitions recorded in a
// tuple's history. Scheduling is derived entirely from these events;
// there is no separate trusted status field.
type EventType string

const (
	EventScanStarted     EventType = "scanStarted"
	EventNoMatchFound    EventType = "noMatchFound"
	EventMatchesFound    EventType = "matchesFound"
	EventOptOutStarted   EventType = "optOutStarted"
	EventOptOutRequested EventType = "optOutRequested"
	EventOptOutConfirmed EventType = "optOutConfirmed"
	EventReAppearance    EventType = "reAppearance"
	EventError           EventType = "error"
)

// ErrorKind classifies a collaborator failure recorded in an error event.
type ErrorKind string

const (
	ErrorKindHTTPClient   ErrorKind = "httpClient"
	ErrorKindHTTPServer   ErrorKind = "httpServer"
	ErrorKindNetwork      ErrorKind = "network"
	ErrorKindDatabase     ErrorKind = "database"
	ErrorKindValidation   ErrorKind = "validation"
	ErrorKindCaptcha      ErrorKind = "captcha"
	ErrorKindEmail        ErrorKind = "email"
	ErrorKindTimeout      ErrorKind = "timeout"
	ErrorKindUnclassified ErrorKind = "unclassified"
)

// ClassifiedError carries an ErrorKind through an error chain so the
// orchestrator can record it on the history event.
type ClassifiedError struct {
	Kind ErrorKind
	Err  error
}

func (e *ClassifiedError) Error() string {
	return string(e.Kind) + ": " + e.Err.Error()
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Classified wraps err with an explicit kind.
func Classified(kind ErrorKind, err error) error {
	return &ClassifiedError{Kind: kind, Err: err}
}

// ClassifyError maps an arbitrary collaborator error to an ErrorKind.
// Errors already carrying a kind keep it.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorKindTimeout
		}
		return ErrorKindNetwork
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "badger") || strings.Contains(msg, "database"):
		return ErrorKindDatabase
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host"):
		return ErrorKindNetwork
	default:
		return ErrorKindUnclassified
	}
}

// HistoryEvent is one immutable log entry for a
// (broker, profile query, optional extracted record) tuple.
type HistoryEvent struct {
	ID             string `json:"id"`
	BrokerID       string `json:"broker_id"`
	ProfileQueryID string `json:"profile_query_id"`
	// ExtractedProfileID is empty for scan-level events.
	ExtractedProfileID string    `json:"extracted_profile_id,omitempty"`
	Type               EventType `json:"type"`
	// MatchCount is set for matchesFound events only.
	MatchCount int `json:"match_count,omitempty"`
	// ErrorKind is set for error events only.
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	// Seq is the global append order. Events carrying the same timestamp
	// still compare deterministically by Seq.
	Seq uint64 `json:"seq" badgerhold:"key"`
}

// NewHistoryEvent builds an event for a scan-level transition.
func NewHistoryEvent(brokerID, profileQueryID string, t EventType, at time.Time) HistoryEvent {
	return HistoryEvent{
		ID:             uuid.New().String(),
		BrokerID:       brokerID,
		ProfileQueryID: profileQueryID,
		Type:           t,
		Timestamp:      at,
	}
}

// NewOptOutEvent builds an event tagged with an extracted record.
func NewOptOutEvent(brokerID, profileQueryID, extractedProfileID string, t EventType, at time.Time) HistoryEvent {
	ev := NewHistoryEvent(brokerID, profileQueryID, t, at)
	ev.ExtractedProfileID = extractedProfileID
	return ev
}

// IsError reports whether the event records a collaborator failure.
func (e HistoryEvent) IsError() bool {
	return e.Type == EventError
}

// MatchesRecord reports whether the event belongs to the given extracted
// record's opt-out history.
func (e HistoryEvent) MatchesRecord(extractedProfileID string) bool {
	return e.ExtractedProfileID == extractedProfileID
}
