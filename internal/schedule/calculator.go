// Package schedule derives the next scan and opt-out run dates for a
// tuple purely from its ordered history events and the broker's
// schedule config. Nothing here performs I/O; callers persist the
// returned dates.
package schedule

import (
	"sort"
	"time"

	"github.com/ternarybob/expunge/internal/models"
)

// sortByLogOrder returns a copy of events ordered by timestamp, with
// append order (Seq) breaking ties. Scans append outcome events after
// start events in the same instant; the outcome must win.
func sortByLogOrder(events []models.HistoryEvent) []models.HistoryEvent {
	sorted := make([]models.HistoryEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Seq < sorted[j].Seq
		}
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return sorted
}

// NextScanDate computes the preferred date of the tuple's next scan.
// A nil result means the scan is not scheduled; returning current
// unchanged means an operation is in flight and must settle first.
func NextScanDate(current *time.Time, events []models.HistoryEvent, cfg models.ScheduleConfig, deprecated bool, now time.Time) *time.Time {
	if deprecated {
		return nil
	}

	ordered := sortByLogOrder(events)
	if len(ordered) == 0 {
		// Never scanned; run as soon as the queue picks it up.
		return &now
	}

	last := ordered[len(ordered)-1]
	switch last.Type {
	case models.EventNoMatchFound, models.EventMatchesFound, models.EventReAppearance, models.EventOptOutConfirmed:
		d := now.Add(cfg.MaintenanceScan())
		return &d
	case models.EventError:
		d := now.Add(cfg.RetryError())
		return &d
	case models.EventOptOutRequested:
		d := now.Add(cfg.ConfirmOptOutScan())
		return &d
	case models.EventScanStarted, models.EventOptOutStarted:
		// In flight; do not reschedule.
		return current
	default:
		return current
	}
}

// NextOptOutDate computes the preferred date of the next removal attempt
// for one extracted record. A nil result is terminal until a later scan
// records a reappearance.
func NextOptOutDate(current *time.Time, events []models.HistoryEvent, extractedProfileID string, cfg models.ScheduleConfig, attemptCount int, now time.Time) *time.Time {
	relevant := relevantOptOutEvents(sortByLogOrder(events), extractedProfileID)
	if len(relevant) == 0 {
		return nil
	}

	last := relevant[len(relevant)-1]
	switch last.Type {
	case models.EventNoMatchFound, models.EventOptOutConfirmed:
		return nil
	case models.EventMatchesFound, models.EventReAppearance:
		return dateForObservedMatch(relevant, cfg, attemptCount, now)
	case models.EventError:
		d := now.Add(NextErrorBackoff(trailingErrorCount(relevant), cfg))
		return &d
	case models.EventOptOutRequested:
		d := now.Add(cfg.NextOptOutAttempt())
		return &d
	case models.EventScanStarted, models.EventOptOutStarted:
		return current
	default:
		return current
	}
}

// dateForObservedMatch handles a record that a scan currently observes.
// A pending opt-out request that the broker still has time to honor is
// trusted; an expired one is retried while attempts remain.
func dateForObservedMatch(relevant []models.HistoryEvent, cfg models.ScheduleConfig, attemptCount int, now time.Time) *time.Time {
	requested, ok := lastRequested(relevant)
	if !ok {
		// Never requested; remove it now.
		return &now
	}

	if requested.Timestamp.Add(cfg.MaintenanceScan()).After(now) {
		// Not expired; the broker has not yet had time to honor it.
		return nil
	}

	if cfg.AttemptsUnlimited() || attemptCount < cfg.MaxAttempts {
		return &now
	}
	return nil
}

// lastRequested returns the most recent optOutRequested event, if any.
func lastRequested(relevant []models.HistoryEvent) (models.HistoryEvent, bool) {
	for i := len(relevant) - 1; i >= 0; i-- {
		if relevant[i].Type == models.EventOptOutRequested {
			return relevant[i], true
		}
	}
	return models.HistoryEvent{}, false
}

// trailingErrorCount counts the consecutive error events since the last
// non-error event.
func trailingErrorCount(relevant []models.HistoryEvent) int {
	n := 0
	for i := len(relevant) - 1; i >= 0; i-- {
		if !relevant[i].IsError() {
			break
		}
		n++
	}
	return n
}

// relevantOptOutEvents filters the tuple's log down to the events that
// drive one record's opt-out schedule: everything tagged with the record
// plus the scan-level outcome events.
func relevantOptOutEvents(ordered []models.HistoryEvent, extractedProfileID string) []models.HistoryEvent {
	relevant := make([]models.HistoryEvent, 0, len(ordered))
	for _, ev := range ordered {
		if ev.MatchesRecord(extractedProfileID) {
			relevant = append(relevant, ev)
			continue
		}
		if ev.ExtractedProfileID == "" {
			switch ev.Type {
			case models.EventNoMatchFound, models.EventMatchesFound:
				relevant = append(relevant, ev)
			}
		}
	}
	return relevant
}
