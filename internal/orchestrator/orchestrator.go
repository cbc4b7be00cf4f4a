// Package orchestrator executes single scan and opt-out attempts: it
// drives the external automation collaborators, reconciles the observed
// records against storage, appends history events and persists the
// recomputed preferred run dates.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/expunge/internal/common"
	"github.com/ternarybob/expunge/internal/interfaces"
	"github.com/ternarybob/expunge/internal/models"
	"github.com/ternarybob/expunge/internal/schedule"
)

// ErrMissingIdentifiers is returned when a tuple lacks its broker,
// profile query or extracted record identifier. Checked before any
// collaborator call or log write; never retried.
var ErrMissingIdentifiers = errors.New("broker or profile query identifiers missing")

// Orchestrator runs one operation at a time for a tuple.
type Orchestrator struct {
	store      interfaces.Store
	scans      interfaces.ScanRunner
	optOuts    interfaces.OptOutRunner
	telemetry  interfaces.EventService
	propagator *Propagator
	logger     arbor.ILogger
	now        func() time.Time
}

// New creates an orchestrator over the given collaborators.
func New(store interfaces.Store, scans interfaces.ScanRunner, optOuts interfaces.OptOutRunner, telemetry interfaces.EventService, logger arbor.ILogger) *Orchestrator {
	return &Orchestrator{
		store:      store,
		scans:      scans,
		optOuts:    optOuts,
		telemetry:  telemetry,
		propagator: NewPropagator(store, logger),
		logger:     logger,
		now:        time.Now,
	}
}

// RunScan executes one scan for the (broker, profile query) tuple and
// reconciles the observed records into storage. The scan's preferred
// date is recomputed and persisted on success and failure alike.
func (o *Orchestrator) RunScan(ctx context.Context, brokerID, profileQueryID string) error {
	if brokerID == "" || profileQueryID == "" {
		return ErrMissingIdentifiers
	}

	broker, err := o.store.GetBroker(ctx, brokerID)
	if err != nil {
		return fmt.Errorf("failed to load broker %s: %w", brokerID, err)
	}
	query, err := o.store.GetProfileQuery(ctx, profileQueryID)
	if err != nil {
		return fmt.Errorf("failed to load profile query %s: %w", profileQueryID, err)
	}

	now := o.now()
	if err := o.store.AppendEvent(ctx, models.NewHistoryEvent(brokerID, profileQueryID, models.EventScanStarted, now)); err != nil {
		return fmt.Errorf("failed to append scan start event: %w", err)
	}

	observed, scanErr := o.scans.Scan(ctx, broker, query)
	if scanErr != nil {
		kind := models.ClassifyError(scanErr)
		ev := models.NewHistoryEvent(brokerID, profileQueryID, models.EventError, o.now())
		ev.ErrorKind = kind
		if err := o.store.AppendEvent(ctx, ev); err != nil {
			o.logger.Warn().Err(err).Str("broker", brokerID).Msg("Failed to append scan error event")
		}
		if err := o.updateScanDates(ctx, broker, query); err != nil {
			o.logger.Warn().Err(err).Str("broker", brokerID).Msg("Failed to update scan dates after error")
		}
		return fmt.Errorf("scan failed for broker %s: %w", brokerID, scanErr)
	}

	if err := o.reconcile(ctx, broker, query, observed); err != nil {
		return err
	}

	if err := o.store.UpdateScanLastRunDate(ctx, brokerID, profileQueryID, o.now()); err != nil {
		return fmt.Errorf("failed to update scan last run date: %w", err)
	}
	return o.updateScanDates(ctx, broker, query)
}

// reconcile diffs the observed records against storage and appends the
// resulting lifecycle events.
func (o *Orchestrator) reconcile(ctx context.Context, broker *models.Broker, query *models.ProfileQuery, observed []*models.ExtractedProfile) error {
	stored, err := o.store.ListExtractedProfiles(ctx, broker.ID, query.ID)
	if err != nil {
		return fmt.Errorf("failed to list stored records: %w", err)
	}

	storedByIdentifier := make(map[string]*models.ExtractedProfile, len(stored))
	for _, s := range stored {
		storedByIdentifier[s.Identifier()] = s
	}

	now := o.now()
	var created []*models.ExtractedProfile
	var reappeared []*models.ExtractedProfile
	seen := make(map[string]bool, len(observed))

	for _, record := range observed {
		identifier := record.Identifier()
		seen[identifier] = true

		existing, ok := storedByIdentifier[identifier]
		if !ok {
			record.ID = common.NewExtractedProfileID()
			record.BrokerID = broker.ID
			record.ProfileQueryID = query.ID
			record.CreatedAt = now
			if err := o.store.SaveExtractedProfile(ctx, record); err != nil {
				return fmt.Errorf("failed to save extracted record: %w", err)
			}
			created = append(created, record)
			continue
		}

		if existing.Removed() {
			// The broker re-listed a record it had removed.
			if err := o.store.SetRemovedDate(ctx, existing.ID, nil); err != nil {
				return fmt.Errorf("failed to clear removed date: %w", err)
			}
			if err := o.store.AppendEvent(ctx, models.NewOptOutEvent(broker.ID, query.ID, existing.ID, models.EventReAppearance, now)); err != nil {
				return fmt.Errorf("failed to append reappearance event: %w", err)
			}
			reappeared = append(reappeared, existing)
		}
		// Still observed without a removed date: steady state, no
		// record-level event.
	}

	// Every completed scan appends exactly one outcome event. A steady
	// state scan still records matchesFound: the outcome is what moves
	// the scan's preferred date forward to the next maintenance cycle.
	if len(observed) > 0 {
		ev := models.NewHistoryEvent(broker.ID, query.ID, models.EventMatchesFound, now)
		ev.MatchCount = len(observed)
		if err := o.store.AppendEvent(ctx, ev); err != nil {
			return fmt.Errorf("failed to append matches event: %w", err)
		}
	} else {
		if err := o.store.AppendEvent(ctx, models.NewHistoryEvent(broker.ID, query.ID, models.EventNoMatchFound, now)); err != nil {
			return fmt.Errorf("failed to append no-match event: %w", err)
		}
	}

	for _, record := range created {
		job := &models.OptOutJobData{
			BrokerID:           broker.ID,
			ProfileQueryID:     query.ID,
			ExtractedProfileID: record.ID,
			CreatedAt:          now,
		}
		job.PreferredRunDate = o.nextOptOutDate(ctx, broker, query, record.ID, nil, 0)
		if err := o.store.SaveOptOutJob(ctx, job); err != nil {
			return fmt.Errorf("failed to create opt-out job: %w", err)
		}
	}

	for _, record := range reappeared {
		if err := o.recomputeOptOutDate(ctx, broker, query, record.ID); err != nil {
			return err
		}
	}

	for _, existing := range stored {
		if seen[existing.Identifier()] || existing.Removed() {
			continue
		}
		if err := o.confirmRemoval(ctx, broker, query, existing); err != nil {
			return err
		}
	}

	return nil
}

// confirmRemoval marks a no-longer-observed record as removed: this is
// the broker honoring the opt-out.
func (o *Orchestrator) confirmRemoval(ctx context.Context, broker *models.Broker, query *models.ProfileQuery, record *models.ExtractedProfile) error {
	now := o.now()
	if err := o.store.SetRemovedDate(ctx, record.ID, &now); err != nil {
		return fmt.Errorf("failed to set removed date: %w", err)
	}
	if err := o.store.AppendEvent(ctx, models.NewOptOutEvent(broker.ID, query.ID, record.ID, models.EventOptOutConfirmed, now)); err != nil {
		return fmt.Errorf("failed to append confirmation event: %w", err)
	}
	if err := o.store.UpdateOptOutPreferredRunDate(ctx, broker.ID, query.ID, record.ID, nil); err != nil {
		return fmt.Errorf("failed to clear opt-out date: %w", err)
	}

	o.fireConfirmationMilestones(ctx, broker.ID, query.ID, record.ID, now)

	if err := o.propagator.OptOutConfirmed(ctx, broker, query.ID, now); err != nil {
		o.logger.Warn().Err(err).Str("broker", broker.ID).Msg("Failed to propagate confirmation to child brokers")
	}

	o.logger.Info().
		Str("broker", broker.ID).
		Str("profile_query", query.ID).
		Str("record", record.ID).
		Msg("Opt-out confirmed; record no longer listed")
	return nil
}

// fireConfirmationMilestones emits the once-only telemetry milestones for
// a confirmed removal, keyed on the age of the first submission.
func (o *Orchestrator) fireConfirmationMilestones(ctx context.Context, brokerID, profileQueryID, recordID string, now time.Time) {
	job, err := o.store.GetOptOutJob(ctx, brokerID, profileQueryID, recordID)
	if err != nil || job == nil || job.SubmittedSuccessfullyDate == nil {
		return
	}

	age := now.Sub(*job.SubmittedSuccessfullyDate)
	fire := func(milestone string, fired bool) {
		if fired {
			return
		}
		if err := o.store.MarkPixelFired(ctx, brokerID, profileQueryID, recordID, milestone); err != nil {
			o.logger.Warn().Err(err).Str("milestone", milestone).Msg("Failed to mark telemetry milestone")
			return
		}
		o.telemetry.Fire(interfaces.TelemetryEvent{
			Name:               "optout." + milestone,
			BrokerID:           brokerID,
			ProfileQueryID:     profileQueryID,
			ExtractedProfileID: recordID,
			Fields:             map[string]interface{}{"submission_age_hours": int(age.Hours())},
		})
	}

	if age >= 14*24*time.Hour {
		fire(models.MilestoneConfirmedWeek2, job.ConfirmedWeek2PixelFired)
	} else if age >= 7*24*time.Hour {
		fire(models.MilestoneConfirmedWeek1, job.ConfirmedWeek1PixelFired)
	}
}

// RunOptOut executes one removal attempt for an extracted record. A
// record already carrying a removed date is terminal and skipped.
func (o *Orchestrator) RunOptOut(ctx context.Context, brokerID, profileQueryID string, record *models.ExtractedProfile) error {
	if record != nil && record.Removed() {
		return nil
	}
	if brokerID == "" || profileQueryID == "" || record == nil || record.ID == "" {
		return ErrMissingIdentifiers
	}

	broker, err := o.store.GetBroker(ctx, brokerID)
	if err != nil {
		return fmt.Errorf("failed to load broker %s: %w", brokerID, err)
	}
	query, err := o.store.GetProfileQuery(ctx, profileQueryID)
	if err != nil {
		return fmt.Errorf("failed to load profile query %s: %w", profileQueryID, err)
	}

	now := o.now()
	if err := o.store.AppendEvent(ctx, models.NewOptOutEvent(brokerID, profileQueryID, record.ID, models.EventOptOutStarted, now)); err != nil {
		return fmt.Errorf("failed to append opt-out start event: %w", err)
	}

	attempts, err := o.store.IncrementOptOutAttempts(ctx, brokerID, profileQueryID, record.ID)
	if err != nil {
		return fmt.Errorf("failed to increment attempt count: %w", err)
	}

	optOutErr := o.optOuts.OptOut(ctx, broker, query, record)
	if optOutErr != nil {
		kind := models.ClassifyError(optOutErr)
		ev := models.NewOptOutEvent(brokerID, profileQueryID, record.ID, models.EventError, o.now())
		ev.ErrorKind = kind
		if err := o.store.AppendEvent(ctx, ev); err != nil {
			o.logger.Warn().Err(err).Str("record", record.ID).Msg("Failed to append opt-out error event")
		}
		if err := o.finishOptOut(ctx, broker, query, record.ID, attempts); err != nil {
			o.logger.Warn().Err(err).Str("record", record.ID).Msg("Failed to update opt-out dates after error")
		}
		return fmt.Errorf("opt-out failed for record %s on broker %s: %w", record.ID, brokerID, optOutErr)
	}

	requestedAt := o.now()
	if err := o.store.AppendEvent(ctx, models.NewOptOutEvent(brokerID, profileQueryID, record.ID, models.EventOptOutRequested, requestedAt)); err != nil {
		return fmt.Errorf("failed to append opt-out requested event: %w", err)
	}
	if err := o.store.SetFirstSubmissionDate(ctx, brokerID, profileQueryID, record.ID, requestedAt); err != nil {
		return fmt.Errorf("failed to record first submission: %w", err)
	}

	o.fireSubmittedPixel(ctx, brokerID, profileQueryID, record.ID)

	return o.finishOptOut(ctx, broker, query, record.ID, attempts)
}

// fireSubmittedPixel emits the write-once submission telemetry event.
func (o *Orchestrator) fireSubmittedPixel(ctx context.Context, brokerID, profileQueryID, recordID string) {
	job, err := o.store.GetOptOutJob(ctx, brokerID, profileQueryID, recordID)
	if err != nil || job == nil || job.SubmittedPixelFired {
		return
	}
	if err := o.store.MarkPixelFired(ctx, brokerID, profileQueryID, recordID, models.MilestoneSubmitted); err != nil {
		o.logger.Warn().Err(err).Str("record", recordID).Msg("Failed to mark submission milestone")
		return
	}
	o.telemetry.Fire(interfaces.TelemetryEvent{
		Name:               "optout.submitted",
		BrokerID:           brokerID,
		ProfileQueryID:     profileQueryID,
		ExtractedProfileID: recordID,
	})
}

// finishOptOut persists the attempt's bookkeeping: last run date and the
// recomputed opt-out and scan preferred dates.
func (o *Orchestrator) finishOptOut(ctx context.Context, broker *models.Broker, query *models.ProfileQuery, recordID string, attempts int) error {
	now := o.now()
	if err := o.store.UpdateOptOutLastRunDate(ctx, broker.ID, query.ID, recordID, now); err != nil {
		return fmt.Errorf("failed to update opt-out last run date: %w", err)
	}

	events, err := o.store.ScanEvents(ctx, broker.ID, query.ID)
	if err != nil {
		return fmt.Errorf("failed to load history events: %w", err)
	}

	job, err := o.store.GetOptOutJob(ctx, broker.ID, query.ID, recordID)
	if err != nil {
		return fmt.Errorf("failed to load opt-out job: %w", err)
	}

	next := schedule.NextOptOutDate(job.PreferredRunDate, events, recordID, broker.Schedule, attempts, now)
	if err := o.store.UpdateOptOutPreferredRunDate(ctx, broker.ID, query.ID, recordID, next); err != nil {
		return fmt.Errorf("failed to update opt-out date: %w", err)
	}

	return o.updateScanDates(ctx, broker, query)
}

// nextOptOutDate computes a record's preferred date from the freshly
// appended history, logging rather than failing on read errors so record
// creation is never lost to a date lookup.
func (o *Orchestrator) nextOptOutDate(ctx context.Context, broker *models.Broker, query *models.ProfileQuery, recordID string, current *time.Time, attempts int) *time.Time {
	events, err := o.store.ScanEvents(ctx, broker.ID, query.ID)
	if err != nil {
		o.logger.Warn().Err(err).Str("record", recordID).Msg("Failed to load events for opt-out date")
		return current
	}
	return schedule.NextOptOutDate(current, events, recordID, broker.Schedule, attempts, o.now())
}

// recomputeOptOutDate refreshes one record's opt-out schedule after its
// history changed.
func (o *Orchestrator) recomputeOptOutDate(ctx context.Context, broker *models.Broker, query *models.ProfileQuery, recordID string) error {
	job, err := o.store.GetOptOutJob(ctx, broker.ID, query.ID, recordID)
	if err != nil {
		return fmt.Errorf("failed to load opt-out job for %s: %w", recordID, err)
	}
	next := o.nextOptOutDate(ctx, broker, query, recordID, job.PreferredRunDate, job.AttemptCount)
	if err := o.store.UpdateOptOutPreferredRunDate(ctx, broker.ID, query.ID, recordID, next); err != nil {
		return fmt.Errorf("failed to update opt-out date for %s: %w", recordID, err)
	}
	return nil
}

// updateScanDates recomputes and persists the tuple's scan preferred
// date from its current history.
func (o *Orchestrator) updateScanDates(ctx context.Context, broker *models.Broker, query *models.ProfileQuery) error {
	events, err := o.store.ScanEvents(ctx, broker.ID, query.ID)
	if err != nil {
		return fmt.Errorf("failed to load history events: %w", err)
	}

	job, err := o.store.GetScanJob(ctx, broker.ID, query.ID)
	if err != nil {
		return fmt.Errorf("failed to load scan job: %w", err)
	}

	next := schedule.NextScanDate(job.PreferredRunDate, events, broker.Schedule, query.Deprecated, o.now())
	if err := o.store.UpdateScanPreferredRunDate(ctx, broker.ID, query.ID, next); err != nil {
		return fmt.Errorf("failed to update scan date: %w", err)
	}
	return nil
}
