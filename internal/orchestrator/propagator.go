package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/expunge/internal/interfaces"
	"github.com/ternarybob/expunge/internal/models"
)

// Propagator pushes a confirmed parent removal into the scan cadence of
// the parent's declared child brokers, so mirrors re-check promptly
// instead of waiting out their own maintenance interval.
type Propagator struct {
	store  interfaces.Store
	logger arbor.ILogger
}

// NewPropagator creates a propagator over the store.
func NewPropagator(store interfaces.Store, logger arbor.ILogger) *Propagator {
	return &Propagator{store: store, logger: logger}
}

// OptOutConfirmed reschedules every child broker's scan for the profile
// query to now plus the child's own confirm interval. A child already
// scheduled sooner is left alone, which makes repeat calls idempotent.
func (p *Propagator) OptOutConfirmed(ctx context.Context, parent *models.Broker, profileQueryID string, now time.Time) error {
	children, err := p.store.ChildBrokers(ctx, parent.ID)
	if err != nil {
		return fmt.Errorf("failed to fetch child brokers of %s: %w", parent.ID, err)
	}
	if len(children) == 0 {
		return nil
	}

	for _, child := range children {
		job, err := p.store.GetScanJob(ctx, child.ID, profileQueryID)
		if err != nil {
			p.logger.Warn().Err(err).
				Str("child", child.ID).
				Str("profile_query", profileQueryID).
				Msg("Child broker has no scan job for query; skipping propagation")
			continue
		}

		target := now.Add(child.Schedule.ConfirmOptOutScan())
		if job.PreferredRunDate != nil && job.PreferredRunDate.Before(target) {
			continue
		}

		if err := p.store.UpdateScanPreferredRunDate(ctx, child.ID, profileQueryID, &target); err != nil {
			return fmt.Errorf("failed to reschedule child %s: %w", child.ID, err)
		}

		p.logger.Debug().
			Str("parent", parent.ID).
			Str("child", child.ID).
			Str("profile_query", profileQueryID).
			Msg("Pulled child scan forward after parent confirmation")
	}

	return nil
}
