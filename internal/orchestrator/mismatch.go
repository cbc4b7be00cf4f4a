package orchestrator

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/expunge/internal/interfaces"
	"github.com/ternarybob/expunge/internal/models"
)

// MismatchCalculator compares the latest match counts of parent and
// child brokers for each shared profile query. Results feed telemetry
// only; no preferred date is touched.
type MismatchCalculator struct {
	store     interfaces.Store
	telemetry interfaces.EventService
	logger    arbor.ILogger
}

// NewMismatchCalculator creates the diagnostic over the store.
func NewMismatchCalculator(store interfaces.Store, telemetry interfaces.EventService, logger arbor.ILogger) *MismatchCalculator {
	return &MismatchCalculator{store: store, telemetry: telemetry, logger: logger}
}

// Calculate walks every parent/child pair and reports their mismatch
// status per profile query.
func (m *MismatchCalculator) Calculate(ctx context.Context) ([]models.Mismatch, error) {
	brokers, err := m.store.ListBrokers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list brokers: %w", err)
	}

	queries, err := m.store.ListProfileQueries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list profile queries: %w", err)
	}

	var results []models.Mismatch
	for _, child := range brokers {
		if !child.IsChild() {
			continue
		}

		for _, query := range queries {
			parentCount, err := m.latestMatchCount(ctx, child.ParentID, query.ID)
			if err != nil {
				return nil, err
			}
			childCount, err := m.latestMatchCount(ctx, child.ID, query.ID)
			if err != nil {
				return nil, err
			}

			mismatch := models.Mismatch{
				ParentBrokerID: child.ParentID,
				ChildBrokerID:  child.ID,
				ProfileQueryID: query.ID,
				ParentMatches:  parentCount,
				ChildMatches:   childCount,
				Status:         models.CompareMatches(parentCount, childCount),
			}
			results = append(results, mismatch)
			m.telemetry.FireMismatch(mismatch)
		}
	}

	return results, nil
}

// latestMatchCount returns the count on the most recent matchesFound
// event for the tuple, or zero when no scan has found matches yet.
func (m *MismatchCalculator) latestMatchCount(ctx context.Context, brokerID, profileQueryID string) (int, error) {
	events, err := m.store.ScanEvents(ctx, brokerID, profileQueryID)
	if err != nil {
		return 0, fmt.Errorf("failed to load events for %s/%s: %w", brokerID, profileQueryID, err)
	}

	count := 0
	for _, ev := range events {
		if ev.Type == models.EventMatchesFound {
			count = ev.MatchCount
		}
	}
	return count, nil
}
