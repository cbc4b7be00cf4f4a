package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/expunge/internal/interfaces"
	"github.com/ternarybob/expunge/internal/models"
)

// EventStorage implements the append-only history log on Badger. Insert
// with a store sequence assigns each event a monotonically increasing
// Seq, which preserves append order even when wall clocks collide.
type EventStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewEventStorage creates a new EventStorage instance
func NewEventStorage(db *BadgerDB, logger arbor.ILogger) interfaces.EventStorage {
	return &EventStorage{db: db, logger: logger}
}

func (s *EventStorage) AppendEvent(ctx context.Context, event models.HistoryEvent) error {
	if event.BrokerID == "" || event.ProfileQueryID == "" {
		return fmt.Errorf("history event requires broker and profile query IDs")
	}
	if err := s.db.Store().Insert(badgerhold.NextSequence(), &event); err != nil {
		return fmt.Errorf("failed to append history event: %w", err)
	}
	return nil
}

func (s *EventStorage) ScanEvents(ctx context.Context, brokerID, profileQueryID string) ([]models.HistoryEvent, error) {
	var events []models.HistoryEvent
	query := badgerhold.Where("BrokerID").Eq(brokerID).And("ProfileQueryID").Eq(profileQueryID).SortBy("Seq")
	if err := s.db.Store().Find(&events, query); err != nil {
		return nil, fmt.Errorf("failed to load scan history: %w", err)
	}
	return events, nil
}

func (s *EventStorage) OptOutEvents(ctx context.Context, brokerID, profileQueryID, extractedProfileID string) ([]models.HistoryEvent, error) {
	var events []models.HistoryEvent
	query := badgerhold.Where("BrokerID").Eq(brokerID).
		And("ProfileQueryID").Eq(profileQueryID).
		And("ExtractedProfileID").Eq(extractedProfileID).
		SortBy("Seq")
	if err := s.db.Store().Find(&events, query); err != nil {
		return nil, fmt.Errorf("failed to load opt-out history: %w", err)
	}
	return events, nil
}
