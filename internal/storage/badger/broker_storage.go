package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/expunge/internal/interfaces"
	"github.com/ternarybob/expunge/internal/models"
)

// BrokerStorage implements the BrokerStorage interface for Badger
type BrokerStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewBrokerStorage creates a new BrokerStorage instance
func NewBrokerStorage(db *BadgerDB, logger arbor.ILogger) interfaces.BrokerStorage {
	return &BrokerStorage{db: db, logger: logger}
}

func (s *BrokerStorage) SaveBroker(ctx context.Context, broker *models.Broker) error {
	if broker.ID == "" {
		return fmt.Errorf("broker ID is required")
	}
	if err := s.db.Store().Upsert("broker:"+broker.ID, broker); err != nil {
		return fmt.Errorf("failed to save broker: %w", err)
	}
	return nil
}

func (s *BrokerStorage) GetBroker(ctx context.Context, brokerID string) (*models.Broker, error) {
	var broker models.Broker
	if err := s.db.Store().Get("broker:"+brokerID, &broker); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("broker not found: %s", brokerID)
		}
		return nil, fmt.Errorf("failed to get broker: %w", err)
	}
	return &broker, nil
}

func (s *BrokerStorage) ListBrokers(ctx context.Context) ([]*models.Broker, error) {
	var brokers []models.Broker
	if err := s.db.Store().Find(&brokers, badgerhold.Where("ID").Ne("").SortBy("Name")); err != nil {
		return nil, fmt.Errorf("failed to list brokers: %w", err)
	}

	result := make([]*models.Broker, len(brokers))
	for i := range brokers {
		result[i] = &brokers[i]
	}
	return result, nil
}

func (s *BrokerStorage) ChildBrokers(ctx context.Context, parentID string) ([]*models.Broker, error) {
	var brokers []models.Broker
	if err := s.db.Store().Find(&brokers, badgerhold.Where("ParentID").Eq(parentID)); err != nil {
		return nil, fmt.Errorf("failed to list child brokers of %s: %w", parentID, err)
	}

	result := make([]*models.Broker, len(brokers))
	for i := range brokers {
		result[i] = &brokers[i]
	}
	return result, nil
}
