package badger

import (
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/expunge/internal/common"
	"github.com/ternarybob/expunge/internal/interfaces"
)

// Manager bundles the Badger-backed storage implementations behind the
// composite Store contract.
type Manager struct {
	interfaces.BrokerStorage
	interfaces.ProfileStorage
	interfaces.JobStorage
	interfaces.EventStorage

	db     *BadgerDB
	logger arbor.ILogger
}

// NewManager opens the Badger database and wires the storage layers.
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		BrokerStorage:  NewBrokerStorage(db, logger),
		ProfileStorage: NewProfileStorage(db, logger),
		JobStorage:     NewJobStorage(db, logger),
		EventStorage:   NewEventStorage(db, logger),
		db:             db,
		logger:         logger,
	}

	logger.Info().Msg("Badger storage manager initialized")

	return manager, nil
}

// Close closes the underlying database.
func (m *Manager) Close() error {
	return m.db.Close()
}
