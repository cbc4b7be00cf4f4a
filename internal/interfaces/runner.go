package interfaces

import (
	"context"

	"github.com/ternarybob/expunge/internal/models"
)

// ScanRunner loads a broker's search results for one profile query and
// returns the currently observed match records. Implementations own the
// automation session; the orchestrator owns reconciliation and events.
type ScanRunner interface {
	Scan(ctx context.Context, broker *models.Broker, query *models.ProfileQuery) ([]*models.ExtractedProfile, error)
}

// OptOutRunner submits one removal request for an extracted record.
type OptOutRunner interface {
	OptOut(ctx context.Context, broker *models.Broker, query *models.ProfileQuery, profile *models.ExtractedProfile) error
}
