package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/expunge/internal/models"
)

// BrokerStorage provides access to broker definitions.
type BrokerStorage interface {
	SaveBroker(ctx context.Context, broker *models.Broker) error
	GetBroker(ctx context.Context, brokerID string) (*models.Broker, error)
	ListBrokers(ctx context.Context) ([]*models.Broker, error)
	// ChildBrokers returns the brokers declaring parentID as their parent.
	ChildBrokers(ctx context.Context, parentID string) ([]*models.Broker, error)
}

// ProfileStorage provides access to profile queries and extracted records.
type ProfileStorage interface {
	SaveProfileQuery(ctx context.Context, query *models.ProfileQuery) error
	GetProfileQuery(ctx context.Context, queryID string) (*models.ProfileQuery, error)
	ListProfileQueries(ctx context.Context) ([]*models.ProfileQuery, error)

	SaveExtractedProfile(ctx context.Context, profile *models.ExtractedProfile) error
	GetExtractedProfile(ctx context.Context, profileID string) (*models.ExtractedProfile, error)
	ListExtractedProfiles(ctx context.Context, brokerID, profileQueryID string) ([]*models.ExtractedProfile, error)
	// SetRemovedDate updates only the record's removed date; nil clears it.
	SetRemovedDate(ctx context.Context, profileID string, removed *time.Time) error
}

// JobStorage provides access to scan and opt-out scheduling state.
type JobStorage interface {
	SaveScanJob(ctx context.Context, job *models.ScanJobData) error
	GetScanJob(ctx context.Context, brokerID, profileQueryID string) (*models.ScanJobData, error)
	ListScanJobs(ctx context.Context) ([]*models.ScanJobData, error)
	UpdateScanPreferredRunDate(ctx context.Context, brokerID, profileQueryID string, date *time.Time) error
	UpdateScanLastRunDate(ctx context.Context, brokerID, profileQueryID string, date time.Time) error

	SaveOptOutJob(ctx context.Context, job *models.OptOutJobData) error
	GetOptOutJob(ctx context.Context, brokerID, profileQueryID, extractedProfileID string) (*models.OptOutJobData, error)
	ListOptOutJobs(ctx context.Context, brokerID, profileQueryID string) ([]*models.OptOutJobData, error)
	UpdateOptOutPreferredRunDate(ctx context.Context, brokerID, profileQueryID, extractedProfileID string, date *time.Time) error
	UpdateOptOutLastRunDate(ctx context.Context, brokerID, profileQueryID, extractedProfileID string, date time.Time) error
	IncrementOptOutAttempts(ctx context.Context, brokerID, profileQueryID, extractedProfileID string) (int, error)
	// SetFirstSubmissionDate is write-once; calls after the first are no-ops.
	SetFirstSubmissionDate(ctx context.Context, brokerID, profileQueryID, extractedProfileID string, date time.Time) error
	// MarkPixelFired flips one of the telemetry milestone flags.
	MarkPixelFired(ctx context.Context, brokerID, profileQueryID, extractedProfileID, milestone string) error
}

// EventStorage is the append-only history event log. Events are returned
// in append order; they are never mutated or deleted.
type EventStorage interface {
	AppendEvent(ctx context.Context, event models.HistoryEvent) error
	// ScanEvents returns every event for the tuple, opt-out events included.
	ScanEvents(ctx context.Context, brokerID, profileQueryID string) ([]models.HistoryEvent, error)
	// OptOutEvents returns the events tagged with the extracted record.
	OptOutEvents(ctx context.Context, brokerID, profileQueryID, extractedProfileID string) ([]models.HistoryEvent, error)
}

// Store is the composite persistent-store contract consumed by the core.
type Store interface {
	BrokerStorage
	ProfileStorage
	JobStorage
	EventStorage
}
