package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/expunge/internal/interfaces"
	"github.com/ternarybob/expunge/internal/models"
)

// ProfileStorage implements the ProfileStorage interface for Badger
type ProfileStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewProfileStorage creates a new ProfileStorage instance
func NewProfileStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ProfileStorage {
	return &ProfileStorage{db: db, logger: logger}
}

func (s *ProfileStorage) SaveProfileQuery(ctx context.Context, query *models.ProfileQuery) error {
	if query.ID == "" {
		return fmt.Errorf("profile query ID is required")
	}
	if err := s.db.Store().Upsert("pq:"+query.ID, query); err != nil {
		return fmt.Errorf("failed to save profile query: %w", err)
	}
	return nil
}

func (s *ProfileStorage) GetProfileQuery(ctx context.Context, queryID string) (*models.ProfileQuery, error) {
	var query models.ProfileQuery
	if err := s.db.Store().Get("pq:"+queryID, &query); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("profile query not found: %s", queryID)
		}
		return nil, fmt.Errorf("failed to get profile query: %w", err)
	}
	return &query, nil
}

func (s *ProfileStorage) ListProfileQueries(ctx context.Context) ([]*models.ProfileQuery, error) {
	var queries []models.ProfileQuery
	if err := s.db.Store().Find(&queries, badgerhold.Where("ID").Ne("").SortBy("ID")); err != nil {
		return nil, fmt.Errorf("failed to list profile queries: %w", err)
	}

	result := make([]*models.ProfileQuery, len(queries))
	for i := range queries {
		result[i] = &queries[i]
	}
	return result, nil
}

func (s *ProfileStorage) SaveExtractedProfile(ctx context.Context, profile *models.ExtractedProfile) error {
	if profile.ID == "" {
		return fmt.Errorf("extracted record ID is required")
	}
	if err := s.db.Store().Upsert("xp:"+profile.ID, profile); err != nil {
		return fmt.Errorf("failed to save extracted record: %w", err)
	}
	return nil
}

func (s *ProfileStorage) GetExtractedProfile(ctx context.Context, profileID string) (*models.ExtractedProfile, error) {
	var profile models.ExtractedProfile
	if err := s.db.Store().Get("xp:"+profileID, &profile); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("extracted record not found: %s", profileID)
		}
		return nil, fmt.Errorf("failed to get extracted record: %w", err)
	}
	return &profile, nil
}

func (s *ProfileStorage) ListExtractedProfiles(ctx context.Context, brokerID, profileQueryID string) ([]*models.ExtractedProfile, error) {
	var profiles []models.ExtractedProfile
	query := badgerhold.Where("BrokerID").Eq(brokerID).And("ProfileQueryID").Eq(profileQueryID).SortBy("CreatedAt")
	if err := s.db.Store().Find(&profiles, query); err != nil {
		return nil, fmt.Errorf("failed to list extracted records: %w", err)
	}

	result := make([]*models.ExtractedProfile, len(profiles))
	for i := range profiles {
		result[i] = &profiles[i]
	}
	return result, nil
}

func (s *ProfileStorage) SetRemovedDate(ctx context.Context, profileID string, removed *time.Time) error {
	profile, err := s.GetExtractedProfile(ctx, profileID)
	if err != nil {
		return err
	}
	profile.RemovedDate = removed
	return s.SaveExtractedProfile(ctx, profile)
}
