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

// JobStorage implements the JobStorage interface for Badger
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{db: db, logger: logger}
}

func scanJobKey(brokerID, profileQueryID string) string {
	return "scanjob:" + brokerID + "|" + profileQueryID
}

func optOutJobKey(brokerID, profileQueryID, extractedProfileID string) string {
	return "optoutjob:" + brokerID + "|" + profileQueryID + "|" + extractedProfileID
}

func (s *JobStorage) SaveScanJob(ctx context.Context, job *models.ScanJobData) error {
	if job.BrokerID == "" || job.ProfileQueryID == "" {
		return fmt.Errorf("scan job requires broker and profile query IDs")
	}
	if err := s.db.Store().Upsert(scanJobKey(job.BrokerID, job.ProfileQueryID), job); err != nil {
		return fmt.Errorf("failed to save scan job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetScanJob(ctx context.Context, brokerID, profileQueryID string) (*models.ScanJobData, error) {
	var job models.ScanJobData
	if err := s.db.Store().Get(scanJobKey(brokerID, profileQueryID), &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("scan job not found: %s|%s", brokerID, profileQueryID)
		}
		return nil, fmt.Errorf("failed to get scan job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) ListScanJobs(ctx context.Context) ([]*models.ScanJobData, error) {
	var jobs []models.ScanJobData
	if err := s.db.Store().Find(&jobs, badgerhold.Where("BrokerID").Ne("").SortBy("BrokerID", "ProfileQueryID")); err != nil {
		return nil, fmt.Errorf("failed to list scan jobs: %w", err)
	}

	result := make([]*models.ScanJobData, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) UpdateScanPreferredRunDate(ctx context.Context, brokerID, profileQueryID string, date *time.Time) error {
	job, err := s.GetScanJob(ctx, brokerID, profileQueryID)
	if err != nil {
		return err
	}
	job.PreferredRunDate = date
	return s.SaveScanJob(ctx, job)
}

func (s *JobStorage) UpdateScanLastRunDate(ctx context.Context, brokerID, profileQueryID string, date time.Time) error {
	job, err := s.GetScanJob(ctx, brokerID, profileQueryID)
	if err != nil {
		return err
	}
	job.LastRunDate = &date
	return s.SaveScanJob(ctx, job)
}

func (s *JobStorage) SaveOptOutJob(ctx context.Context, job *models.OptOutJobData) error {
	if job.BrokerID == "" || job.ProfileQueryID == "" || job.ExtractedProfileID == "" {
		return fmt.Errorf("opt-out job requires broker, profile query and record IDs")
	}
	key := optOutJobKey(job.BrokerID, job.ProfileQueryID, job.ExtractedProfileID)
	if err := s.db.Store().Upsert(key, job); err != nil {
		return fmt.Errorf("failed to save opt-out job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetOptOutJob(ctx context.Context, brokerID, profileQueryID, extractedProfileID string) (*models.OptOutJobData, error) {
	var job models.OptOutJobData
	if err := s.db.Store().Get(optOutJobKey(brokerID, profileQueryID, extractedProfileID), &job); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("opt-out job not found: %s|%s|%s", brokerID, profileQueryID, extractedProfileID)
		}
		return nil, fmt.Errorf("failed to get opt-out job: %w", err)
	}
	return &job, nil
}

func (s *JobStorage) ListOptOutJobs(ctx context.Context, brokerID, profileQueryID string) ([]*models.OptOutJobData, error) {
	var jobs []models.OptOutJobData
	query := badgerhold.Where("BrokerID").Eq(brokerID).And("ProfileQueryID").Eq(profileQueryID).SortBy("CreatedAt")
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return nil, fmt.Errorf("failed to list opt-out jobs: %w", err)
	}

	result := make([]*models.OptOutJobData, len(jobs))
	for i := range jobs {
		result[i] = &jobs[i]
	}
	return result, nil
}

func (s *JobStorage) UpdateOptOutPreferredRunDate(ctx context.Context, brokerID, profileQueryID, extractedProfileID string, date *time.Time) error {
	job, err := s.GetOptOutJob(ctx, brokerID, profileQueryID, extractedProfileID)
	if err != nil {
		return err
	}
	job.PreferredRunDate = date
	return s.SaveOptOutJob(ctx, job)
}

func (s *JobStorage) UpdateOptOutLastRunDate(ctx context.Context, brokerID, profileQueryID, extractedProfileID string, date time.Time) error {
	job, err := s.GetOptOutJob(ctx, brokerID, profileQueryID, extractedProfileID)
	if err != nil {
		return err
	}
	job.LastRunDate = &date
	return s.SaveOptOutJob(ctx, job)
}

func (s *JobStorage) IncrementOptOutAttempts(ctx context.Context, brokerID, profileQueryID, extractedProfileID string) (int, error) {
	job, err := s.GetOptOutJob(ctx, brokerID, profileQueryID, extractedProfileID)
	if err != nil {
		return 0, err
	}
	job.AttemptCount++
	if err := s.SaveOptOutJob(ctx, job); err != nil {
		return 0, err
	}
	return job.AttemptCount, nil
}

func (s *JobStorage) SetFirstSubmissionDate(ctx context.Context, brokerID, profileQueryID, extractedProfileID string, date time.Time) error {
	job, err := s.GetOptOutJob(ctx, brokerID, profileQueryID, extractedProfileID)
	if err != nil {
		return err
	}
	if job.SubmittedSuccessfullyDate != nil {
		return nil
	}
	job.SubmittedSuccessfullyDate = &date
	return s.SaveOptOutJob(ctx, job)
}

func (s *JobStorage) MarkPixelFired(ctx context.Context, brokerID, profileQueryID, extractedProfileID, milestone string) error {
	job, err := s.GetOptOutJob(ctx, brokerID, profileQueryID, extractedProfileID)
	if err != nil {
		return err
	}
	switch milestone {
	case models.MilestoneSubmitted:
		job.SubmittedPixelFired = true
	case models.MilestoneConfirmedWeek1:
		job.ConfirmedWeek1PixelFired = true
	case models.MilestoneConfirmedWeek2:
		job.ConfirmedWeek2PixelFired = true
	default:
		return fmt.Errorf("unknown milestone: %s", milestone)
	}
	return s.SaveOptOutJob(ctx, job)
}
