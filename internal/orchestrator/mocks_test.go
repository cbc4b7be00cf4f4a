package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/expunge/internal/interfaces"
	"github.com/ternarybob/expunge/internal/models"
)

// memoryStore is an in-memory Store for orchestrator tests.
type memoryStore struct {
	mu         sync.Mutex
	brokers    map[string]*models.Broker
	queries    map[string]*models.ProfileQuery
	profiles   map[string]*models.ExtractedProfile
	scanJobs   map[string]*models.ScanJobData
	optOutJobs map[string]*models.OptOutJobData
	events     []models.HistoryEvent
	seq        uint64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		brokers:    make(map[string]*models.Broker),
		queries:    make(map[string]*models.ProfileQuery),
		profiles:   make(map[string]*models.ExtractedProfile),
		scanJobs:   make(map[string]*models.ScanJobData),
		optOutJobs: make(map[string]*models.OptOutJobData),
	}
}

func (s *memoryStore) SaveBroker(_ context.Context, b *models.Broker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brokers[b.ID] = b
	return nil
}

func (s *memoryStore) GetBroker(_ context.Context, id string) (*models.Broker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.brokers[id]
	if !ok {
		return nil, fmt.Errorf("broker not found: %s", id)
	}
	return b, nil
}

func (s *memoryStore) ListBrokers(_ context.Context) ([]*models.Broker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Broker, 0, len(s.brokers))
	for _, b := range s.brokers {
		out = append(out, b)
	}
	return out, nil
}

func (s *memoryStore) ChildBrokers(_ context.Context, parentID string) ([]*models.Broker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Broker
	for _, b := range s.brokers {
		if b.ParentID == parentID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *memoryStore) SaveProfileQuery(_ context.Context, q *models.ProfileQuery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries[q.ID] = q
	return nil
}

func (s *memoryStore) GetProfileQuery(_ context.Context, id string) (*models.ProfileQuery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.queries[id]
	if !ok {
		return nil, fmt.Errorf("profile query not found: %s", id)
	}
	return q, nil
}

func (s *memoryStore) ListProfileQueries(_ context.Context) ([]*models.ProfileQuery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.ProfileQuery, 0, len(s.queries))
	for _, q := range s.queries {
		out = append(out, q)
	}
	return out, nil
}

func (s *memoryStore) SaveExtractedProfile(_ context.Context, p *models.ExtractedProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *p
	s.profiles[p.ID] = &copied
	return nil
}

func (s *memoryStore) GetExtractedProfile(_ context.Context, id string) (*models.ExtractedProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return nil, fmt.Errorf("extracted record not found: %s", id)
	}
	copied := *p
	return &copied, nil
}

func (s *memoryStore) ListExtractedProfiles(_ context.Context, brokerID, profileQueryID string) ([]*models.ExtractedProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.ExtractedProfile
	for _, p := range s.profiles {
		if p.BrokerID == brokerID && p.ProfileQueryID == profileQueryID {
			copied := *p
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *memoryStore) SetRemovedDate(_ context.Context, id string, removed *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return fmt.Errorf("extracted record not found: %s", id)
	}
	p.RemovedDate = removed
	return nil
}

func (s *memoryStore) SaveScanJob(_ context.Context, job *models.ScanJobData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scanJobs[job.Key()] = job
	return nil
}

func (s *memoryStore) GetScanJob(_ context.Context, brokerID, profileQueryID string) (*models.ScanJobData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.scanJobs[brokerID+"|"+profileQueryID]
	if !ok {
		return nil, fmt.Errorf("scan job not found: %s|%s", brokerID, profileQueryID)
	}
	return job, nil
}

func (s *memoryStore) ListScanJobs(_ context.Context) ([]*models.ScanJobData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.ScanJobData, 0, len(s.scanJobs))
	for _, j := range s.scanJobs {
		out = append(out, j)
	}
	return out, nil
}

func (s *memoryStore) UpdateScanPreferredRunDate(_ context.Context, brokerID, profileQueryID string, date *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.scanJobs[brokerID+"|"+profileQueryID]
	if !ok {
		return fmt.Errorf("scan job not found: %s|%s", brokerID, profileQueryID)
	}
	job.PreferredRunDate = date
	return nil
}

func (s *memoryStore) UpdateScanLastRunDate(_ context.Context, brokerID, profileQueryID string, date time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.scanJobs[brokerID+"|"+profileQueryID]
	if !ok {
		return fmt.Errorf("scan job not found: %s|%s", brokerID, profileQueryID)
	}
	job.LastRunDate = &date
	return nil
}

func (s *memoryStore) SaveOptOutJob(_ context.Context, job *models.OptOutJobData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.optOutJobs[job.Key()] = job
	return nil
}

func (s *memoryStore) optOutJob(brokerID, profileQueryID, recordID string) (*models.OptOutJobData, error) {
	job, ok := s.optOutJobs[brokerID+"|"+profileQueryID+"|"+recordID]
	if !ok {
		return nil, fmt.Errorf("opt-out job not found: %s", recordID)
	}
	return job, nil
}

func (s *memoryStore) GetOptOutJob(_ context.Context, brokerID, profileQueryID, recordID string) (*models.OptOutJobData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.optOutJob(brokerID, profileQueryID, recordID)
}

func (s *memoryStore) ListOptOutJobs(_ context.Context, brokerID, profileQueryID string) ([]*models.OptOutJobData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.OptOutJobData
	for _, j := range s.optOutJobs {
		if j.BrokerID == brokerID && j.ProfileQueryID == profileQueryID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (s *memoryStore) UpdateOptOutPreferredRunDate(_ context.Context, brokerID, profileQueryID, recordID string, date *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.optOutJob(brokerID, profileQueryID, recordID)
	if err != nil {
		return err
	}
	job.PreferredRunDate = date
	return nil
}

func (s *memoryStore) UpdateOptOutLastRunDate(_ context.Context, brokerID, profileQueryID, recordID string, date time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.optOutJob(brokerID, profileQueryID, recordID)
	if err != nil {
		return err
	}
	job.LastRunDate = &date
	return nil
}

func (s *memoryStore) IncrementOptOutAttempts(_ context.Context, brokerID, profileQueryID, recordID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.optOutJob(brokerID, profileQueryID, recordID)
	if err != nil {
		return 0, err
	}
	job.AttemptCount++
	return job.AttemptCount, nil
}

func (s *memoryStore) SetFirstSubmissionDate(_ context.Context, brokerID, profileQueryID, recordID string, date time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.optOutJob(brokerID, profileQueryID, recordID)
	if err != nil {
		return err
	}
	if job.SubmittedSuccessfullyDate == nil {
		job.SubmittedSuccessfullyDate = &date
	}
	return nil
}

func (s *memoryStore) MarkPixelFired(_ context.Context, brokerID, profileQueryID, recordID, milestone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, err := s.optOutJob(brokerID, profileQueryID, recordID)
	if err != nil {
		return err
	}
	switch milestone {
	case "submitted":
		job.SubmittedPixelFired = true
	case "confirmed_week1":
		job.ConfirmedWeek1PixelFired = true
	case "confirmed_week2":
		job.ConfirmedWeek2PixelFired = true
	}
	return nil
}

func (s *memoryStore) AppendEvent(_ context.Context, ev models.HistoryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	ev.Seq = s.seq
	s.events = append(s.events, ev)
	return nil
}

func (s *memoryStore) ScanEvents(_ context.Context, brokerID, profileQueryID string) ([]models.HistoryEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.HistoryEvent
	for _, ev := range s.events {
		if ev.BrokerID == brokerID && ev.ProfileQueryID == profileQueryID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *memoryStore) OptOutEvents(_ context.Context, brokerID, profileQueryID, recordID string) ([]models.HistoryEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.HistoryEvent
	for _, ev := range s.events {
		if ev.BrokerID == brokerID && ev.ProfileQueryID == profileQueryID && ev.ExtractedProfileID == recordID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// eventTypes returns the tuple's event types in append order.
func (s *memoryStore) eventTypes(brokerID, profileQueryID string) []models.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.EventType
	for _, ev := range s.events {
		if ev.BrokerID == brokerID && ev.ProfileQueryID == profileQueryID {
			out = append(out, ev.Type)
		}
	}
	return out
}

// stubScanRunner returns canned records or a canned error.
type stubScanRunner struct {
	records []*models.ExtractedProfile
	err     error
	calls   int
}

func (r *stubScanRunner) Scan(_ context.Context, _ *models.Broker, _ *models.ProfileQuery) ([]*models.ExtractedProfile, error) {
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	out := make([]*models.ExtractedProfile, len(r.records))
	for i, p := range r.records {
		copied := *p
		out[i] = &copied
	}
	return out, nil
}

type stubOptOutRunner struct {
	err   error
	calls int
}

func (r *stubOptOutRunner) OptOut(_ context.Context, _ *models.Broker, _ *models.ProfileQuery, _ *models.ExtractedProfile) error {
	r.calls++
	return r.err
}

// captureTelemetry records fired events for assertions.
type captureTelemetry struct {
	mu         sync.Mutex
	events     []interfaces.TelemetryEvent
	mismatches []models.Mismatch
}

func (c *captureTelemetry) Fire(ev interfaces.TelemetryEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *captureTelemetry) FireMismatch(m models.Mismatch) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mismatches = append(c.mismatches, m)
}
