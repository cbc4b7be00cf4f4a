// Package queue turns tuples that need work into bounded concurrent
// execution of operation collections. Collections run one step at a
// time internally because they share an automation session; across
// collections the manager runs up to the configured concurrency.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/expunge/internal/interfaces"
	"github.com/ternarybob/expunge/internal/models"
)

// ErrCannotInterrupt is returned when a scheduled pass is requested
// while another pass is still in flight. Scheduled work is simply
// deferred to the next cycle; nothing is cancelled.
var ErrCannotInterrupt = errors.New("another pass is in flight and cannot be interrupted")

// ErrSuperseded marks collections abandoned because a newer batch of the
// same mode replaced their generation.
var ErrSuperseded = errors.New("collection superseded by a newer run")

// Runner is the slice of the orchestrator the queue needs.
type Runner interface {
	RunScan(ctx context.Context, brokerID, profileQueryID string) error
	RunOptOut(ctx context.Context, brokerID, profileQueryID string, record *models.ExtractedProfile) error
}

// Store is the slice of persistence the queue consults when deciding
// what to run. The full interfaces.Store satisfies it.
type Store interface {
	ListScanJobs(ctx context.Context) ([]*models.ScanJobData, error)
	GetProfileQuery(ctx context.Context, queryID string) (*models.ProfileQuery, error)
	ListOptOutJobs(ctx context.Context, brokerID, profileQueryID string) ([]*models.OptOutJobData, error)
	GetExtractedProfile(ctx context.Context, profileID string) (*models.ExtractedProfile, error)
}

// collection is the ordered work for one (broker, profile query) tuple.
type collection struct {
	brokerID       string
	profileQueryID string
	includeScan    bool
}

// Manager implements interfaces.QueueManager.
type Manager struct {
	store       Store
	runner      Runner
	logger      arbor.ILogger
	concurrency int
	now         func() time.Time

	mu          sync.Mutex
	generations map[interfaces.QueueRunMode]uint64
	active      map[interfaces.QueueRunMode]int
	stopped     bool

	wg sync.WaitGroup
}

// NewManager creates a queue manager executing through the given runner.
func NewManager(store Store, runner Runner, logger arbor.ILogger, concurrency int) *Manager {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Manager{
		store:       store,
		runner:      runner,
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
		generations: make(map[interfaces.QueueRunMode]uint64),
		active:      make(map[interfaces.QueueRunMode]int),
	}
}

// StartManual begins a user-triggered pass. Any manual pass already in
// flight is superseded: its remaining collections stop before their next
// step. A concurrent scheduled pass keeps running untouched.
func (m *Manager) StartManual(ctx context.Context, completion interfaces.QueueCompletion) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.generations[interfaces.RunModeManual]++
	gen := m.generations[interfaces.RunModeManual]
	m.active[interfaces.RunModeManual]++
	// Registered under the lock so Stop cannot pass Wait before a pass
	// admitted here counts.
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Info().Int64("generation", int64(gen)).Msg("Starting manual pass")

	go m.run(ctx, interfaces.RunModeManual, gen, completion)
}

// StartScheduled begins a background pass, refused while any pass is in
// flight: manual work keeps priority and scheduled work waits for the
// next cycle.
func (m *Manager) StartScheduled(ctx context.Context, completion interfaces.QueueCompletion) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return errors.New("queue manager is stopped")
	}
	if m.active[interfaces.RunModeManual] > 0 || m.active[interfaces.RunModeScheduled] > 0 {
		m.mu.Unlock()
		return ErrCannotInterrupt
	}
	m.generations[interfaces.RunModeScheduled]++
	gen := m.generations[interfaces.RunModeScheduled]
	m.active[interfaces.RunModeScheduled]++
	m.wg.Add(1)
	m.mu.Unlock()

	m.logger.Info().Int64("generation", int64(gen)).Msg("Starting scheduled pass")

	go m.run(ctx, interfaces.RunModeScheduled, gen, completion)
	return nil
}

// Stop invalidates every generation and waits for in-flight steps to
// settle. Steps already running are allowed to finish and their writes
// are applied.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	for mode := range m.generations {
		m.generations[mode]++
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// valid reports whether the generation is still the mode's current one.
// Consulted before each step starts, never during: a step caught mid
// flight completes and its write lands (at-least-once semantics).
func (m *Manager) valid(mode interfaces.QueueRunMode, gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.stopped && m.generations[mode] == gen
}

func (m *Manager) run(ctx context.Context, mode interfaces.QueueRunMode, gen uint64, completion interfaces.QueueCompletion) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		m.active[mode]--
		m.mu.Unlock()
	}()

	collections, err := m.buildCollections(ctx, mode)
	if err != nil {
		m.logger.Error().Err(err).Str("mode", string(mode)).Msg("Failed to build operation collections")
		if completion != nil {
			completion(nil)
		}
		return
	}

	var (
		resultMu sync.Mutex
		results  []interfaces.TupleResult
		stepWG   sync.WaitGroup
	)
	sem := make(chan struct{}, m.concurrency)

	for _, c := range collections {
		c := c
		stepWG.Add(1)
		go func() {
			defer stepWG.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if !m.valid(mode, gen) {
				resultMu.Lock()
				results = append(results, interfaces.TupleResult{
					BrokerID:       c.brokerID,
					ProfileQueryID: c.profileQueryID,
					Err:            ErrSuperseded,
				})
				resultMu.Unlock()
				return
			}

			err := m.runCollection(ctx, mode, gen, c)
			resultMu.Lock()
			results = append(results, interfaces.TupleResult{
				BrokerID:       c.brokerID,
				ProfileQueryID: c.profileQueryID,
				Err:            err,
			})
			resultMu.Unlock()
		}()
	}

	stepWG.Wait()

	m.logger.Info().
		Str("mode", string(mode)).
		Int64("generation", int64(gen)).
		Int("collections", len(collections)).
		Msg("Pass finished")

	if completion != nil {
		completion(results)
	}
}

// buildCollections selects the tuples needing work. Manual passes take
// every non-deprecated tuple; scheduled passes take tuples whose scan or
// any opt-out preferred date is due.
func (m *Manager) buildCollections(ctx context.Context, mode interfaces.QueueRunMode) ([]collection, error) {
	jobs, err := m.store.ListScanJobs(ctx)
	if err != nil {
		return nil, err
	}

	now := m.now()
	var collections []collection
	for _, job := range jobs {
		query, err := m.store.GetProfileQuery(ctx, job.ProfileQueryID)
		if err != nil {
			m.logger.Warn().Err(err).Str("profile_query", job.ProfileQueryID).Msg("Skipping tuple with unknown profile query")
			continue
		}
		if query.Deprecated {
			continue
		}

		if mode == interfaces.RunModeManual {
			collections = append(collections, collection{job.BrokerID, job.ProfileQueryID, true})
			continue
		}

		scanDue := job.Due(now)
		optOutDue, err := m.anyOptOutDue(ctx, job.BrokerID, job.ProfileQueryID, now)
		if err != nil {
			return nil, err
		}
		if scanDue || optOutDue {
			collections = append(collections, collection{job.BrokerID, job.ProfileQueryID, scanDue})
		}
	}
	return collections, nil
}

func (m *Manager) anyOptOutDue(ctx context.Context, brokerID, profileQueryID string, now time.Time) (bool, error) {
	jobs, err := m.store.ListOptOutJobs(ctx, brokerID, profileQueryID)
	if err != nil {
		return false, err
	}
	for _, job := range jobs {
		if job.Due(now) {
			return true, nil
		}
	}
	return false, nil
}

// runCollection executes the tuple's steps strictly in order: the scan
// first, then each opt-out that is due once scan reconciliation has
// refreshed the dates. Failures stay local to the tuple.
func (m *Manager) runCollection(ctx context.Context, mode interfaces.QueueRunMode, gen uint64, c collection) error {
	var errs []error

	if c.includeScan {
		if err := m.runner.RunScan(ctx, c.brokerID, c.profileQueryID); err != nil {
			m.logger.Warn().Err(err).
				Str("broker", c.brokerID).
				Str("profile_query", c.profileQueryID).
				Msg("Scan step failed; skipping tuple's opt-outs this pass")
			return err
		}
	}

	optOuts, err := m.store.ListOptOutJobs(ctx, c.brokerID, c.profileQueryID)
	if err != nil {
		return err
	}

	now := m.now()
	for _, job := range optOuts {
		if !job.Due(now) {
			continue
		}
		if !m.valid(mode, gen) {
			errs = append(errs, ErrSuperseded)
			break
		}

		record, err := m.store.GetExtractedProfile(ctx, job.ExtractedProfileID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if record.Removed() {
			continue
		}

		if err := m.runner.RunOptOut(ctx, c.brokerID, c.profileQueryID, record); err != nil {
			// Rescheduling already happened through the recorded error
			// event; the queue itself never retries.
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
