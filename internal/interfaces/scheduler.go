package interfaces

import "context"

// QueueRunMode distinguishes user-triggered passes from background ones.
type QueueRunMode string

const (
	RunModeManual    QueueRunMode = "manual"
	RunModeScheduled QueueRunMode = "scheduled"
)

// TupleResult reports the outcome of one (broker, profile query)
// operation collection.
type TupleResult struct {
	BrokerID       string
	ProfileQueryID string
	Err            error
}

// QueueCompletion is invoked once every collection of a batch has either
// finished or been superseded.
type QueueCompletion func(results []TupleResult)

// QueueManager schedules operation collections with bounded concurrency.
type QueueManager interface {
	// StartManual begins a user-triggered pass, superseding any manual
	// pass already in flight. Scheduled passes are left untouched.
	StartManual(ctx context.Context, completion QueueCompletion)
	// StartScheduled begins a background pass. It is refused while a
	// manual or scheduled pass is in flight.
	StartScheduled(ctx context.Context, completion QueueCompletion) error
	Stop()
}

// SchedulerService drives periodic scheduled passes.
type SchedulerService interface {
	Start() error
	Stop() error
}
