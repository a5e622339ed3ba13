package ledger

import (
	"context"
	"log"
	"time"
)

type aggregateJob struct {
	key   AggregateKey
	cost  float64
	units int64
}

// Recorder is the write side of the ledger. The event append is synchronous
// and durable before Record returns; the aggregate increments are handed to a
// background worker so the caller's response does not wait on them. When the
// queue is full the increment is applied inline instead of being dropped.
type Recorder struct {
	store Uploader
	jobs  chan aggregateJob
	done  chan struct{}
}

// Uploader is the slice of Store the recorder writes through.
type Uploader interface {
	AppendEvent(ctx context.Context, event *UsageEvent) error
	IncrementAggregate(ctx context.Context, key AggregateKey, costDelta float64, unitsDelta int64) error
}

func NewRecorder(store Uploader, queueSize int) *Recorder {
	r := &Recorder{
		store: store,
		jobs:  make(chan aggregateJob, queueSize),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

func (r *Recorder) run() {
	defer close(r.done)
	for job := range r.jobs {
		r.apply(job)
	}
}

func (r *Recorder) apply(job aggregateJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.store.IncrementAggregate(ctx, job.key, job.cost, job.units); err != nil {
		// The event log is the source of truth; a lost increment shows up
		// as drift until the key's first read falls back to SumSpend.
		log.Printf("ledger: aggregate increment failed for %s/%s/%s %s: %v",
			job.key.TenantID, job.key.UserID, job.key.ToolID, job.key.Period, err)
	}
}

// Record appends the event and schedules the matching day and month counter
// increments. Denied events carry no cost and never touch the aggregates.
func (r *Recorder) Record(ctx context.Context, event *UsageEvent) error {
	if err := r.store.AppendEvent(ctx, event); err != nil {
		return err
	}

	if event.Decision == DecisionDenied {
		return nil
	}

	at := event.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	for _, period := range []PeriodType{PeriodDay, PeriodMonth} {
		job := aggregateJob{
			key:   Key(event.TenantID, event.UserID, event.ToolID, period, at),
			cost:  event.CostUSD,
			units: event.Units,
		}
		select {
		case r.jobs <- job:
		default:
			r.apply(job)
		}
	}

	return nil
}

// Close drains pending increments and stops the worker.
func (r *Recorder) Close() {
	close(r.jobs)
	<-r.done
}
