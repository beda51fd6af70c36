package core

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/orrn/printspool/internal/registry"
)

// Registry keys for process-wide counters.
const (
	newPrintCountKey  = "newPrintCount"
	lastPrintCountKey = "lastPrintCount"
	totalPrintTimeKey = "totalPrintTime"
	nbPrintDoneKey    = "nbPrintDone"
	lastPollPrefix    = "lastPoll_"
)

const (
	DefaultMaxWaitingJobs    = 5000
	DefaultReconcileInterval = 500 * time.Millisecond
	defaultIdleTimeout       = 60 * time.Second
)

// Notifier is told about final outcomes after they have been stored.
type Notifier interface {
	JobCompleted(c *Completed)
	JobFailed(f *Failed)
}

// Options configures a Manager. Zero values select the defaults.
type Options struct {
	// MaxRunningJobs caps concurrently executing jobs. Defaults to the
	// number of CPUs.
	MaxRunningJobs int
	// MaxWaitingJobs is the waiting-queue depth at which submissions are
	// rejected with ErrCapacityExceeded.
	MaxWaitingJobs int
	// IdleTimeout is how long an idle worker lingers before exiting.
	IdleTimeout time.Duration
	// ReconcileInterval is the period of the loop that records outcomes.
	ReconcileInterval time.Duration
	// Comparator orders waiting jobs; fixed for the Manager's lifetime.
	Comparator Comparator
	Notifier   Notifier

	// Housekeeping, when set, is queued as low priority work every
	// HousekeepingInterval.
	Housekeeping         func(ctx context.Context)
	HousekeepingInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRunningJobs <= 0 {
		o.MaxRunningJobs = runtime.NumCPU()
	}
	if o.MaxWaitingJobs <= 0 {
		o.MaxWaitingJobs = DefaultMaxWaitingJobs
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = defaultIdleTimeout
	}
	if o.ReconcileInterval <= 0 {
		o.ReconcileInterval = DefaultReconcileInterval
	}
	if o.Comparator == nil {
		o.Comparator = Unordered
	}
	if o.HousekeepingInterval <= 0 {
		o.HousekeepingInterval = time.Hour
	}
	return o
}

// submittedJob is the in-memory handle of a job whose outcome has not been
// recorded yet.
type submittedJob struct {
	future      *Future
	referenceID string
	appID       string
	submittedAt time.Time
}

// Metrics is a snapshot of the counters and gauges.
type Metrics struct {
	RequestsMade            int64
	Completed               int64
	Failures                int64
	AverageTimeSpentRunning time.Duration
	QueueDepth              int
	RunningJobs             int
	Workers                 int
}

// Manager accepts print jobs, runs them on a bounded executor and records
// their outcomes in the registry.
type Manager struct {
	registry registry.Registry
	executor *Executor
	opts     Options

	// admitMu makes the queue depth check and the enqueue one step.
	admitMu sync.Mutex

	mu        sync.Mutex
	submitted []*submittedJob

	housekeepingQueued atomic.Bool

	lifecycleMu sync.Mutex
	started     bool
	stopCh      chan struct{}
	loopDone    chan struct{}
}

// NewManager creates a Manager and its executor. Call Start to begin
// recording outcomes and Shutdown to stop.
func NewManager(reg registry.Registry, opts Options) *Manager {
	opts = opts.withDefaults()
	return &Manager{
		registry: reg,
		executor: NewExecutor(opts.MaxRunningJobs, opts.IdleTimeout, opts.Comparator),
		opts:     opts,
	}
}

// Start launches the reconciliation loop. The loop runs until Shutdown is
// called or ctx is cancelled; cancelling ctx shuts the executor down as
// well, so no job is admitted that would never be recorded.
func (m *Manager) Start(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.executor.IsShutdown() {
		return ErrShutdown
	}
	if m.started {
		return fmt.Errorf("job manager already started")
	}

	m.stopCh = make(chan struct{})
	m.loopDone = make(chan struct{})
	m.started = true
	go m.loop(ctx)

	log.Info().
		Str("component", "jobs").
		Int("max_running_jobs", m.opts.MaxRunningJobs).
		Int("max_waiting_jobs", m.opts.MaxWaitingJobs).
		Dur("reconcile_interval", m.opts.ReconcileInterval).
		Msg("Job manager started")
	return nil
}

// Shutdown stops the reconciliation loop and then terminates the executor
// without draining it. Jobs not yet recorded keep their pending status.
func (m *Manager) Shutdown() {
	m.lifecycleMu.Lock()
	if m.started {
		close(m.stopCh)
		<-m.loopDone
		m.started = false
	}
	m.lifecycleMu.Unlock()

	dropped := m.executor.ShutdownNow()

	m.mu.Lock()
	unrecorded := len(m.submitted)
	m.mu.Unlock()

	log.Info().
		Str("component", "jobs").
		Int("dropped_waiting", dropped).
		Int("unrecorded", unrecorded).
		Msg("Job manager stopped")
}

// Submit admits job if the waiting queue has room, queues it and records it
// as pending. The pending record is written after the job is queued, so a
// poller may briefly see ErrUnknownReference for a job that was accepted.
// Once the job is queued Submit returns nil: a failed pending write is
// logged and the job's final status is still recorded.
func (m *Manager) Submit(ctx context.Context, job Job) error {
	if job == nil || strings.TrimSpace(job.ReferenceID()) == "" {
		return fmt.Errorf("print job reference id is required")
	}

	m.admitMu.Lock()
	waiting := m.executor.Waiting()
	if waiting >= m.opts.MaxWaitingJobs {
		m.admitMu.Unlock()
		return fmt.Errorf("%w: number of waiting requests is %d", ErrCapacityExceeded, waiting)
	}
	if m.executor.IsShutdown() {
		m.admitMu.Unlock()
		return ErrShutdown
	}
	if _, err := m.registry.IncrementInt(ctx, newPrintCountKey, 1); err != nil {
		m.admitMu.Unlock()
		return fmt.Errorf("count print request: %w", err)
	}
	future, err := m.executor.Submit(job)
	m.admitMu.Unlock()
	if err != nil {
		return err
	}

	h := &submittedJob{
		future:      future,
		referenceID: job.ReferenceID(),
		appID:       job.AppID(),
		submittedAt: time.Now(),
	}
	pendingErr := StoreStatus(ctx, m.registry, &Pending{
		RefID:       h.referenceID,
		AppID:       h.appID,
		SubmittedAt: h.submittedAt,
	})

	// Tracked only after the pending write so the loop can never record a
	// final status that the pending write would then overwrite.
	m.mu.Lock()
	m.submitted = append(m.submitted, h)
	m.mu.Unlock()

	if pendingErr != nil {
		log.Warn().
			Str("component", "jobs").
			Str("reference_id", h.referenceID).
			Err(pendingErr).
			Msg("Failed to record pending print job")
	}

	log.Debug().
		Str("component", "jobs").
		Str("reference_id", h.referenceID).
		Str("app_id", h.appID).
		Int("waiting", waiting).
		Msg("Print job submitted")
	return nil
}

// IsDone reports whether a final status exists for referenceID. While the
// job is pending it also records the poll time.
func (m *Manager) IsDone(ctx context.Context, referenceID string) (bool, error) {
	_, done, err := m.CompletedJob(ctx, referenceID)
	if err != nil {
		return false, err
	}
	if !done {
		if err := registry.PutLong(ctx, m.registry, lastPollPrefix+referenceID, time.Now().UnixMilli()); err != nil {
			return false, fmt.Errorf("record status check: %w", err)
		}
	}
	return done, nil
}

// TimeSinceLastStatusCheck is the time elapsed since IsDone last saw the job
// pending. A job that was never polled reports zero.
func (m *Manager) TimeSinceLastStatusCheck(ctx context.Context, referenceID string) (time.Duration, error) {
	now := time.Now()
	last, err := registry.OptLong(ctx, m.registry, lastPollPrefix+referenceID, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	elapsed := now.Sub(time.UnixMilli(last))
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed, nil
}

// CompletedJob returns the final status of a job. ok is false while the job
// is still pending.
func (m *Manager) CompletedJob(ctx context.Context, referenceID string) (s Status, ok bool, err error) {
	s, err = LoadStatus(ctx, m.registry, referenceID)
	if err != nil {
		return nil, false, err
	}
	if s.State() == StatePending {
		return nil, false, nil
	}
	return s, true, nil
}

// Status returns whatever status is stored for referenceID, pending included.
func (m *Manager) Status(ctx context.Context, referenceID string) (Status, error) {
	return LoadStatus(ctx, m.registry, referenceID)
}

// AverageTimeSpentRunning is the cumulative run time divided by the number
// of completed jobs (at least one).
func (m *Manager) AverageTimeSpentRunning(ctx context.Context) (time.Duration, error) {
	total, err := registry.OptLong(ctx, m.registry, totalPrintTimeKey, 0)
	if err != nil {
		return 0, err
	}
	done, err := registry.OptLong(ctx, m.registry, nbPrintDoneKey, 1)
	if err != nil {
		return 0, err
	}
	if done < 1 {
		done = 1
	}
	return time.Duration(total/done) * time.Millisecond, nil
}

func (m *Manager) NumberOfRequestsMade(ctx context.Context) (int64, error) {
	return registry.OptLong(ctx, m.registry, newPrintCountKey, 0)
}

// LastFailureCount is the number of failed jobs recorded. It is never reset.
func (m *Manager) LastFailureCount(ctx context.Context) (int64, error) {
	return registry.OptLong(ctx, m.registry, lastPrintCountKey, 0)
}

func (m *Manager) CompletedCount(ctx context.Context) (int64, error) {
	return registry.OptLong(ctx, m.registry, nbPrintDoneKey, 0)
}

// QueueDepth is the number of jobs waiting for a worker.
func (m *Manager) QueueDepth() int { return m.executor.Waiting() }

// Running is the number of jobs currently executing.
func (m *Manager) Running() int { return m.executor.Running() }

func (m *Manager) Metrics(ctx context.Context) (Metrics, error) {
	var (
		mt  Metrics
		err error
	)
	if mt.RequestsMade, err = m.NumberOfRequestsMade(ctx); err != nil {
		return mt, err
	}
	if mt.Completed, err = m.CompletedCount(ctx); err != nil {
		return mt, err
	}
	if mt.Failures, err = m.LastFailureCount(ctx); err != nil {
		return mt, err
	}
	if mt.AverageTimeSpentRunning, err = m.AverageTimeSpentRunning(ctx); err != nil {
		return mt, err
	}
	mt.QueueDepth = m.executor.Waiting()
	mt.RunningJobs = m.executor.Running()
	mt.Workers = m.executor.Workers()
	return mt, nil
}

func (m *Manager) loop(ctx context.Context) {
	defer close(m.loopDone)

	ticker := time.NewTicker(m.opts.ReconcileInterval)
	defer ticker.Stop()

	var housekeeping <-chan time.Time
	if m.opts.Housekeeping != nil {
		t := time.NewTicker(m.opts.HousekeepingInterval)
		defer t.Stop()
		housekeeping = t.C
	}

	for {
		select {
		case <-m.stopCh:
			return
		case <-ctx.Done():
			dropped := m.executor.ShutdownNow()
			log.Info().
				Str("component", "jobs").
				Int("dropped_waiting", dropped).
				Msg("Job manager context cancelled, executor stopped")
			return
		case <-ticker.C:
			m.reconcile(context.WithoutCancel(ctx))
		case <-housekeeping:
			m.queueHousekeeping()
		}
	}
}

// queueHousekeeping queues one housekeeping run unless the previous one is
// still waiting for a worker.
func (m *Manager) queueHousekeeping() {
	if !m.housekeepingQueued.CompareAndSwap(false, true) {
		log.Debug().Str("component", "jobs").Msg("Housekeeping still queued, skipping tick")
		return
	}
	err := m.executor.Execute(func(ctx context.Context) {
		m.housekeepingQueued.Store(false)
		m.opts.Housekeeping(ctx)
	})
	if err != nil {
		m.housekeepingQueued.Store(false)
		log.Warn().
			Str("component", "jobs").
			Err(err).
			Msg("Failed to queue housekeeping")
	}
}

// reconcile records the outcome of every finished job and forgets it. It is
// the only writer of final statuses and completion counters.
func (m *Manager) reconcile(ctx context.Context) {
	if m.executor.IsShutdown() {
		return
	}

	m.mu.Lock()
	var finished []*submittedJob
	remaining := m.submitted[:0]
	for _, h := range m.submitted {
		if h.future.IsDone() {
			finished = append(finished, h)
		} else {
			remaining = append(remaining, h)
		}
	}
	for i := len(remaining); i < len(m.submitted); i++ {
		m.submitted[i] = nil
	}
	m.submitted = remaining
	m.mu.Unlock()

	for _, h := range finished {
		m.recordOutcome(ctx, h)
	}
}

func (m *Manager) recordOutcome(ctx context.Context, h *submittedJob) {
	res, runErr := h.future.Result()
	now := time.Now()

	switch {
	case runErr == nil:
		c := &Completed{
			RefID:       h.referenceID,
			ReportURI:   res.ReportURI,
			MimeType:    res.MimeType,
			Duration:    now.Sub(h.submittedAt),
			CompletedAt: now,
		}
		if err := StoreStatus(ctx, m.registry, c); err != nil {
			log.Error().
				Str("component", "jobs").
				Str("reference_id", h.referenceID).
				Err(err).
				Msg("Failed to record completed print job")
			m.countFailure(ctx)
			return
		}
		if _, err := m.registry.IncrementInt(ctx, nbPrintDoneKey, 1); err != nil {
			log.Error().Str("component", "jobs").Err(err).Msg("Failed to count completed print job")
		}
		if _, err := m.registry.IncrementLong(ctx, totalPrintTimeKey, c.Duration.Milliseconds()); err != nil {
			log.Error().Str("component", "jobs").Err(err).Msg("Failed to add print time")
		}
		log.Debug().
			Str("component", "jobs").
			Str("reference_id", h.referenceID).
			Dur("duration", c.Duration).
			Msg("Print job completed")
		if m.opts.Notifier != nil {
			m.opts.Notifier.JobCompleted(c)
		}

	case errors.Is(runErr, ErrInterrupted):
		log.Warn().
			Str("component", "jobs").
			Str("reference_id", h.referenceID).
			Err(runErr).
			Msg("Print job interrupted")
		f := &Failed{RefID: h.referenceID, Description: runErr.Error(), Interrupted: true, FailedAt: now}
		if err := StoreStatus(ctx, m.registry, f); err != nil {
			log.Error().Str("component", "jobs").Str("reference_id", h.referenceID).Err(err).Msg("Failed to record interrupted print job")
		}

	default:
		log.Warn().
			Str("component", "jobs").
			Str("reference_id", h.referenceID).
			Err(runErr).
			Msg("Print job failed")
		f := &Failed{RefID: h.referenceID, Description: runErr.Error(), FailedAt: now}
		if err := StoreStatus(ctx, m.registry, f); err != nil {
			log.Error().Str("component", "jobs").Str("reference_id", h.referenceID).Err(err).Msg("Failed to record failed print job")
		}
		m.countFailure(ctx)
		if m.opts.Notifier != nil {
			m.opts.Notifier.JobFailed(f)
		}
	}
}

func (m *Manager) countFailure(ctx context.Context) {
	if _, err := m.registry.IncrementInt(ctx, lastPrintCountKey, 1); err != nil {
		log.Error().Str("component", "jobs").Err(err).Msg("Failed to count print job failure")
	}
}

// tracked is the number of handles awaiting reconciliation.
func (m *Manager) tracked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.submitted)
}
