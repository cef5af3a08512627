// Package orchestrator submits jobs through connected connectors, owns the
// job state machine, and supervises one log streaming task per active job.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"finetune-orchestrator/core/connection"
	"finetune-orchestrator/core/connector"
	"finetune-orchestrator/core/fterr"
	"finetune-orchestrator/core/logstream"
	"finetune-orchestrator/core/models"
)

// Options configures the orchestrator's timing behavior.
type Options struct {
	PollInterval        time.Duration // status poll interval per job
	ProvisioningCeiling time.Duration // max time a job may sit before Running
	Stream              logstream.Options
}

// DefaultOptions returns the intervals used when none are configured.
func DefaultOptions() Options {
	return Options{
		PollInterval:        5 * time.Second,
		ProvisioningCeiling: 15 * time.Minute,
		Stream:              logstream.DefaultOptions(),
	}
}

// Store persists job snapshots for the façade layer. Persistence is
// best-effort; the in-process records remain authoritative.
type Store interface {
	SaveJob(job models.Job) error
	SaveEvent(event models.JobEvent) error
}

// jobTask is the in-process record for one job plus its supervision state.
type jobTask struct {
	mu         sync.Mutex
	job        models.Job
	events     []models.JobEvent
	notify     chan struct{} // closed and replaced on each transition
	cancelAsk  bool
	supervisor *logstream.Supervisor
	stop       context.CancelFunc
	done       chan struct{}
}

// Orchestrator coordinates job submission, status polling, cancellation, and
// log stream supervision. Each job's polling loop runs independently, so a
// stalled provider for one job never delays status updates for another.
type Orchestrator struct {
	manager *connection.Manager
	store   Store // may be nil
	opts    Options
	log     *logrus.Entry

	mu    sync.RWMutex
	tasks map[string]*jobTask

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an orchestrator. store may be nil when no snapshot persistence
// is wired in.
func New(manager *connection.Manager, store Store, opts Options, log *logrus.Logger) *Orchestrator {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultOptions().PollInterval
	}
	if opts.ProvisioningCeiling <= 0 {
		opts.ProvisioningCeiling = DefaultOptions().ProvisioningCeiling
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		manager: manager,
		store:   store,
		opts:    opts,
		log:     log.WithField("component", "orchestrator"),
		tasks:   make(map[string]*jobTask),
		rootCtx: ctx,
		cancel:  cancel,
	}
}

// Close stops all polling and streaming tasks and waits for them to finish.
// Jobs still in flight remain in their last known state.
func (o *Orchestrator) Close() {
	o.cancel()
	o.wg.Wait()
}

func validateConfig(cfg models.TrainingConfig) error {
	switch {
	case cfg.PlatformName == "":
		return &fterr.ValidationError{Field: "platform_name", Reason: "required"}
	case cfg.ResourceName == "":
		return &fterr.ValidationError{Field: "resource_name", Reason: "required"}
	case cfg.BaseModel == "":
		return &fterr.ValidationError{Field: "base_model", Reason: "required"}
	case cfg.DatasetURI == "":
		return &fterr.ValidationError{Field: "dataset_uri", Reason: "required"}
	}
	return nil
}

// Submit validates the config, delegates submission to the platform's
// connector, records the job in state Pending, and spawns its polling loop
// and log streaming task.
func (o *Orchestrator) Submit(ctx context.Context, cfg models.TrainingConfig) (models.Job, error) {
	if err := validateConfig(cfg); err != nil {
		return models.Job{}, err
	}

	conn, err := o.manager.Live(cfg.PlatformName)
	if err != nil {
		return models.Job{}, err
	}
	// Both the declared capability and the contract matter: the registry
	// rejects declared-but-unimplemented, this rejects the converse.
	trainer, ok := conn.(connector.TrainingConnector)
	if !ok || !conn.Platform().HasCapability(models.CapabilityTraining) {
		return models.Job{}, &fterr.ValidationError{Field: "platform_name", Reason: "platform does not support training"}
	}

	callCtx, cancel := context.WithTimeout(ctx, o.manager.CallTimeout())
	defer cancel()
	jobID, err := trainer.SubmitJob(callCtx, cfg)
	if err != nil {
		return models.Job{}, fmt.Errorf("submit to %s: %w", cfg.PlatformName, err)
	}

	job := models.Job{
		ID:           jobID,
		PlatformName: cfg.PlatformName,
		State:        models.JobStatePending,
		Config:       cfg,
		CreatedAt:    time.Now(),
	}

	taskCtx, stop := context.WithCancel(o.rootCtx)
	task := &jobTask{
		job:    job,
		notify: make(chan struct{}),
		stop:   stop,
		done:   make(chan struct{}),
	}
	task.supervisor = logstream.NewSupervisor(jobID, conn, logstream.NewBuffer(), o.opts.Stream, o.log.Logger)

	o.mu.Lock()
	if _, exists := o.tasks[jobID]; exists {
		o.mu.Unlock()
		stop()
		return models.Job{}, fmt.Errorf("provider %s reused job id %s", cfg.PlatformName, jobID)
	}
	o.tasks[jobID] = task
	o.mu.Unlock()

	o.recordEvent(task, nil, models.JobStatePending, "submitted")
	o.snapshot(task)

	o.wg.Add(2)
	go func() {
		defer o.wg.Done()
		task.supervisor.Run(taskCtx)
	}()
	go func() {
		defer o.wg.Done()
		o.pollLoop(taskCtx, task, conn, trainer)
	}()

	o.log.WithFields(logrus.Fields{"platform": cfg.PlatformName, "job_id": jobID}).Info("job submitted")
	return job, nil
}

// Get returns a snapshot of one job.
func (o *Orchestrator) Get(jobID string) (models.Job, error) {
	task, err := o.task(jobID)
	if err != nil {
		return models.Job{}, err
	}
	task.mu.Lock()
	defer task.mu.Unlock()
	return task.job, nil
}

// List returns snapshots of all jobs, including historical terminal ones.
func (o *Orchestrator) List() []models.Job {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]models.Job, 0, len(o.tasks))
	for _, task := range o.tasks {
		task.mu.Lock()
		out = append(out, task.job)
		task.mu.Unlock()
	}
	return out
}

// Events returns the recorded state transitions for one job, in order.
func (o *Orchestrator) Events(jobID string) ([]models.JobEvent, error) {
	task, err := o.task(jobID)
	if err != nil {
		return nil, err
	}
	task.mu.Lock()
	defer task.mu.Unlock()
	out := make([]models.JobEvent, len(task.events))
	copy(out, task.events)
	return out, nil
}

// Cancel marks cancellation intent for a job. The polling loop observes the
// intent on its next iteration, asks the provider to stop the job, and
// transitions it to Cancelled. Cancelling a job already in a terminal state
// is a warning no-op that returns the unchanged state.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (models.JobState, error) {
	task, err := o.task(jobID)
	if err != nil {
		return "", err
	}
	task.mu.Lock()
	defer task.mu.Unlock()
	if task.job.State.Terminal() {
		o.log.WithField("job_id", jobID).Warnf("cancel ignored: job already %s", task.job.State)
		return task.job.State, nil
	}
	task.cancelAsk = true
	return task.job.State, nil
}

// SubscribeLogs returns a channel delivering the job's log entries with
// cursor > fromCursor, in non-decreasing cursor order with no duplicates.
// The channel closes only once the job has reached a terminal state and the
// buffered entries are drained, or when ctx is cancelled.
func (o *Orchestrator) SubscribeLogs(ctx context.Context, jobID string, fromCursor uint64) (<-chan models.LogEntry, error) {
	task, err := o.task(jobID)
	if err != nil {
		return nil, err
	}
	return task.supervisor.Buffer().Subscribe(ctx, fromCursor), nil
}

// SubscribeEvents returns a channel delivering the job's state transitions
// in the order they occur, starting with a replay of transitions already
// recorded. The channel closes after a terminal transition is delivered or
// when ctx is cancelled.
func (o *Orchestrator) SubscribeEvents(ctx context.Context, jobID string) (<-chan models.JobEvent, error) {
	task, err := o.task(jobID)
	if err != nil {
		return nil, err
	}

	ch := make(chan models.JobEvent, 16)
	go func() {
		defer close(ch)
		delivered := 0
		for {
			task.mu.Lock()
			batch := task.events[delivered:]
			notify := task.notify
			task.mu.Unlock()

			for _, e := range batch {
				select {
				case ch <- e:
					delivered++
				case <-ctx.Done():
					return
				}
				if e.To.Terminal() {
					return
				}
			}

			select {
			case <-notify:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (o *Orchestrator) task(jobID string) (*jobTask, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	task, ok := o.tasks[jobID]
	if !ok {
		return nil, &fterr.NotFoundError{Kind: "job", ID: jobID}
	}
	return task, nil
}

// pollLoop drives one job's state machine from provider status polls until
// the job reaches a terminal state or the orchestrator shuts down.
func (o *Orchestrator) pollLoop(ctx context.Context, task *jobTask, conn connector.Connector, trainer connector.TrainingConnector) {
	log := o.log.WithFields(logrus.Fields{"platform": task.job.PlatformName, "job_id": task.job.ID})
	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()
	defer close(task.done)

	provisionDeadline := task.job.CreatedAt.Add(o.opts.ProvisioningCeiling)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if o.observeCancel(ctx, task, trainer, log) {
			o.finish(ctx, task)
			return
		}

		callCtx, cancel := context.WithTimeout(ctx, o.manager.CallTimeout())
		remote, err := trainer.GetJobStatus(callCtx, task.job.ID)
		cancel()
		if err != nil {
			var nf *fterr.NotFoundError
			if errors.As(err, &nf) {
				o.transition(task, models.JobStateFailed, "job unknown to provider")
				o.finish(ctx, task)
				return
			}
			// Transient failures retry on the next tick; one slow or failing
			// provider call never escalates to a job failure by itself.
			log.WithError(err).Debug("status poll failed")
		} else {
			o.applyRemoteState(ctx, task, trainer, remote, log)
		}

		task.mu.Lock()
		state := task.job.State
		task.mu.Unlock()
		if state.Terminal() {
			o.finish(ctx, task)
			return
		}

		if (state == models.JobStatePending || state == models.JobStateProvisioning) && time.Now().After(provisionDeadline) {
			o.cancelRemote(ctx, task, trainer, log)
			o.transition(task, models.JobStateFailed, "provisioning timeout")
			o.finish(ctx, task)
			return
		}
	}
}

// observeCancel acts on pending cancellation intent. Returns true when the
// job was transitioned to Cancelled.
func (o *Orchestrator) observeCancel(ctx context.Context, task *jobTask, trainer connector.TrainingConnector, log *logrus.Entry) bool {
	task.mu.Lock()
	asked := task.cancelAsk
	task.mu.Unlock()
	if !asked {
		return false
	}
	o.cancelRemote(ctx, task, trainer, log)
	o.transition(task, models.JobStateCancelled, "cancelled by user")
	return true
}

func (o *Orchestrator) cancelRemote(ctx context.Context, task *jobTask, trainer connector.TrainingConnector, log *logrus.Entry) {
	callCtx, cancel := context.WithTimeout(ctx, o.manager.CallTimeout())
	defer cancel()
	if err := trainer.CancelJob(callCtx, task.job.ID); err != nil {
		log.WithError(err).Warn("provider cancel failed")
	}
}

// applyRemoteState folds the provider's reported state into the local state
// machine. A provider reporting success without a retrievable artifact is a
// failure, not a success.
func (o *Orchestrator) applyRemoteState(ctx context.Context, task *jobTask, trainer connector.TrainingConnector, remote models.JobState, log *logrus.Entry) {
	switch remote {
	case models.JobStateProvisioning:
		o.transition(task, models.JobStateProvisioning, "provider confirmed allocation")
	case models.JobStateRunning:
		o.transition(task, models.JobStateRunning, "provider confirmed start")
	case models.JobStateCompleted:
		callCtx, cancel := context.WithTimeout(ctx, o.manager.CallTimeout())
		exists, err := trainer.ArtifactExists(callCtx, task.job.ID)
		cancel()
		if err != nil {
			log.WithError(err).Debug("artifact check failed, retrying next poll")
			return
		}
		if !exists {
			o.transition(task, models.JobStateFailed, "artifact missing")
			return
		}
		o.transition(task, models.JobStateCompleted, "provider confirmed success")
	case models.JobStateFailed:
		o.transition(task, models.JobStateFailed, "provider reported failure")
	case models.JobStateCancelled:
		o.transition(task, models.JobStateCancelled, "provider reported cancellation")
	}
}

// transition applies a state change if the state machine permits it.
// Impermissible transitions are warning no-ops, which keeps caller retries
// idempotent.
func (o *Orchestrator) transition(task *jobTask, to models.JobState, reason string) {
	task.mu.Lock()
	from := task.job.State
	if !CanTransition(from, to) {
		task.mu.Unlock()
		if from != to {
			o.log.WithField("job_id", task.job.ID).Warnf("ignoring transition %s -> %s", from, to)
		}
		return
	}
	now := time.Now()
	task.job.State = to
	task.job.StateReason = reason
	if to == models.JobStateRunning && task.job.StartedAt == nil {
		task.job.StartedAt = &now
	}
	if to.Terminal() {
		task.job.CompletedAt = &now
	}
	task.mu.Unlock()

	o.recordEvent(task, &from, to, reason)
	o.snapshot(task)
	o.log.WithFields(logrus.Fields{"job_id": task.job.ID, "from": from, "to": to}).Info(reason)
}

// finish drains the log stream one last time and closes it. The stream
// closes only here, after the terminal transition, never earlier.
func (o *Orchestrator) finish(ctx context.Context, task *jobTask) {
	drainCtx, cancel := context.WithTimeout(ctx, o.manager.CallTimeout())
	task.supervisor.Drain(drainCtx)
	cancel()
	task.stop()

	task.mu.Lock()
	task.job.LogCursor = task.supervisor.Buffer().LastCursor()
	task.mu.Unlock()
	task.supervisor.Buffer().Close()
	o.snapshot(task)
}

func (o *Orchestrator) recordEvent(task *jobTask, from *models.JobState, to models.JobState, reason string) {
	event := models.JobEvent{JobID: task.job.ID, At: time.Now(), From: from, To: to, Reason: reason}

	task.mu.Lock()
	task.events = append(task.events, event)
	notify := task.notify
	task.notify = make(chan struct{})
	task.mu.Unlock()
	close(notify)

	if o.store != nil {
		if err := o.store.SaveEvent(event); err != nil {
			o.log.WithField("job_id", task.job.ID).WithError(err).Warn("event snapshot failed")
		}
	}
}

func (o *Orchestrator) snapshot(task *jobTask) {
	if o.store == nil {
		return
	}
	task.mu.Lock()
	job := task.job
	task.mu.Unlock()
	if err := o.store.SaveJob(job); err != nil {
		o.log.WithField("job_id", job.ID).WithError(err).Warn("job snapshot failed")
	}
}
