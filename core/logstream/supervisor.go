package logstream

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"finetune-orchestrator/core/connector"
	"finetune-orchestrator/core/models"
)

// TransportState identifies the streaming task's current transport phase.
// Transport selection is modeled as an explicit state machine so it can be
// tested without network mocking.
type TransportState string

const (
	StateConnectingPrimary TransportState = "connecting-primary"
	StateStreamingPrimary  TransportState = "streaming-primary"
	StateFallingBack       TransportState = "falling-back"
	StatePolling           TransportState = "polling"
	StateRetryingPrimary   TransportState = "retrying-primary"
)

// Options configures a streaming supervisor.
type Options struct {
	PollInterval    time.Duration // REST fallback poll interval
	RetryBackoff    time.Duration // initial delay before re-attempting the duplex transport
	MaxRetryBackoff time.Duration
}

// DefaultOptions returns the intervals used when none are configured.
func DefaultOptions() Options {
	return Options{
		PollInterval:    2 * time.Second,
		RetryBackoff:    5 * time.Second,
		MaxRetryBackoff: 2 * time.Minute,
	}
}

// Supervisor runs the streaming task for one job. Exactly one Supervisor is
// active per job id; the orchestrator owns its lifecycle and closes the
// buffer only once the job reaches a terminal state.
type Supervisor struct {
	jobID    string
	conn     connector.Connector
	streamer connector.LogStreamer // nil when the provider has no duplex endpoint
	buffer   *Buffer
	opts     Options
	log      *logrus.Entry
}

// NewSupervisor creates the streaming task for one job. If the connector
// also implements connector.LogStreamer its duplex endpoint is preferred;
// otherwise the task polls permanently.
func NewSupervisor(jobID string, conn connector.Connector, buffer *Buffer, opts Options, log *logrus.Logger) *Supervisor {
	streamer, _ := conn.(connector.LogStreamer)
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultOptions().PollInterval
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultOptions().RetryBackoff
	}
	if opts.MaxRetryBackoff <= 0 {
		opts.MaxRetryBackoff = DefaultOptions().MaxRetryBackoff
	}
	return &Supervisor{
		jobID:    jobID,
		conn:     conn,
		streamer: streamer,
		buffer:   buffer,
		opts:     opts,
		log:      log.WithFields(logrus.Fields{"component": "logstream", "job_id": jobID}),
	}
}

// Buffer returns the buffer entries are appended to.
func (s *Supervisor) Buffer() *Buffer {
	return s.buffer
}

// Run drives the transport state machine until ctx is cancelled. It returns
// without closing the buffer; the orchestrator closes it after the final
// drain so the stream never terminates before the job does.
func (s *Supervisor) Run(ctx context.Context) {
	state := StateConnectingPrimary
	if s.streamer == nil {
		state = StatePolling
	}
	backoff := s.opts.RetryBackoff
	var nextRetry time.Time

	for ctx.Err() == nil {
		switch state {
		case StateConnectingPrimary, StateRetryingPrimary:
			stream, err := s.streamer.OpenLogStream(ctx, s.jobID, s.buffer.LastCursor())
			if err != nil {
				s.log.WithError(err).Debug("duplex transport unavailable")
				state = StateFallingBack
				continue
			}
			backoff = s.opts.RetryBackoff
			state = StateStreamingPrimary
			if err := s.consumeStream(ctx, stream); err != nil {
				s.log.WithError(err).Debug("duplex transport dropped")
			}
			if ctx.Err() != nil {
				return
			}
			state = StateFallingBack

		case StateFallingBack:
			nextRetry = time.Now().Add(backoff)
			backoff *= 2
			if backoff > s.opts.MaxRetryBackoff {
				backoff = s.opts.MaxRetryBackoff
			}
			state = StatePolling

		case StatePolling:
			s.pollOnce(ctx)
			if s.streamer != nil && time.Now().After(nextRetry) {
				state = StateRetryingPrimary
				continue
			}
			select {
			case <-time.After(s.opts.PollInterval):
			case <-ctx.Done():
				return
			}
		}
	}
}

// Drain performs one final poll so entries emitted between the last poll and
// the job's terminal transition are not lost.
func (s *Supervisor) Drain(ctx context.Context) {
	s.pollOnce(ctx)
}

func (s *Supervisor) pollOnce(ctx context.Context) {
	entries, err := s.conn.PollLogs(ctx, s.jobID, s.buffer.LastCursor())
	if err != nil {
		// Transient poll failures are retried on the next tick, not
		// surfaced to subscribers.
		s.log.WithError(err).Debug("log poll failed")
		return
	}
	s.buffer.Append(entries...)
}

// consumeStream receives entries from an open duplex stream until it fails,
// the remote closes it, or ctx is cancelled.
func (s *Supervisor) consumeStream(ctx context.Context, stream connector.LogStream) error {
	defer stream.Close()

	type recvResult struct {
		entry models.LogEntry
		err   error
	}
	results := make(chan recvResult)
	go func() {
		for {
			entry, err := stream.Recv()
			select {
			case results <- recvResult{entry, err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case r := <-results:
			if r.err != nil {
				if errors.Is(r.err, io.EOF) {
					return nil
				}
				return r.err
			}
			s.buffer.Append(r.entry)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
