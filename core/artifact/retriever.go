// Package artifact retrieves finished adapter files through the owning
// connector, and optionally persists them to disk or an S3-compatible
// object store.
package artifact

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"finetune-orchestrator/core/connection"
	"finetune-orchestrator/core/connector"
	"finetune-orchestrator/core/fterr"
	"finetune-orchestrator/core/models"
)

// JobLookup resolves a job id to its current record. Satisfied by the
// orchestrator.
type JobLookup interface {
	Get(jobID string) (models.Job, error)
}

// Mirror receives a copy of every fully transferred adapter. Satisfied by
// ObjectStore.
type Mirror interface {
	Upload(ctx context.Context, jobID string, reader io.Reader) (string, error)
}

// Retriever downloads completed job artifacts. Retrieval is permitted only
// for jobs in state Completed; no partial artifacts are ever surfaced.
type Retriever struct {
	manager *connection.Manager
	jobs    JobLookup
	mirror  Mirror
	log     *logrus.Entry
}

// RetrieverOption overrides retriever defaults.
type RetrieverOption func(*Retriever)

// WithMirror copies every fetched adapter into the given mirror as a side
// effect of the transfer. Mirror failures are logged, never surfaced to the
// caller.
func WithMirror(m Mirror) RetrieverOption {
	return func(r *Retriever) { r.mirror = m }
}

// NewRetriever creates an artifact retriever.
func NewRetriever(manager *connection.Manager, jobs JobLookup, log *logrus.Logger, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		manager: manager,
		jobs:    jobs,
		log:     log.WithField("component", "artifact"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fetch returns the adapter bytes for a completed job as a single continuous
// stream. Fails with *fterr.NotReadyError for any non-Completed state,
// including Failed and Cancelled.
func (r *Retriever) Fetch(ctx context.Context, jobID string) (io.ReadCloser, error) {
	job, err := r.jobs.Get(jobID)
	if err != nil {
		return nil, err
	}
	if job.State != models.JobStateCompleted {
		return nil, &fterr.NotReadyError{JobID: jobID, State: string(job.State)}
	}

	conn, err := r.manager.Live(job.PlatformName)
	if err != nil {
		return nil, err
	}
	trainer, ok := conn.(connector.TrainingConnector)
	if !ok {
		return nil, &fterr.NotReadyError{JobID: jobID, State: string(job.State)}
	}

	// No per-call timeout here: artifact transfers are long-running and
	// bounded by ctx instead.
	stream, err := trainer.FetchArtifact(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if r.mirror == nil {
		return stream, nil
	}
	return r.mirrored(ctx, jobID, stream), nil
}

// mirrored tees the transfer into the mirror. The mirror only keeps the
// object when the caller reads the stream to EOF; an aborted transfer
// aborts the upload. Mirror failures degrade to a plain transfer.
func (r *Retriever) mirrored(ctx context.Context, jobID string, stream io.ReadCloser) io.ReadCloser {
	pr, pw := io.Pipe()
	m := &mirroredStream{src: stream, pw: pw, done: make(chan struct{})}
	log := r.log.WithField("job_id", jobID)

	go func() {
		defer close(m.done)
		uri, err := r.mirror.Upload(ctx, jobID, pr)
		if err != nil {
			pr.CloseWithError(err)
			log.WithError(err).Warn("artifact mirror upload failed")
			return
		}
		log.WithField("uri", uri).Info("artifact mirrored")
	}()
	return m
}

type mirroredStream struct {
	src  io.ReadCloser
	pw   *io.PipeWriter
	done chan struct{}
	eof  bool
}

func (m *mirroredStream) Read(p []byte) (int, error) {
	n, err := m.src.Read(p)
	if n > 0 && m.pw != nil {
		if _, werr := m.pw.Write(p[:n]); werr != nil {
			// Mirror dropped its end; keep serving the primary transfer.
			m.pw = nil
		}
	}
	if err == io.EOF {
		m.eof = true
	}
	return n, err
}

func (m *mirroredStream) Close() error {
	if m.pw != nil {
		if m.eof {
			m.pw.Close()
		} else {
			m.pw.CloseWithError(fmt.Errorf("transfer aborted before EOF"))
		}
	}
	<-m.done
	return m.src.Close()
}

// SaveTo fetches the artifact and writes it to path. A failure mid-transfer
// removes the partial file and is surfaced to the caller rather than leaving
// a truncated artifact behind.
func (r *Retriever) SaveTo(ctx context.Context, jobID, path string) (int64, error) {
	stream, err := r.Fetch(ctx, jobID)
	if err != nil {
		return 0, err
	}
	defer stream.Close()

	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(f, stream)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("artifact transfer for job %s: %w", jobID, err)
	}

	r.log.WithFields(logrus.Fields{"job_id": jobID, "bytes": n}).Info("artifact saved")
	return n, nil
}
