package council

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ashita-ai/council/internal/model"
)

// Archive persists sessions so they survive restarts.
type Archive interface {
	// SaveSession upserts everything but the transcript.
	SaveSession(ctx context.Context, s model.Session) error
	// AppendMessage stores one transcript entry at its 1-based position.
	AppendMessage(ctx context.Context, sessionID string, seq int, msg model.Message) error
	// LoadSessions returns every archived session with its transcript.
	LoadSessions(ctx context.Context) ([]model.Session, error)
}

// archiveQueueSize bounds pending writes. Writes beyond it are dropped.
const archiveQueueSize = 1024

// archiveWriteTimeout bounds a single archive write.
const archiveWriteTimeout = 5 * time.Second

type archiveJob struct {
	session   *model.Session
	sessionID string
	seq       int
	message   *model.Message
}

// archiver applies archive writes in order on one goroutine so session
// actors never wait on the database. Enqueueing never blocks: when the
// queue is full the write is dropped, logged and counted.
type archiver struct {
	archive Archive
	logger  *slog.Logger
	metrics *metrics
	jobs    chan archiveJob
	done    chan struct{}
	dropped atomic.Int64
}

func newArchiver(a Archive, logger *slog.Logger, m *metrics) *archiver {
	return &archiver{
		archive: a,
		logger:  logger,
		metrics: m,
		jobs:    make(chan archiveJob, archiveQueueSize),
		done:    make(chan struct{}),
	}
}

func (a *archiver) start() {
	go a.loop()
}

func (a *archiver) loop() {
	defer close(a.done)
	for job := range a.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), archiveWriteTimeout)
		var err error
		if job.session != nil {
			err = a.archive.SaveSession(ctx, *job.session)
		} else {
			err = a.archive.AppendMessage(ctx, job.sessionID, job.seq, *job.message)
		}
		cancel()
		if err != nil {
			a.logger.Error("council: archive write failed", "session_id", job.sessionID, "seq", job.seq, "error", err)
		}
	}
}

func (a *archiver) saveSession(s model.Session) {
	a.enqueue(archiveJob{session: &s, sessionID: s.ID}, "session")
}

func (a *archiver) appendMessage(sessionID string, seq int, msg model.Message) {
	a.enqueue(archiveJob{sessionID: sessionID, seq: seq, message: &msg}, "message")
}

func (a *archiver) enqueue(job archiveJob, kind string) {
	select {
	case a.jobs <- job:
	default:
		n := a.dropped.Add(1)
		a.metrics.archiveDropped(kind)
		a.logger.Warn("council: archive queue full, write dropped",
			"session_id", job.sessionID, "kind", kind, "seq", job.seq, "dropped_total", n)
	}
}

// drain stops accepting writes and waits for pending ones to finish.
// Callers must ensure no session actor is still running.
func (a *archiver) drain(ctx context.Context) {
	close(a.jobs)
	select {
	case <-a.done:
	case <-ctx.Done():
		a.logger.Warn("council: archive drain timed out", "pending", len(a.jobs))
	}
}
