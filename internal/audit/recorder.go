package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/raspy-assistant/statehub/internal/state"
)

// DefaultQueueSize is the buffer size of the recorder queue. Entries beyond
// it are dropped so a slow disk never blocks a state change.
const DefaultQueueSize = 256

// writeTimeout bounds a single insert.
const writeTimeout = 5 * time.Second

// Recorder turns store changes into audit entries and writes them serially
// on a single goroutine, which suits SQLite's single-writer model.
type Recorder struct {
	repo   Repository
	queue  chan *Entry
	logger *slog.Logger
}

// NewRecorder creates a recorder writing to repo. A queueSize <= 0 uses
// DefaultQueueSize.
func NewRecorder(repo Repository, queueSize int, logger *slog.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		repo:   repo,
		queue:  make(chan *Entry, queueSize),
		logger: logger,
	}
}

// Observe enqueues c for writing. It never blocks; use it as a
// state.Observer.
func (r *Recorder) Observe(c state.Change) {
	entry, err := EntryFromChange(c)
	if err != nil {
		r.logger.Error("audit entry build failed", "seq", c.Seq, "error", err)
		return
	}

	select {
	case r.queue <- entry:
	default:
		r.logger.Warn("audit queue full, dropping entry",
			"seq", c.Seq,
			"action", c.Action,
		)
	}
}

// Run writes queued entries until ctx is cancelled, then drains what is
// left and returns.
func (r *Recorder) Run(ctx context.Context) {
	for {
		select {
		case entry := <-r.queue:
			r.write(entry)
		case <-ctx.Done():
			for {
				select {
				case entry := <-r.queue:
					r.write(entry)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(entry *Entry) {
	// Detached from the run context so the shutdown drain can still write.
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.repo.Create(ctx, entry); err != nil {
		r.logger.Error("audit write failed",
			"seq", entry.Seq,
			"action", entry.Action,
			"error", err,
		)
	}
}
