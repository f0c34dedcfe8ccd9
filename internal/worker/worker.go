// Package worker is the body of the spawned generation process. One worker
// owns one session record: from the moment it transitions starting->running
// until it writes a terminal status, nothing else writes the record body.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"veogen/internal/state"
	"veogen/internal/veo"
)

// Options bound the worker's polling and retry behavior.
type Options struct {
	// PollInterval is the initial delay between operation polls.
	PollInterval time.Duration
	// MaxPollInterval caps the backoff applied after transient poll errors.
	MaxPollInterval time.Duration
	// MaxPollFailures is how many consecutive poll errors are tolerated
	// before the session is recorded as failed.
	MaxPollFailures int
	// CheckpointEvery controls how often the progress marker is persisted:
	// every n-th successful poll, to bound write volume.
	CheckpointEvery int
}

func (o *Options) applyDefaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 5 * time.Second
	}
	if o.MaxPollInterval <= 0 {
		o.MaxPollInterval = 30 * time.Second
	}
	if o.MaxPollFailures <= 0 {
		o.MaxPollFailures = 5
	}
	if o.CheckpointEvery <= 0 {
		o.CheckpointEvery = 3
	}
}

// Worker executes one generation job end to end against the remote API,
// persisting progress and the terminal outcome into the session record.
type Worker struct {
	store  *state.Store
	client veo.Client
	id     string
	opts   Options
	now    func() time.Time
}

func New(store *state.Store, client veo.Client, sessionID string, opts Options) *Worker {
	opts.applyDefaults()
	return &Worker{
		store:  store,
		client: client,
		id:     sessionID,
		opts:   opts,
		now:    time.Now,
	}
}

// Run drives the session to a terminal state. ctx cancellation means a
// termination signal was delivered; the worker still writes `cancelled`
// before returning. A nil return maps to exit code 0 (completed or
// cancelled); a non-nil return maps to a non-zero exit (failed).
func (w *Worker) Run(ctx context.Context) error {
	sess, err := w.store.Read(w.id)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if sess.Status.Terminal() {
		return fmt.Errorf("session %s is already %s", w.id, sess.Status)
	}
	params := sess.Params

	if err := w.transition(state.StatusRunning, "submitting generation request"); err != nil {
		return err
	}

	operation, err := w.client.Submit(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return w.cancelled()
		}
		return w.failed(&state.Failure{Stage: "submit", Message: err.Error()})
	}
	slog.Info("generation submitted", "session", w.id, "operation", operation)
	w.checkpoint("generation started, polling for completion")

	return w.poll(ctx, operation)
}

// poll queries the operation with bounded backoff until it is terminal,
// the failure budget is exhausted, or a termination signal arrives.
func (w *Worker) poll(ctx context.Context, operation string) error {
	interval := w.opts.PollInterval
	failures := 0
	polls := 0

	for {
		if err := sleep(ctx, interval); err != nil {
			return w.cancelled()
		}

		status, err := w.client.Poll(ctx, operation)
		if err != nil {
			if ctx.Err() != nil {
				return w.cancelled()
			}
			failures++
			slog.Warn("poll failed", "session", w.id, "attempt", failures, "max", w.opts.MaxPollFailures, "err", err)
			if failures >= w.opts.MaxPollFailures {
				return w.failed(&state.Failure{
					Stage:   "poll",
					Message: fmt.Sprintf("giving up after %d consecutive poll failures: %v", failures, err),
				})
			}
			interval = min(interval*2, w.opts.MaxPollInterval)
			continue
		}
		failures = 0
		interval = w.opts.PollInterval

		if status.Done {
			if status.Failure != nil {
				return w.failed(status.Failure)
			}
			return w.completed(status.Videos)
		}

		polls++
		if polls%w.opts.CheckpointEvery == 0 {
			progress := status.Progress
			if progress == "" {
				progress = "generation in progress"
			}
			w.checkpoint(fmt.Sprintf("%s (poll %d)", progress, polls))
		}
	}
}

func (w *Worker) completed(videos []state.Video) error {
	_, err := w.store.Update(w.id, func(s *state.Session) error {
		if err := s.Transition(state.StatusCompleted, w.now()); err != nil {
			return err
		}
		s.Videos = videos
		s.Progress = "generation completed"
		s.Error = nil
		return nil
	})
	if err != nil {
		return fmt.Errorf("record completion: %w", err)
	}
	slog.Info("generation completed", "session", w.id, "videos", len(videos))
	return nil
}

func (w *Worker) failed(failure *state.Failure) error {
	_, err := w.store.Update(w.id, func(s *state.Session) error {
		if err := s.Transition(state.StatusFailed, w.now()); err != nil {
			return err
		}
		s.Error = failure
		s.Progress = "generation failed"
		return nil
	})
	if err != nil {
		return fmt.Errorf("record failure: %w", err)
	}
	slog.Error("generation failed", "session", w.id, "stage", failure.Stage, "err", failure.Message)
	return errors.New(failure.Error())
}

// cancelled records the cancellation. The remote API exposes no cancel
// operation, so the orphaned remote job simply expires server-side.
func (w *Worker) cancelled() error {
	_, err := w.store.Update(w.id, func(s *state.Session) error {
		if err := s.Transition(state.StatusCancelled, w.now()); err != nil {
			return err
		}
		s.Progress = "generation cancelled"
		return nil
	})
	if err != nil {
		return fmt.Errorf("record cancellation: %w", err)
	}
	slog.Info("generation cancelled", "session", w.id)
	return nil
}

func (w *Worker) transition(to state.Status, progress string) error {
	_, err := w.store.Update(w.id, func(s *state.Session) error {
		if err := s.Transition(to, w.now()); err != nil {
			return err
		}
		s.Progress = progress
		return nil
	})
	return err
}

// checkpoint persists a progress marker; losing one is harmless, so errors
// are logged and swallowed.
func (w *Worker) checkpoint(progress string) {
	if _, err := w.store.Update(w.id, func(s *state.Session) error {
		s.Progress = progress
		return nil
	}); err != nil {
		slog.Warn("progress checkpoint failed", "session", w.id, "err", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
