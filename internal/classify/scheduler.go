// Package classify runs bulk classification of unlabeled messages in
// fixed-size concurrent batches.
package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sourcegraph/conc/pool"

	"github.com/nhle/mail-triage/internal/api"
	"github.com/nhle/mail-triage/internal/model"
)

// BatchSize is the number of classification requests in flight at once.
const BatchSize = 5

// ErrAlreadyRunning is returned when a bulk run is requested while another
// one is still going.
var ErrAlreadyRunning = errors.New("classification already running")

// errEmptyResponse counts a classifier that returned neither a response
// nor an error as a failure.
var errEmptyResponse = errors.New("empty classification response")

// Classifier classifies a single message.
type Classifier interface {
	ClassifyMessage(ctx context.Context, messageID string) (*api.ClassifyResponse, error)
}

// Recorder persists notifications and finished runs.
type Recorder interface {
	CreateNotification(ctx context.Context, n model.Notification) error
	RecordClassifyRun(ctx context.Context, run model.ClassifyRun) error
}

// Progress is the running tally reported after every batch.
type Progress struct {
	Processed  int
	Total      int
	Classified int
	Failed     int
}

func (p Progress) String() string {
	return fmt.Sprintf("%d/%d", p.Processed, p.Total)
}

// Failure is one message that could not be classified.
type Failure struct {
	MessageID string
	Err       error
}

func (f Failure) Error() string {
	return fmt.Sprintf("message %s: %v", f.MessageID, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Result is the summary of a finished bulk run. NothingToDo is set when
// every message already had a label.
type Result struct {
	Total       int
	Classified  int
	Failed      int
	Failures    []Failure
	Labels      map[string]string
	NothingToDo bool
}

// ProgressMsg is a tea.Msg sent after each batch.
type ProgressMsg struct {
	Progress Progress
}

// DoneMsg is a tea.Msg sent when a bulk run ended.
type DoneMsg struct {
	Result Result
	Err    error
}

// Config controls a Scheduler.
type Config struct {
	AccountID int

	// Refresh re-fetches the message list; it runs after every batch.
	Refresh func(ctx context.Context) error

	// OnProgress is called synchronously after every batch.
	OnProgress func(Progress)

	// Recorder is optional.
	Recorder Recorder

	Logger *slog.Logger
}

// Scheduler classifies messages in sequential batches of BatchSize
// concurrent requests. A failed request never cancels the rest of its
// batch or later batches.
type Scheduler struct {
	classifier Classifier
	cfg        Config
	logger     *slog.Logger
	running    atomic.Bool
	msgCh      chan tea.Msg
}

// NewScheduler creates a Scheduler that classifies through c.
func NewScheduler(c Classifier, cfg Config) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		classifier: c,
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "classify")),
		msgCh:      make(chan tea.Msg, 64),
	}
}

// Candidates returns the messages that have no classification label yet,
// preserving order.
func Candidates(messages []api.Message) []api.Message {
	var out []api.Message
	for _, m := range messages {
		if !m.Classified() {
			out = append(out, m)
		}
	}
	return out
}

// Batches splits messages into consecutive groups of at most size.
func Batches(messages []api.Message, size int) [][]api.Message {
	if size <= 0 {
		size = BatchSize
	}
	var out [][]api.Message
	for start := 0; start < len(messages); start += size {
		end := min(start+size, len(messages))
		out = append(out, messages[start:end])
	}
	return out
}

// Running reports whether a bulk run is in progress.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Start returns a tea.Cmd that runs a bulk classification over messages
// and resolves to a DoneMsg. Per-batch progress arrives through
// WaitForUpdate.
func (s *Scheduler) Start(ctx context.Context, messages []api.Message) tea.Cmd {
	return func() tea.Msg {
		res, err := s.Run(ctx, messages)
		return DoneMsg{Result: res, Err: err}
	}
}

// WaitForUpdate returns a tea.Cmd that waits for the next ProgressMsg.
func (s *Scheduler) WaitForUpdate() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-s.msgCh
		if !ok {
			return nil
		}
		return msg
	}
}

// outcome is the settled result of one request.
type outcome struct {
	messageID string
	label     string
	err       error
}

// Run classifies every unlabeled message in messages. It only returns an
// error when ctx is cancelled between batches or another run is active;
// per-message failures are reported in the Result.
func (s *Scheduler) Run(ctx context.Context, messages []api.Message) (Result, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Result{}, ErrAlreadyRunning
	}
	defer s.running.Store(false)

	targets := Candidates(messages)
	if len(targets) == 0 {
		s.logger.Info("nothing to classify", slog.Int("messages", len(messages)))
		s.notify(model.LevelInfo, "Nothing to classify")
		return Result{NothingToDo: true}, nil
	}

	run := NewBatchRun(targets, BatchSize)
	started := time.Now()
	s.logger.Info("starting bulk classification",
		slog.Int("targets", len(targets)),
		slog.Int("batch_size", run.BatchSize()),
	)

	var err error
	for i, batch := range Batches(targets, run.BatchSize()) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("classification stopped before batch %d: %w", i+1, ctxErr)
			break
		}

		p := run.record(s.classifyBatch(ctx, batch))
		s.logger.Debug("batch settled",
			slog.Int("batch", i+1),
			slog.String("processed", p.String()),
			slog.Int("failed", p.Failed),
		)
		s.report(p)
		s.refresh(ctx)
	}

	res := run.Result()
	s.finish(res, started)
	return res, err
}

// classifyBatch issues one request per message concurrently and waits for
// every one of them to settle.
func (s *Scheduler) classifyBatch(ctx context.Context, batch []api.Message) []outcome {
	p := pool.NewWithResults[outcome]().WithMaxGoroutines(len(batch))
	for _, m := range batch {
		p.Go(func() outcome {
			resp, err := s.classifier.ClassifyMessage(ctx, m.ID)
			if err == nil && resp == nil {
				err = errEmptyResponse
			}
			if err != nil {
				s.logger.Warn("classifying message",
					slog.String("message_id", m.ID),
					slog.String("error", err.Error()),
				)
				return outcome{messageID: m.ID, err: err}
			}
			return outcome{messageID: m.ID, label: resp.Classification.FinalLabel}
		})
	}
	return p.Wait()
}

func (s *Scheduler) report(p Progress) {
	if s.cfg.OnProgress != nil {
		s.cfg.OnProgress(p)
	}
	select {
	case s.msgCh <- ProgressMsg{Progress: p}:
	default:
	}
}

func (s *Scheduler) refresh(ctx context.Context) {
	if s.cfg.Refresh == nil {
		return
	}
	if err := s.cfg.Refresh(ctx); err != nil {
		s.logger.Warn("refreshing messages", slog.String("error", err.Error()))
	}
}

func (s *Scheduler) finish(res Result, started time.Time) {
	s.logger.Info("bulk classification finished",
		slog.Int("classified", res.Classified),
		slog.Int("failed", res.Failed),
		slog.Duration("took", time.Since(started)),
	)

	level := model.LevelSuccess
	if res.Failed > 0 {
		level = model.LevelWarning
	}
	s.notify(level, SummaryText(res))

	if s.cfg.Recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.cfg.Recorder.RecordClassifyRun(ctx, model.ClassifyRun{
		AccountID:  s.cfg.AccountID,
		Total:      res.Total,
		Classified: res.Classified,
		Failed:     res.Failed,
		StartedAt:  started,
		FinishedAt: time.Now(),
	})
	if err != nil {
		s.logger.Warn("recording classify run", slog.String("error", err.Error()))
	}
}

func (s *Scheduler) notify(level model.NotificationLevel, text string) {
	if s.cfg.Recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.cfg.Recorder.CreateNotification(ctx, model.Notification{
		AccountID: s.cfg.AccountID,
		Origin:    model.OriginClassify,
		Level:     level,
		Message:   text,
		CreatedAt: time.Now(),
	})
	if err != nil {
		s.logger.Warn("storing notification", slog.String("error", err.Error()))
	}
}

// SummaryText is the user-facing summary of a finished run.
func SummaryText(res Result) string {
	if res.NothingToDo {
		return "Nothing to classify"
	}
	if res.Failed == 0 {
		return fmt.Sprintf("Classified %d messages", res.Classified)
	}
	return fmt.Sprintf("Classified %d messages, %d failed", res.Classified, res.Failed)
}

// BatchRun is the tally of one bulk run. It is safe for concurrent use.
type BatchRun struct {
	mu         gosync.Mutex
	targets    []api.Message
	batchSize  int
	classified int
	failed     int
	processed  int
	failures   []Failure
	labels     map[string]string
}

// NewBatchRun creates the tally for classifying targets.
func NewBatchRun(targets []api.Message, batchSize int) *BatchRun {
	if batchSize <= 0 {
		batchSize = BatchSize
	}
	return &BatchRun{
		targets:   targets,
		batchSize: batchSize,
		labels:    make(map[string]string),
	}
}

// BatchSize returns the batch size of the run.
func (r *BatchRun) BatchSize() int {
	return r.batchSize
}

// record adds the settled outcomes of one batch and returns the new tally.
func (r *BatchRun) record(outcomes []outcome) Progress {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, o := range outcomes {
		r.processed++
		if o.err != nil {
			r.failed++
			r.failures = append(r.failures, Failure{MessageID: o.messageID, Err: o.err})
			continue
		}
		r.classified++
		r.labels[o.messageID] = o.label
	}
	return r.progressLocked()
}

// Progress returns the current tally.
func (r *BatchRun) Progress() Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.progressLocked()
}

func (r *BatchRun) progressLocked() Progress {
	return Progress{
		Processed:  r.processed,
		Total:      len(r.targets),
		Classified: r.classified,
		Failed:     r.failed,
	}
}

// Result returns the summary of the run so far.
func (r *BatchRun) Result() Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	labels := make(map[string]string, len(r.labels))
	for k, v := range r.labels {
		labels[k] = v
	}
	return Result{
		Total:      len(r.targets),
		Classified: r.classified,
		Failed:     r.failed,
		Failures:   append([]Failure(nil), r.failures...),
		Labels:     labels,
	}
}
