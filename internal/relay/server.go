package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nhle/mail-triage/internal/api"
	"github.com/nhle/mail-triage/internal/event"
)

const (
	defaultFolder = "INBOX"
	defaultLimit  = 50

	// autoClassifyLimit caps the messages labeled after one sync.
	autoClassifyLimit = 20
)

// Config controls a Server.
type Config struct {
	AccountID int
	Rules     Rules
	Logger    *slog.Logger
}

// Server is the relay's HTTP surface.
type Server struct {
	mailbox Mailbox
	cfg     Config
	state   *state
	syncing atomic.Bool
	logger  *slog.Logger
}

// NewServer creates a relay serving cfg.AccountID from mb.
func NewServer(mb Mailbox, cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		mailbox: mb,
		cfg:     cfg,
		state:   newState(),
		logger:  logger.With(slog.String("component", "relay")),
	}
}

// Handler returns the relay's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sync/stream", s.handleSyncStream)
	mux.HandleFunc("GET /sync/status", s.handleSyncStatus)
	mux.HandleFunc("GET /messages/", s.handleListMessages)
	mux.HandleFunc("POST /classify/{id}", s.handleClassify)
	return mux
}

// ListenAndServe serves the relay on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("relay listening", slog.String("addr", addr), slog.Int("account_id", s.cfg.AccountID))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving relay on %s: %w", addr, err)
	}
	return nil
}

// payload is one status object on the sync stream.
type payload map[string]any

// eventWriter writes records to an event stream.
type eventWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (ew eventWriter) send(p payload) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	if _, err := fmt.Fprintf(ew.w, "%s%s\n\n", event.DataPrefix, b); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	ew.flusher.Flush()
	return nil
}

func (s *Server) handleSyncStream(w http.ResponseWriter, r *http.Request) {
	var req api.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid sync request: "+err.Error())
		return
	}
	if req.AccountID != s.cfg.AccountID {
		writeDetail(w, http.StatusNotFound, "Account not found")
		return
	}
	if req.Folder == "" {
		req.Folder = defaultFolder
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeDetail(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	if !s.syncing.CompareAndSwap(false, true) {
		writeDetail(w, http.StatusConflict, "A sync is already running for this account")
		return
	}
	defer s.syncing.Store(false)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ew := eventWriter{w: w, flusher: flusher}
	s.stream(r.Context(), req, ew.send)
}

// stream runs one sync and writes its events through send, ending with a
// complete record that carries the sync result.
func (s *Server) stream(ctx context.Context, req api.SyncRequest, send func(payload) error) {
	started := time.Now()
	emit := func(p payload) {
		if err := send(p); err != nil {
			s.logger.Debug("dropping event", slog.Any("status", p["status"]), slog.String("error", err.Error()))
		}
	}

	result := s.sync(ctx, req.Folder, emit)

	classified := 0
	if req.AutoClassify && result["status"] == "success" && result["new_messages"].(int) > 0 {
		classified = s.autoClassify(ctx, emit)
	}

	audit := api.SyncAudit{
		Status: "success",
		Payload: map[string]any{
			"account_id":       req.AccountID,
			"folder":           req.Folder,
			"auto_classify":    req.AutoClassify,
			"result":           result,
			"classified_count": classified,
		},
	}
	if result["status"] != "success" {
		audit.Status = "error"
		audit.Error, _ = result["error"].(string)
	}
	s.state.audit(audit)

	s.logger.Info("sync finished",
		slog.String("folder", req.Folder),
		slog.Any("status", result["status"]),
		slog.Int("classified", classified),
		slog.Duration("took", time.Since(started)),
	)

	emit(payload{
		"status":           event.TagComplete,
		"sync_result":      result,
		"classified_count": classified,
		"message":          "Sync completed",
	})
}

// sync downloads the messages above the folder's high-water UID. It
// returns the final success or error payload after emitting it.
func (s *Server) sync(ctx context.Context, folder string, emit func(payload)) payload {
	fail := func(msg string) payload {
		s.logger.Warn("sync failed", slog.String("folder", folder), slog.String("error", msg))
		p := payload{"status": event.TagError, "error": msg}
		emit(p)
		return p
	}

	emit(payload{"status": "connecting", "message": "Connecting to mail server..."})
	conn, err := s.mailbox.Connect(ctx)
	if err != nil {
		return fail(err.Error())
	}
	defer func() {
		if err := conn.Close(); err != nil {
			s.logger.Debug("closing mailbox", slog.String("error", err.Error()))
		}
	}()
	emit(payload{"status": "connected", "message": "Connected to mail server"})

	emit(payload{"status": "selecting_folder", "message": fmt.Sprintf("Selecting %s...", folder)})
	if err := conn.Select(ctx, folder); err != nil {
		return fail(fmt.Sprintf("Failed to select folder %s", folder))
	}

	emit(payload{"status": "checking_new", "message": "Checking for new messages..."})
	uids, err := conn.NewUIDs(ctx, s.state.last(folder))
	if err != nil {
		return fail(err.Error())
	}

	if len(uids) == 0 {
		p := payload{"status": "success", "new_messages": 0, "total_messages": 0}
		emit(p)
		return p
	}

	total := len(uids)
	emit(payload{
		"status":  event.TagFoundMessages,
		"total":   total,
		"message": fmt.Sprintf("Found %d new messages", total),
	})

	saved := 0
	for i, uid := range uids {
		if ctx.Err() != nil {
			return fail("sync cancelled")
		}
		emit(payload{
			"status":  event.TagDownloading,
			"current": i + 1,
			"total":   total,
			"message": fmt.Sprintf("Downloading message %d of %d...", i+1, total),
		})

		m, err := conn.Fetch(ctx, uid)
		if err != nil {
			s.logger.Warn("skipping message", slog.Uint64("uid", uint64(uid)), slog.String("error", err.Error()))
			continue
		}
		s.state.add(folder, *m)
		saved++
	}

	p := payload{"status": "success", "new_messages": saved, "total_messages": total}
	emit(p)
	return p
}

// autoClassify labels the newest unlabeled messages with the priority
// rules. Messages no rule decides stay unlabeled.
func (s *Server) autoClassify(ctx context.Context, emit func(payload)) int {
	emit(payload{"status": "classifying", "message": "Auto-classifying new messages..."})

	targets := s.state.unlabeled(autoClassifyLimit)
	classified := 0
	for i, e := range targets {
		if ctx.Err() != nil {
			break
		}
		emit(payload{
			"status":  event.TagClassifyingProgress,
			"current": i + 1,
			"total":   len(targets),
			"message": fmt.Sprintf("Classifying %d/%d", i+1, len(targets)),
		})

		c, ok := s.cfg.Rules.Classify(e.mail)
		if !ok {
			continue
		}
		s.state.label(e.id, c)
		classified++
	}
	return classified
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, _ *http.Request) {
	audits := s.state.recentAudits()
	if audits == nil {
		audits = []api.SyncAudit{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"recent_syncs": audits})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()

	q := query{
		folder: values.Get("folder"),
		label:  values.Get("classification_label"),
		search: values.Get("search"),
		limit:  defaultLimit,
	}
	var err error
	if v := values.Get("limit"); v != "" {
		if q.limit, err = strconv.Atoi(v); err != nil || q.limit < 1 || q.limit > api.MaxPageSize {
			writeDetail(w, http.StatusUnprocessableEntity, fmt.Sprintf("limit must be between 1 and %d", api.MaxPageSize))
			return
		}
	}
	if v := values.Get("offset"); v != "" {
		if q.offset, err = strconv.Atoi(v); err != nil || q.offset < 0 {
			writeDetail(w, http.StatusUnprocessableEntity, "offset must be a non-negative integer")
			return
		}
	}

	messages := []api.Message{}
	if v := values.Get("account_id"); v == "" || v == strconv.Itoa(s.cfg.AccountID) {
		if page := s.state.list(s.cfg.AccountID, q); page != nil {
			messages = page
		}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	e, ok := s.state.get(id)
	if !ok {
		writeDetail(w, http.StatusNotFound, "Message not found")
		return
	}
	if existing, ok := s.state.classification(id); ok {
		writeJSON(w, http.StatusOK, api.ClassifyResponse{
			Message:        "Message already classified",
			Classification: existing,
		})
		return
	}

	c, ok := s.cfg.Rules.Classify(e.mail)
	if !ok {
		s.logger.Info("no rule for message", slog.String("message_id", id))
		writeDetail(w, http.StatusInternalServerError, ErrNoRule.Error())
		return
	}

	writeJSON(w, http.StatusOK, api.ClassifyResponse{
		Message:        "Message classified successfully",
		Classification: s.state.label(id, c),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDetail writes a FastAPI-style error body.
func writeDetail(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}
