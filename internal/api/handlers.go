// Package api is the operator HTTP surface of the dispatcher.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/LeventeLantos/promo-dispatch/internal/cache"
	"github.com/LeventeLantos/promo-dispatch/internal/model"
	"github.com/LeventeLantos/promo-dispatch/internal/repo"
	"github.com/LeventeLantos/promo-dispatch/internal/scheduler"
	"github.com/LeventeLantos/promo-dispatch/internal/service"
)

type QueueRunner interface {
	Run(ctx context.Context) (service.RunStats, error)
}

type Syncer interface {
	Sync(ctx context.Context) (service.SyncStats, error)
}

type DirectSender interface {
	Send(ctx context.Context, req service.DirectRequest) (service.DirectResult, error)
}

type Deps struct {
	Jobs      []*scheduler.Scheduler
	Queue     QueueRunner
	Sync      Syncer
	Direct    DirectSender
	SentLogs  repo.SentLogRepository
	State     cache.RunState
	Providers []string
	// APIKey guards send-direct. Empty rejects every request.
	APIKey string
}

type Handler struct {
	deps     Deps
	validate *validator.Validate
	logger   *zap.Logger
}

func NewHandler(deps Deps, logger *zap.Logger) *Handler {
	if deps.State == nil {
		deps.State = cache.Nop{}
	}
	return &Handler{deps: deps, validate: validator.New(), logger: logger}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	providers := h.deps.Providers
	if providers == nil {
		providers = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "providers": providers})
}

// RunState reports the resume checkpoints (for queueMinId and syncSkip) and
// the area codes the resolver could not map.
func (h *Handler) RunState(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body := map[string]any{}
	for field, key := range map[string]string{
		"queueCursor": cache.QueueCursorKey,
		"syncOffset":  cache.SyncOffsetKey,
	} {
		v, found, err := h.deps.State.Checkpoint(ctx, key)
		if err != nil {
			h.fail(w, "read checkpoint", err)
			return
		}
		if found {
			body[field] = v
		} else {
			body[field] = nil
		}
	}

	codes, err := h.deps.State.Unmapped(ctx)
	if err != nil {
		h.fail(w, "read unmapped area codes", err)
		return
	}
	if codes == nil {
		codes = []string{}
	}
	body["unmappedAreaCodes"] = codes

	writeJSON(w, http.StatusOK, body)
}

// Scheduler endpoints act on every job, or on the one named by ?job=.

func (h *Handler) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	jobs, ok := h.jobs(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, schedulerBody(jobs))
}

func (h *Handler) SchedulerStart(w http.ResponseWriter, r *http.Request) {
	jobs, ok := h.jobs(w, r)
	if !ok {
		return
	}
	for _, j := range jobs {
		j.Start()
	}
	writeJSON(w, http.StatusOK, schedulerBody(jobs))
}

func (h *Handler) SchedulerStop(w http.ResponseWriter, r *http.Request) {
	jobs, ok := h.jobs(w, r)
	if !ok {
		return
	}
	for _, j := range jobs {
		j.Stop()
	}
	writeJSON(w, http.StatusOK, schedulerBody(jobs))
}

func (h *Handler) jobs(w http.ResponseWriter, r *http.Request) ([]*scheduler.Scheduler, bool) {
	name := r.URL.Query().Get("job")
	if name == "" {
		return h.deps.Jobs, true
	}
	for _, j := range h.deps.Jobs {
		if j.Name() == name {
			return []*scheduler.Scheduler{j}, true
		}
	}
	writeError(w, http.StatusNotFound, "unknown job "+strconv.Quote(name))
	return nil, false
}

func schedulerBody(jobs []*scheduler.Scheduler) map[string]any {
	running := len(jobs) > 0
	statuses := make([]scheduler.Status, 0, len(jobs))
	for _, j := range jobs {
		st := j.Status()
		running = running && st.Running
		statuses = append(statuses, st)
	}
	return map[string]any{"running": running, "jobs": statuses}
}

// RunQueue runs one queue pass synchronously.
func (h *Handler) RunQueue(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.Queue.Run(r.Context())
	if err != nil {
		h.fail(w, "queue run", err)
		return
	}

	body := map[string]any{
		"runId":     stats.RunID,
		"batches":   stats.Batches,
		"evaluated": stats.Evaluated,
		"eligible":  stats.Eligible,
		"delivered": stats.Delivered,
		"optedOut":  stats.OptedOut,
		"failed":    stats.Failed,
		"cursor":    stats.Cursor,
	}
	if stats.Stopped != nil {
		body["stopped"] = stats.Stopped.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) RunSync(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.Sync.Sync(r.Context())
	if err != nil {
		h.fail(w, "sync run", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runId":    stats.RunID,
		"fetched":  stats.Fetched,
		"skipped":  stats.Skipped,
		"resumed":  stats.Resumed,
		"inserted": stats.Inserted,
		"updated":  stats.Updated,
		"failed":   stats.Failed,
		"unmapped": stats.Unmapped,
	})
}

type sentLogView struct {
	ID           int64       `json:"id"`
	SubscriberID int64       `json:"subscriberId"`
	MessageID    int64       `json:"messageId"`
	Brand        model.Brand `json:"brand"`
	SentAt       time.Time   `json:"sentAt"`
}

func (h *Handler) ListSentLogs(w http.ResponseWriter, r *http.Request) {
	limit := parseInt(r.URL.Query().Get("limit"), 50)
	offset := parseInt(r.URL.Query().Get("offset"), 0)

	logs, err := h.deps.SentLogs.ListRecent(r.Context(), limit, offset)
	if err != nil {
		h.fail(w, "list sent logs", err)
		return
	}

	items := make([]sentLogView, 0, len(logs))
	for _, l := range logs {
		items = append(items, sentLogView{
			ID:           l.ID,
			SubscriberID: l.SubscriberID,
			MessageID:    l.MessageID,
			Brand:        l.Brand,
			SentAt:       l.SentAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type directSendRequest struct {
	Phone     string `json:"phone" validate:"required"`
	MessageID int64  `json:"messageId" validate:"gte=0"`
	Provider  string `json:"provider"`
	APIKey    string `json:"apiKey"`
}

func (h *Handler) SendDirect(w http.ResponseWriter, r *http.Request) {
	var req directSendRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if !h.authorized(req.APIKey) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.deps.Direct.Send(r.Context(), service.DirectRequest{
		Phone:     req.Phone,
		MessageID: req.MessageID,
		Provider:  req.Provider,
	})
	if err != nil {
		h.fail(w, "direct send", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"messageId": res.MessageID,
		"provider":  res.Provider,
		"outcome":   res.Outcome,
	})
}

func (h *Handler) authorized(key string) bool {
	if h.deps.APIKey == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(h.deps.APIKey)) == 1
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", zap.Error(err))
	} else {
		h.logger.Info(op+" refused", zap.Error(err), zap.Int("status", status))
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var perr *service.ProviderError
	switch {
	case errors.Is(err, service.ErrComplianceBlock):
		return http.StatusForbidden
	case errors.Is(err, service.ErrSendingDisabled),
		errors.Is(err, service.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, service.ErrNoMessage):
		return http.StatusNotFound
	case errors.Is(err, service.ErrUnknownProvider):
		return http.StatusBadRequest
	case errors.As(err, &perr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
