// Package httpapi serves the CRM webhook and the operator endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/tidwall/gjson"

	"call_analyzer/internal/analysis"
	"call_analyzer/internal/crm"
	"call_analyzer/internal/events"
	"call_analyzer/internal/jobs"
	"call_analyzer/internal/queue"
	"call_analyzer/internal/store"
)

const maxWebhookBody = 1 << 20

// Submitter accepts call ids for processing.
type Submitter interface {
	Submit(callID string) (bool, error)
	InFlight() []jobs.Entry
	QueueStats() queue.Stats
	Healthy() bool
}

// History is the read side of the run history.
type History interface {
	Health(ctx context.Context) error
	ListCalls(ctx context.Context, limit int) ([]store.Call, error)
	GetCall(ctx context.Context, callID string) (*store.Call, error)
	Events(ctx context.Context, callID string, limit int) ([]jobs.Transition, error)
	LatestReport(ctx context.Context, callID string) (*analysis.Report, error)
}

type Options struct {
	// AppToken, when set, must match auth[application_token] of every webhook.
	AppToken      string
	Events        []string
	CallProviders []string
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

// Router builds HTTP handlers for /webhook and /ops.
type Router struct {
	sub     Submitter
	history History
	bus     *events.Bus[jobs.Transition]
	opts    Options
	log     *slog.Logger
}

func NewRouter(sub Submitter, history History, bus *events.Bus[jobs.Transition], opts Options, logger *slog.Logger) *Router {
	if len(opts.CallProviders) == 0 {
		opts.CallProviders = crm.DefaultCallProviders
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sub: sub, history: history, bus: bus, opts: opts, log: logger}
}

func (r *Router) Handler() http.Handler {
	m := mux.NewRouter()
	m.HandleFunc("/webhook", r.webhook).Methods(http.MethodPost)
	ops := m.PathPrefix("/ops").Subrouter()
	ops.HandleFunc("/health", r.health).Methods(http.MethodGet)
	ops.HandleFunc("/status", r.status).Methods(http.MethodGet)
	ops.HandleFunc("/calls", r.calls).Methods(http.MethodGet)
	ops.HandleFunc("/calls/{id}", r.callDetail).Methods(http.MethodGet)
	ops.HandleFunc("/calls/{id}/submit", r.submit).Methods(http.MethodPost)
	if r.bus != nil {
		ops.HandleFunc("/events", r.stream).Methods(http.MethodGet)
	}
	if r.opts.Metrics != nil {
		m.Handle("/metrics", r.opts.Metrics).Methods(http.MethodGet)
	}
	return m
}

type webhookEvent struct {
	Event    string
	ID       string
	Provider string
	Token    string
}

func (r *Router) webhook(w http.ResponseWriter, req *http.Request) {
	ev, err := parseWebhook(req)
	if err != nil {
		r.log.Warn("webhook parse failed", "err", err)
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.opts.AppToken != "" && ev.Token != r.opts.AppToken {
		r.log.Warn("webhook token mismatch", "event", ev.Event)
		respondJSON(w, http.StatusForbidden, map[string]string{"status": "forbidden"})
		return
	}
	r.log.Info("webhook received", "event", ev.Event, "call_id", ev.ID, "provider", ev.Provider)
	if r.accepts(ev) {
		if _, err := r.sub.Submit(ev.ID); err != nil {
			r.log.Warn("webhook submit rejected", "call_id", ev.ID, "err", err)
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (r *Router) accepts(ev webhookEvent) bool {
	if ev.ID == "" {
		return false
	}
	if len(r.opts.Events) > 0 && !containsFold(r.opts.Events, ev.Event) {
		return false
	}
	if ev.Provider != "" && !crm.IsCallProvider(ev.Provider, r.opts.CallProviders) {
		return false
	}
	return true
}

// parseWebhook reads both JSON payloads and the form encoding Bitrix24
// uses for outgoing webhooks.
func parseWebhook(req *http.Request) (webhookEvent, error) {
	if strings.Contains(req.Header.Get("Content-Type"), "json") {
		body, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBody))
		if err != nil {
			return webhookEvent{}, err
		}
		if !gjson.ValidBytes(body) {
			return webhookEvent{}, errors.New("invalid json body")
		}
		return webhookEvent{
			Event:    gjson.GetBytes(body, "event").String(),
			ID:       strings.TrimSpace(gjson.GetBytes(body, "data.FIELDS.ID").String()),
			Provider: gjson.GetBytes(body, "data.FIELDS.PROVIDER_ID").String(),
			Token:    gjson.GetBytes(body, "auth.application_token").String(),
		}, nil
	}
	req.Body = io.NopCloser(io.LimitReader(req.Body, maxWebhookBody))
	if err := req.ParseForm(); err != nil {
		return webhookEvent{}, err
	}
	return webhookEvent{
		Event:    req.PostForm.Get("event"),
		ID:       strings.TrimSpace(req.PostForm.Get("data[FIELDS][ID]")),
		Provider: req.PostForm.Get("data[FIELDS][PROVIDER_ID]"),
		Token:    req.PostForm.Get("auth[application_token]"),
	}, nil
}

func (r *Router) health(w http.ResponseWriter, req *http.Request) {
	if !r.sub.Healthy() {
		http.Error(w, "worker pool not running", http.StatusServiceUnavailable)
		return
	}
	if r.history != nil {
		if err := r.history.Health(req.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) status(w http.ResponseWriter, req *http.Request) {
	payload := map[string]any{
		"queue":     r.sub.QueueStats(),
		"in_flight": r.sub.InFlight(),
	}
	if r.bus != nil {
		payload["subscribers"] = r.bus.Subscribers()
	}
	respondJSON(w, http.StatusOK, payload)
}

func (r *Router) calls(w http.ResponseWriter, req *http.Request) {
	if r.history == nil {
		respondJSON(w, http.StatusOK, []store.Call{})
		return
	}
	limit := 100
	if v, err := strconv.Atoi(req.URL.Query().Get("limit")); err == nil && v > 0 && v <= 1000 {
		limit = v
	}
	list, err := r.history.ListCalls(req.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []store.Call{}
	}
	respondJSON(w, http.StatusOK, list)
}

func (r *Router) callDetail(w http.ResponseWriter, req *http.Request) {
	if r.history == nil {
		http.NotFound(w, req)
		return
	}
	ctx := req.Context()
	id := mux.Vars(req)["id"]
	call, err := r.history.GetCall(ctx, id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if call == nil {
		http.NotFound(w, req)
		return
	}
	transitions, err := r.history.Events(ctx, id, 500)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	report, err := r.history.LatestReport(ctx, id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"call": call, "transitions": transitions, "report": report})
}

func (r *Router) submit(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	accepted, err := r.sub.Submit(id)
	if err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"call_id": id, "accepted": false, "error": err.Error()})
		return
	}
	code := http.StatusAccepted
	if !accepted {
		code = http.StatusConflict
	}
	respondJSON(w, code, map[string]any{"call_id": id, "accepted": accepted})
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("write json", "err", err)
	}
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
