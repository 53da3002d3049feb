package event_http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/davarch/gocd-notifier/internal/domain"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type Dispatcher interface {
	Dispatch(ctx context.Context, ev domain.PipelineEvent) error
}

type eventDTO struct {
	Pipeline     string `json:"pipeline"`
	Counter      int64  `json:"counter"`
	Stage        string `json:"stage"`
	StageCounter int64  `json:"stage_counter"`
	Group        string `json:"group"`
	Label        string `json:"label"`
	Status       string `json:"status"`
	TriggeredAt  string `json:"triggered_at"`
}

type Handler struct {
	log *zap.Logger
	d   Dispatcher
	mux *http.ServeMux
}

// NewHandler serves POST /notify and GET /healthz; metrics is mounted at
// /metrics when non-nil.
func NewHandler(log *zap.Logger, d Dispatcher, metrics http.Handler) *Handler {
	h := &Handler{log: log.Named("events"), d: d, mux: http.NewServeMux()}
	h.mux.HandleFunc("/notify", h.notify)
	h.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if metrics != nil {
		h.mux.Handle("/metrics", metrics)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) notify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, "error", "method not allowed")
		return
	}

	var dto eventDTO
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&dto); err != nil {
		writeJSON(w, http.StatusBadRequest, "error", "malformed event: "+err.Error())
		return
	}

	ev, err := toEvent(dto)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, "error", err.Error())
		return
	}

	if err := h.d.Dispatch(r.Context(), ev); err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, domain.ErrStageNotFound):
			status = http.StatusUnprocessableEntity
		case errors.Is(err, domain.ErrUnknownStatus):
			status = http.StatusBadRequest
		}
		h.log.Warn("dispatch failed", zap.String("pipeline", ev.Pipeline), zap.Int("code", status), zap.Error(err))
		writeJSON(w, status, "error", err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, "status", "delivered")
}

func toEvent(dto eventDTO) (domain.PipelineEvent, error) {
	if strings.TrimSpace(dto.Pipeline) == "" {
		return domain.PipelineEvent{}, errors.New("pipeline is required")
	}
	if strings.TrimSpace(dto.Stage) == "" {
		return domain.PipelineEvent{}, errors.New("stage is required")
	}
	st, err := domain.ParseStatus(dto.Status)
	if err != nil {
		return domain.PipelineEvent{}, err
	}

	ev := domain.PipelineEvent{
		Pipeline:     dto.Pipeline,
		Counter:      dto.Counter,
		Stage:        dto.Stage,
		StageCounter: dto.StageCounter,
		Group:        dto.Group,
		Label:        dto.Label,
		Status:       st,
	}
	if dto.TriggeredAt != "" {
		ts, err := time.Parse(time.RFC3339, dto.TriggeredAt)
		if err != nil {
			return domain.PipelineEvent{}, fmt.Errorf("triggered_at: %w", err)
		}
		ev.TriggeredAt = ts
	}
	return ev, nil
}

func writeJSON(w http.ResponseWriter, code int, key, value string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{key: value})
}
