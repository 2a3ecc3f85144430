package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"soundfault/internal/model"
	"soundfault/internal/normalize"
)

// JobsHandler accepts one JSON job or an array of them and queues each for
// the engine worker. Results leave through the worker's sink.
type JobsHandler struct {
	ctx      context.Context
	out      chan<- model.Job
	logger   *slog.Logger
	maxBytes int64
}

func NewJobsHandler(ctx context.Context, out chan<- model.Job, logger *slog.Logger) *JobsHandler {
	return &JobsHandler{ctx: ctx, out: out, logger: logger, maxBytes: 2 << 20}
}

func (h *JobsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBytes))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	trim := bytes.TrimSpace(body)
	if len(trim) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var list []map[string]interface{}
	if trim[0] == '[' {
		if err := json.Unmarshal(trim, &list); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	} else {
		var obj map[string]interface{}
		if err := json.Unmarshal(trim, &obj); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = append(list, obj)
	}

	accepted, failed, dropped := 0, 0, 0
	ids := make([]string, 0, len(list))
	for _, obj := range list {
		job, err := normalize.Normalize(*ParseJSONMap(obj), "rest")
		if err != nil {
			if h.logger != nil {
				h.logger.Warn("rest normalize error", "err", err)
			}
			failed++
			continue
		}
		if job.ID == "" {
			job.ID = uuid.NewString()
		}
		if !SendNonBlocking(h.ctx, h.out, job, h.logger) {
			dropped++
			continue
		}
		accepted++
		ids = append(ids, job.ID)
	}

	status := http.StatusAccepted
	if accepted == 0 {
		status = http.StatusUnprocessableEntity
		if dropped > 0 {
			status = http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"accepted": accepted,
		"failed":   failed,
		"dropped":  dropped,
		"ids":      ids,
	})
}
