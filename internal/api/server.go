package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"soundfault/internal/analyzer"
	"soundfault/internal/config"
	"soundfault/internal/engine"
	"soundfault/internal/ingest"
	"soundfault/internal/metrics"
	"soundfault/internal/model"
	"soundfault/internal/normalize"
	"soundfault/internal/rules"
)

const (
	errorTitle     = "Hata"
	analysisFailed = "analysis failed, try a shorter/cleaner recording"
	// multipart parts beyond this stay on disk
	formMemory = 8 << 20
)

type Server struct {
	cfg      *config.Manager
	analyzer *analyzer.Analyzer
	rules    *engine.RuleManager
	metrics  *metrics.Store
	jobs     http.Handler
	logger   *slog.Logger
	version  string
	started  time.Time
}

// Deps are the collaborators the HTTP API serves.
type Deps struct {
	Analyzer *analyzer.Analyzer
	Rules    *engine.RuleManager
	Metrics  *metrics.Store
	// Jobs accepts queued diagnosis jobs; nil disables POST /jobs.
	Jobs http.Handler
}

// analysisResponse keeps the legacy client keys alongside the structured
// fields.
type analysisResponse struct {
	Title    string               `json:"sonuc_baslik"`
	Detail   string               `json:"sonuc_detay"`
	Code     string               `json:"renk_kodu"`
	Waveform []float64            `json:"grafik"`
	ID       string               `json:"id"`
	Category model.DeviceCategory `json:"category"`
	Severity string               `json:"severity"`
	Causes   []model.Cause        `json:"causes"`
	Features model.FeatureVector  `json:"features"`
}

type statusResponse struct {
	Status     string       `json:"status"`
	Time       string       `json:"time"`
	Version    string       `json:"version"`
	Uptime     string       `json:"uptime"`
	UptimeSec  int64        `json:"uptime_seconds"`
	ConfigPath string       `json:"config_path"`
	Rules      rulesStatus  `json:"rules"`
	Ingest     ingestStatus `json:"ingest"`
	API        apiStatus    `json:"api"`
}

type rulesStatus struct {
	Source      string `json:"source"`
	Version     int    `json:"version"`
	Fingerprint string `json:"fingerprint"`
	Rules       int    `json:"rules"`
}

type ingestStatus struct {
	Kafka   bool `json:"kafka"`
	File    bool `json:"file"`
	Results bool `json:"results"`
}

type apiStatus struct {
	Enabled        bool   `json:"enabled"`
	Addr           string `json:"addr"`
	MaxUploadBytes int64  `json:"max_upload_bytes"`
}

func NewServer(cfg *config.Manager, deps Deps, logger *slog.Logger, version string) *Server {
	return &Server{
		cfg:      cfg,
		analyzer: deps.Analyzer,
		rules:    deps.Rules,
		metrics:  deps.Metrics,
		jobs:     deps.Jobs,
		logger:   logger,
		version:  version,
		started:  time.Now(),
	}
}

func Start(ctx context.Context, cfg *config.Manager, deps Deps, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := NewServer(cfg, deps, logger, version)
	httpServer := &http.Server{
		Addr:              current.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/analiz", s.handleAnalyze)
	mux.HandleFunc("/analyze", s.handleAnalyze)
	mux.HandleFunc("/diagnose", s.handleDiagnose)
	mux.HandleFunc("/rules", s.handleRules)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/admin/reload", s.handleReload)
	mux.HandleFunc("/admin/clear", s.handleClear)
	if s.jobs != nil {
		mux.Handle("/jobs", s.jobs)
	}
	return mux
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	r.Body = http.MaxBytesReader(w, r.Body, cfg.API.MaxUploadBytes)
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "recording too large")
			return
		}
		if !errors.Is(err, http.ErrNotMultipart) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"sonuc_baslik": errorTitle, "grafik": []float64{}})
			return
		}
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	file, _, err := r.FormFile("ses")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"sonuc_baslik": errorTitle, "grafik": []float64{}})
		return
	}
	defer file.Close()

	category := r.FormValue("tur")
	if category == "" {
		category = r.FormValue("category")
	}
	ctx := r.Context()
	if cfg.API.AnalysisTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.API.AnalysisTimeout)
		defer cancel()
	}
	report, err := s.analyzer.Analyze(ctx, file, category)
	if err != nil {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			status = http.StatusServiceUnavailable
		}
		if s.logger != nil {
			s.logger.Warn("analysis failed", "category", category, "err", err)
		}
		writeError(w, status, analysisFailed)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(report))
}

func (s *Server) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	fields, err := ingest.ParseJSONBytes(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	job, err := normalize.Normalize(*fields, "api")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	report := s.analyzer.AnalyzeFeatures(job.Features, fields.Category)
	if job.ID != "" {
		report.ID = job.ID
	}
	writeJSON(w, http.StatusOK, toResponse(report))
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		reg := s.rules.Registry()
		if strings.EqualFold(r.URL.Query().Get("format"), "yaml") {
			data, err := rules.Marshal(reg.Document(), "yaml")
			if err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/yaml")
			w.Header().Set("ETag", `"`+reg.Fingerprint()+`"`)
			_, _ = w.Write(data)
			return
		}
		w.Header().Set("ETag", `"`+reg.Fingerprint()+`"`)
		writeJSON(w, http.StatusOK, map[string]any{
			"source":      s.rules.SourceName(),
			"version":     reg.Version(),
			"fingerprint": reg.Fingerprint(),
			"rules":       reg.Document(),
		})
	case http.MethodPost, http.MethodPut:
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		doc, err := rules.Parse(body)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		reg, err := s.rules.Replace(r.Context(), doc)
		if errors.Is(err, rules.ErrReadOnly) {
			writeError(w, http.StatusConflict, "rule source "+s.rules.SourceName()+" is read-only")
			return
		}
		if err != nil {
			if s.logger != nil {
				s.logger.Error("rules update failed", "err", err)
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"version":     reg.Version(),
			"fingerprint": reg.Fingerprint(),
		})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	changed, err := s.rules.Reload(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"changed":     changed,
		"fingerprint": s.rules.Registry().Fingerprint(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snapshot := s.metrics.Snapshot()
	total := 0
	for _, t := range snapshot {
		total += t.Total
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"since":      s.metrics.Since().Format(time.RFC3339Nano),
		"total":      total,
		"categories": snapshot,
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.metrics.Clear()
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	reg := s.rules.Registry()
	uptime := time.Since(s.started).Round(time.Second)
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		Uptime:     uptime.String(),
		UptimeSec:  int64(uptime.Seconds()),
		ConfigPath: s.cfg.Path(),
		Rules: rulesStatus{
			Source:      s.rules.SourceName(),
			Version:     reg.Version(),
			Fingerprint: reg.Fingerprint(),
			Rules:       reg.RuleCount(),
		},
		Ingest: ingestStatus{
			Kafka:   cfg.Ingest.Kafka.Enabled,
			File:    cfg.Ingest.File.Enabled,
			Results: cfg.Ingest.Kafka.Enabled && cfg.Ingest.Kafka.ResultTopic != "",
		},
		API: apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr, MaxUploadBytes: cfg.API.MaxUploadBytes},
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func toResponse(report model.Report) analysisResponse {
	causes := report.Diagnosis.Causes
	if causes == nil {
		causes = []model.Cause{}
	}
	waveform := report.Waveform
	if waveform == nil {
		waveform = []float64{}
	}
	return analysisResponse{
		Title:    report.Diagnosis.Title,
		Detail:   report.Diagnosis.Detail,
		Code:     report.Diagnosis.Severity.Code(),
		Waveform: waveform,
		ID:       report.ID,
		Category: report.Category,
		Severity: report.Diagnosis.Severity.String(),
		Causes:   causes,
		Features: report.Features,
	}
}

// writeError answers in the analysis response shape so legacy clients can
// render it.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]any{
		"sonuc_baslik": errorTitle,
		"sonuc_detay":  detail,
		"renk_kodu":    model.SeverityGray.Code(),
		"grafik":       []float64{},
		"error":        detail,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
