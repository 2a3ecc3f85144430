package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel  string          `json:"log_level" yaml:"log_level"`
	LogFormat string          `json:"log_format" yaml:"log_format"`
	API       APIConfig       `json:"api" yaml:"api"`
	Rules     RulesConfig     `json:"rules" yaml:"rules"`
	Extractor ExtractorConfig `json:"extractor" yaml:"extractor"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	Ingest    IngestConfig    `json:"ingest" yaml:"ingest"`
	Stats     StatsConfig     `json:"stats" yaml:"stats"`
}

type APIConfig struct {
	Enabled         bool          `json:"enabled" yaml:"enabled"`
	Addr            string        `json:"addr" yaml:"addr"`
	MaxUploadBytes  int64         `json:"max_upload_bytes" yaml:"max_upload_bytes"`
	WaveformPoints  int           `json:"waveform_points" yaml:"waveform_points"`
	AnalysisTimeout time.Duration `json:"analysis_timeout" yaml:"analysis_timeout"`
}

type RulesConfig struct {
	// Source is one of embedded, file or db.
	Source         string        `json:"source" yaml:"source"`
	Path           string        `json:"path" yaml:"path"`
	ReloadInterval time.Duration `json:"reload_interval" yaml:"reload_interval"`
}

type ExtractorConfig struct {
	SampleRate  int           `json:"sample_rate" yaml:"sample_rate"`
	FrameLength int           `json:"frame_length" yaml:"frame_length"`
	HopLength   int           `json:"hop_length" yaml:"hop_length"`
	MelBands    int           `json:"mel_bands" yaml:"mel_bands"`
	MaxDuration time.Duration `json:"max_duration" yaml:"max_duration"`
}

type StorageConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Driver  string `json:"driver" yaml:"driver"`
	DSN     string `json:"dsn" yaml:"dsn"`
}

type IngestConfig struct {
	ChannelBuffer int              `json:"channel_buffer" yaml:"channel_buffer"`
	DedupeWindow  time.Duration    `json:"dedupe_window" yaml:"dedupe_window"`
	Kafka         KafkaConfig      `json:"kafka" yaml:"kafka"`
	File          FileIngestConfig `json:"file" yaml:"file"`
}

// FileIngestConfig tails job files, one complete job per line.
type FileIngestConfig struct {
	Enabled    bool     `json:"enabled" yaml:"enabled"`
	Paths      []string `json:"paths" yaml:"paths"`
	StartAtEnd bool     `json:"start_at_end" yaml:"start_at_end"`
}

// StatsConfig controls periodic persistence of verdict tallies. Only
// counts are written, never diagnoses.
type StatsConfig struct {
	Persist       bool          `json:"persist" yaml:"persist"`
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
}

type KafkaConfig struct {
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Brokers     []string `json:"brokers" yaml:"brokers"`
	Topic       string   `json:"topic" yaml:"topic"`
	GroupID     string   `json:"group_id" yaml:"group_id"`
	ResultTopic string   `json:"result_topic" yaml:"result_topic"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "json",
		API: APIConfig{
			Enabled:         true,
			Addr:            ":5000",
			MaxUploadBytes:  32 << 20,
			WaveformPoints:  50,
			AnalysisTimeout: 30 * time.Second,
		},
		Rules: RulesConfig{
			Source:         "embedded",
			ReloadInterval: 5 * time.Second,
		},
		Extractor: ExtractorConfig{
			SampleRate:  22050,
			FrameLength: 2048,
			HopLength:   512,
			MelBands:    128,
			MaxDuration: 60 * time.Second,
		},
		Storage: StorageConfig{Enabled: false, Driver: "sqlite", DSN: "file:soundfault.db?_pragma=busy_timeout(5000)"},
		Ingest: IngestConfig{
			ChannelBuffer: 1000,
			DedupeWindow:  10 * time.Minute,
			Kafka:         KafkaConfig{Enabled: false},
			File:          FileIngestConfig{Enabled: false, StartAtEnd: true},
		},
		Stats: StatsConfig{Persist: false, FlushInterval: time.Minute},
	}
}

// Load reads a YAML or JSON config file. An empty path yields the defaults.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		content, err := io.ReadAll(f)
		if err != nil {
			return nil, err
		}
		trimmed := strings.TrimSpace(string(content))
		if len(trimmed) == 0 {
			return nil, errors.New("config file is empty")
		}
		var decodeErr error
		if looksLikeJSON(trimmed) {
			decodeErr = json.Unmarshal([]byte(trimmed), cfg)
		} else {
			decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
		}
		if decodeErr != nil {
			return nil, decodeErr
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	if path == "" || cfg == nil {
		return errors.New("config path or config is empty")
	}
	var data []byte
	var err error
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".json" {
		data, err = json.MarshalIndent(cfg, "", "  ")
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyEnv(cfg *Config) error {
	if v, ok := lookupEnv("SOUNDFAULT_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := lookupEnv("SOUNDFAULT_API_ADDR"); ok {
		cfg.API.Addr = v
	}
	if v, ok := lookupEnv("SOUNDFAULT_RULES_SOURCE"); ok {
		cfg.Rules.Source = v
	}
	if v, ok := lookupEnv("SOUNDFAULT_RULES_PATH"); ok {
		cfg.Rules.Path = v
	}
	if v, ok := lookupEnv("SOUNDFAULT_STORAGE_DRIVER"); ok {
		cfg.Storage.Driver = v
	}
	if v, ok := lookupEnv("SOUNDFAULT_STORAGE_DSN"); ok {
		cfg.Storage.DSN = v
	}
	if v, ok := lookupEnv("SOUNDFAULT_STORAGE_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SOUNDFAULT_STORAGE_ENABLED: %w", err)
		}
		cfg.Storage.Enabled = b
	}
	if v, ok := lookupEnv("SOUNDFAULT_KAFKA_BROKERS"); ok {
		cfg.Ingest.Kafka.Brokers = splitList(v)
		cfg.Ingest.Kafka.Enabled = len(cfg.Ingest.Kafka.Brokers) > 0
	}
	return nil
}

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func applyDefaults(cfg *Config) {
	def := DefaultConfig()
	if cfg.LogFormat == "" {
		cfg.LogFormat = def.LogFormat
	}
	if cfg.API.MaxUploadBytes <= 0 {
		cfg.API.MaxUploadBytes = def.API.MaxUploadBytes
	}
	if cfg.API.WaveformPoints <= 0 {
		cfg.API.WaveformPoints = def.API.WaveformPoints
	}
	if cfg.Rules.Source == "" {
		cfg.Rules.Source = def.Rules.Source
	}
	cfg.Rules.Source = strings.ToLower(cfg.Rules.Source)
	if cfg.Extractor.SampleRate <= 0 {
		cfg.Extractor.SampleRate = def.Extractor.SampleRate
	}
	if cfg.Extractor.FrameLength <= 0 {
		cfg.Extractor.FrameLength = def.Extractor.FrameLength
	}
	if cfg.Extractor.HopLength <= 0 {
		cfg.Extractor.HopLength = def.Extractor.HopLength
	}
	if cfg.Extractor.MelBands <= 0 {
		cfg.Extractor.MelBands = def.Extractor.MelBands
	}
	if cfg.Ingest.ChannelBuffer <= 0 {
		cfg.Ingest.ChannelBuffer = def.Ingest.ChannelBuffer
	}
	if cfg.Stats.FlushInterval <= 0 {
		cfg.Stats.FlushInterval = def.Stats.FlushInterval
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	switch cfg.Rules.Source {
	case "embedded":
	case "file":
		if cfg.Rules.Path == "" {
			return errors.New("rules.path required when rules.source is file")
		}
	case "db":
		if !cfg.Storage.Enabled {
			return errors.New("storage.enabled required when rules.source is db")
		}
	default:
		return fmt.Errorf("rules.source must be embedded, file or db, got %q", cfg.Rules.Source)
	}
	if cfg.Storage.Enabled {
		switch strings.ToLower(cfg.Storage.Driver) {
		case "sqlite", "postgres", "postgresql":
		default:
			return fmt.Errorf("unsupported storage driver %q", cfg.Storage.Driver)
		}
	}
	if cfg.Stats.Persist && !cfg.Storage.Enabled {
		return errors.New("storage.enabled required when stats.persist is true")
	}
	if cfg.Ingest.Kafka.Enabled {
		if len(cfg.Ingest.Kafka.Brokers) == 0 || cfg.Ingest.Kafka.Topic == "" || cfg.Ingest.Kafka.GroupID == "" {
			return errors.New("ingest.kafka requires brokers, topic, group_id")
		}
	}
	if cfg.Ingest.File.Enabled && len(cfg.Ingest.File.Paths) == 0 {
		return errors.New("ingest.file.paths required when ingest.file.enabled is true")
	}
	if cfg.Extractor.HopLength > cfg.Extractor.FrameLength {
		return errors.New("extractor.hop_length must not exceed frame_length")
	}
	if n := cfg.Extractor.FrameLength; n&(n-1) != 0 {
		return fmt.Errorf("extractor.frame_length must be a power of two, got %d", n)
	}
	return nil
}

type Manager struct {
	path    string
	cfg     atomic.Pointer[Config]
	modTime atomic.Int64
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	m.touch()
	return m, nil
}

// NewStaticManager wraps an already loaded config that is never reloaded.
func NewStaticManager(cfg *Config) *Manager {
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if cfg := m.cfg.Load(); cfg != nil {
		return cfg
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) Reload() (*Config, error) {
	cfg, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.cfg.Store(cfg)
	m.touch()
	return cfg, nil
}

func (m *Manager) NeedsReload() (bool, error) {
	if m.path == "" {
		return false, nil
	}
	info, err := os.Stat(m.path)
	if err != nil {
		return false, err
	}
	return info.ModTime().UnixNano() > m.modTime.Load(), nil
}

func (m *Manager) touch() {
	if m.path == "" {
		return
	}
	if info, err := os.Stat(m.path); err == nil {
		m.modTime.Store(info.ModTime().UnixNano())
	}
}

func (m *Manager) Watch(interval time.Duration, onReload func(*Config), onError func(error), stop <-chan struct{}) {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			needs, err := m.NeedsReload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if !needs {
				continue
			}
			cfg, err := m.Reload()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if onReload != nil {
				onReload(cfg)
			}
		case <-stop:
			return
		}
	}
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}
