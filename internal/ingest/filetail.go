package ingest

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"soundfault/internal/config"
	"soundfault/internal/model"
	"soundfault/internal/normalize"
)

const (
	jobFileRetry = 500 * time.Millisecond
	jobFilePoll  = 200 * time.Millisecond
)

// StartFileTail follows job files written by field collectors. Each line
// is one complete job; a truncated file is reopened from the start.
func StartFileTail(ctx context.Context, cfg *config.Manager, out chan<- model.Job, logger *slog.Logger) {
	current := cfg.Get().Ingest.File
	if !current.Enabled {
		if logger != nil {
			logger.Info("file ingest disabled")
		}
		return
	}
	for _, path := range current.Paths {
		t := &jobFile{path: path, skipExisting: current.StartAtEnd, parser: NewParser(), out: out, logger: logger}
		if logger != nil {
			logger.Info("file ingest enabled", "path", path, "start_at_end", current.StartAtEnd)
		}
		go t.run(ctx)
	}
}

// jobFile follows one job file across truncations.
type jobFile struct {
	path         string
	skipExisting bool
	parser       *Parser
	out          chan<- model.Job
	logger       *slog.Logger
}

func (t *jobFile) run(ctx context.Context) {
	for {
		f, offset, ok := t.open(ctx)
		if !ok {
			return
		}
		// skipExisting applies to the first open only
		t.skipExisting = false
		truncated := t.follow(ctx, f, offset)
		_ = f.Close()
		if !truncated {
			return
		}
		t.warn("reopening job file from the start")
	}
}

// open retries until the file exists or ctx is done.
func (t *jobFile) open(ctx context.Context) (*os.File, int64, bool) {
	for {
		f, err := os.Open(t.path)
		if err == nil {
			if !t.skipExisting {
				return f, 0, true
			}
			end, err := f.Seek(0, io.SeekEnd)
			if err != nil {
				end = 0
			}
			return f, end, true
		}
		t.warn("job file open failed", "err", err)
		if !BackoffSleep(ctx, jobFileRetry) {
			return nil, 0, false
		}
	}
}

// follow reads complete lines until ctx ends or the file shrinks below
// the bytes already consumed. It reports whether the file should be
// reopened.
func (t *jobFile) follow(ctx context.Context, f *os.File, offset int64) bool {
	reader := bufio.NewReader(f)
	var pending string
	for {
		chunk, err := reader.ReadString('\n')
		switch {
		case err == io.EOF:
			pending += chunk
			if !BackoffSleep(ctx, jobFilePoll) {
				return false
			}
			if info, err := os.Stat(t.path); err == nil && info.Size() < offset {
				return true
			}
			continue
		case err != nil:
			t.warn("job file read failed", "err", err)
			return true
		}
		line := pending + chunk
		pending = ""
		offset += int64(len(line))
		t.submit(ctx, line)
	}
}

func (t *jobFile) submit(ctx context.Context, line string) {
	fields, err := t.parser.ParseLine(line)
	if err != nil {
		t.warn("job line rejected", "err", err)
		return
	}
	if fields == nil {
		return
	}
	job, err := normalize.Normalize(*fields, "file")
	if err != nil {
		t.warn("job line incomplete", "err", err)
		return
	}
	SendNonBlocking(ctx, t.out, job, t.logger)
}

func (t *jobFile) warn(msg string, args ...any) {
	if t.logger != nil {
		t.logger.Warn(msg, append([]any{"path", t.path}, args...)...)
	}
}
