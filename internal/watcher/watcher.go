package watcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/noah-isme/signage-rotation-api/internal/dto"
	appErrors "github.com/noah-isme/signage-rotation-api/pkg/errors"
)

type scheduleProposer interface {
	Propose(ctx context.Context, req dto.ProposeScheduleRequest, actor string) (*dto.ScheduleVersionResponse, error)
}

// Config tunes the schedule file watcher.
type Config struct {
	// Path is the schedule document to watch.
	Path string
	// Debounce is the quiet period after the last write before the file is
	// read. Editors and deploy tools often produce bursts of events.
	Debounce time.Duration
}

// Watcher proposes a new schedule version whenever the watched file changes.
// Rewrites with identical content are deduplicated by hash so touch(1) and
// idempotent deploys do not grow the version ledger.
type Watcher struct {
	proposer scheduleProposer
	logger   *zap.Logger
	cfg      Config

	mu       sync.Mutex
	lastHash [sha256.Size]byte
	hasHash  bool
}

// New constructs a Watcher.
func New(proposer scheduleProposer, logger *zap.Logger, cfg Config) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("watcher: schedule path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	return &Watcher{proposer: proposer, logger: logger, cfg: cfg}, nil
}

// Prime records the hash of the current file content without proposing it.
// Call it after the bootstrap seed so the first watch event only fires on a
// real change.
func (w *Watcher) Prime() {
	raw, err := os.ReadFile(w.cfg.Path)
	if err != nil {
		return
	}
	w.mu.Lock()
	w.lastHash = sha256.Sum256(raw)
	w.hasHash = true
	w.mu.Unlock()
}

// Run watches until the context is cancelled. The parent directory is
// watched rather than the file itself so atomic replaces (write to temp,
// rename over target) keep being observed.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	defer fsw.Close()

	dir := filepath.Dir(w.cfg.Path)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("watcher: watch %s: %w", dir, err)
	}
	w.logger.Info("watching schedule file", zap.String("path", w.cfg.Path))

	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	target := filepath.Clean(w.cfg.Path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			timer.Reset(w.cfg.Debounce)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("schedule watch error", zap.Error(err))
		case <-timer.C:
			w.apply(ctx)
		}
	}
}

// apply reads the file and proposes it unless the content is unchanged.
func (w *Watcher) apply(ctx context.Context) {
	raw, err := os.ReadFile(w.cfg.Path)
	if err != nil {
		w.logger.Warn("failed to read schedule file", zap.String("path", w.cfg.Path), zap.Error(err))
		return
	}

	sum := sha256.Sum256(raw)
	w.mu.Lock()
	unchanged := w.hasHash && sum == w.lastHash
	w.mu.Unlock()
	if unchanged {
		w.logger.Debug("schedule file rewritten with identical content", zap.String("path", w.cfg.Path))
		return
	}

	summary := fmt.Sprintf("file change: %s", filepath.Base(w.cfg.Path))
	resp, err := w.proposer.Propose(ctx, dto.ProposeScheduleRequest{Document: raw, Summary: summary}, "file-watcher")
	if err != nil {
		if isPermanentReject(err) {
			// Remember rejected content so the same bad bytes are not
			// re-proposed on every touch. A transient failure keeps the
			// hash clear for a retry on the next event.
			w.rememberHash(sum)
			w.logger.Error("schedule file rejected", zap.String("path", w.cfg.Path), zap.Error(err))
			return
		}
		w.logger.Error("failed to propose schedule file", zap.String("path", w.cfg.Path), zap.Error(err))
		return
	}

	w.rememberHash(sum)
	w.logger.Info("schedule file committed",
		zap.String("path", w.cfg.Path),
		zap.Int64("version_id", resp.VersionID))
}

func (w *Watcher) rememberHash(sum [sha256.Size]byte) {
	w.mu.Lock()
	w.lastHash = sum
	w.hasHash = true
	w.mu.Unlock()
}

func isPermanentReject(err error) bool {
	switch appErrors.FromError(err).Code {
	case appErrors.ErrDocumentInvalid.Code,
		appErrors.ErrValidation.Code,
		appErrors.ErrCyclicReference.Code,
		appErrors.ErrMigration.Code:
		return true
	default:
		return false
	}
}
