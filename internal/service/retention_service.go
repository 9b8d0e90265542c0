package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/signage-rotation-api/internal/models"
)

type versionPruner interface {
	Prune(ctx context.Context, cutoff time.Time, keepCount int) (int64, error)
	Count(ctx context.Context) (int, error)
}

type reportCleaner interface {
	CleanupExpired(ctx context.Context)
}

type retentionAuditLogger interface {
	Create(ctx context.Context, entry *models.AuditLog) error
}

// RetentionConfig governs how much schedule history survives the nightly sweep.
type RetentionConfig struct {
	Schedule  string
	MaxAge    time.Duration
	KeepCount int
}

// RetentionService prunes old schedule versions and expired report exports on
// a cron schedule. The latest version and pinned versions are never pruned.
type RetentionService struct {
	versions versionPruner
	reports  reportCleaner
	audit    retentionAuditLogger
	cache    *CacheService
	logger   *zap.Logger
	cron     *cron.Cron
	cfg      RetentionConfig
}

// NewRetentionService constructs the retention sweeper. reports, audit and
// cache may be nil.
func NewRetentionService(versions versionPruner, reports reportCleaner, audit retentionAuditLogger, cache *CacheService, logger *zap.Logger, cfg RetentionConfig) *RetentionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "0 3 * * *"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 30 * 24 * time.Hour
	}
	if cfg.KeepCount <= 0 {
		cfg.KeepCount = 10
	}
	return &RetentionService{
		versions: versions,
		reports:  reports,
		audit:    audit,
		cache:    cache,
		logger:   logger,
		cfg:      cfg,
	}
}

// Start registers the sweep with the cron runner.
func (s *RetentionService) Start() error {
	if _, err := cron.ParseStandard(s.cfg.Schedule); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", s.cfg.Schedule, err)
	}
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.RunOnce(context.Background()); err != nil {
			s.logger.Error("retention sweep failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("retention sweep scheduled",
		zap.String("schedule", s.cfg.Schedule),
		zap.Duration("max_age", s.cfg.MaxAge),
		zap.Int("keep_count", s.cfg.KeepCount))
	return nil
}

// Stop halts the cron runner and waits for an in-flight sweep to finish.
func (s *RetentionService) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// RunOnce performs a single sweep and returns the number of pruned versions.
func (s *RetentionService) RunOnce(ctx context.Context) (int64, error) {
	cutoff := time.Now().UTC().Add(-s.cfg.MaxAge)
	pruned, err := s.versions.Prune(ctx, cutoff, s.cfg.KeepCount)
	if err != nil {
		return 0, fmt.Errorf("prune schedule versions: %w", err)
	}
	if pruned > 0 {
		remaining := -1
		if count, err := s.versions.Count(ctx); err == nil {
			remaining = count
		}
		s.logger.Info("pruned schedule versions",
			zap.Int64("count", pruned),
			zap.Int("remaining", remaining),
			zap.Time("cutoff", cutoff))
		_ = s.cache.Invalidate(ctx, ScheduleCachePattern)
		s.recordPruneAudit(ctx, pruned, cutoff)
	}
	if s.reports != nil {
		s.reports.CleanupExpired(ctx)
	}
	return pruned, nil
}

func (s *RetentionService) recordPruneAudit(ctx context.Context, pruned int64, cutoff time.Time) {
	if s.audit == nil {
		return
	}
	detail, err := json.Marshal(map[string]interface{}{
		"pruned": pruned,
		"cutoff": cutoff.Format(time.RFC3339),
	})
	if err != nil {
		detail = nil
	}
	entry := &models.AuditLog{
		Actor:     "system",
		Action:    models.AuditActionVersionPrune,
		Resource:  "schedule",
		Detail:    detail,
		IPAddress: "system",
		UserAgent: "retention-service",
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		s.logger.Warn("failed to record prune audit log", zap.Error(err))
	}
}
