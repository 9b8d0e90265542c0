package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/signage-rotation-api/internal/dto"
	"github.com/noah-isme/signage-rotation-api/internal/models"
	appErrors "github.com/noah-isme/signage-rotation-api/pkg/errors"
)

type versionLedger interface {
	Insert(ctx context.Context, record *models.VersionRecord) error
	GetByID(ctx context.Context, versionID int64) (*models.VersionRecord, error)
	Latest(ctx context.Context) (*models.VersionRecord, error)
	List(ctx context.Context, filter models.VersionFilter) ([]models.VersionRecord, int, error)
	SetPinned(ctx context.Context, versionID int64, pinned bool) error
}

type rotationAuditLogger interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

type rotationStateStore interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type rotationMetrics interface {
	RecordRotationTick(screen string)
	RecordNoEligible()
	RecordInvariantViolation()
	RecordVersionCommit()
	RecordProposalRejected()
	ObserveAdvance(duration time.Duration)
	ObserveDBQuery(label string, duration time.Duration)
}

// rotationSnapshot is the persisted slice of walk state. The descent stack
// is intentionally absent; a restart resumes at the root step after the one
// the display was inside.
type rotationSnapshot struct {
	VersionID int64                    `json:"version_id"`
	Cursor    int                      `json:"cursor"`
	Counters  map[string]*RuleCounters `json:"counters"`
	Screen    string                   `json:"screen"`
	ChangedAt time.Time                `json:"changed_at"`
}

// RotationServiceConfig tunes runtime behaviour.
type RotationServiceConfig struct {
	StateKey     string
	StateTTL     time.Duration
	PreviewLimit int
}

// RotationService is the scheduling facade: it owns the active document and
// walk state, commits proposals to the version ledger, and advances the
// rotation. Commits always hit the ledger before the in-memory swap, so a
// storage failure leaves the live rotation untouched.
type RotationService struct {
	versions  versionLedger
	audit     rotationAuditLogger
	state     rotationStateStore
	cache     *CacheService
	metrics   rotationMetrics
	walker    *Walker
	validator *validator.Validate
	logger    *zap.Logger

	stateKey     string
	stateTTL     time.Duration
	previewLimit int

	mu        sync.Mutex
	doc       *models.Document
	active    models.VersionRecord
	walk      *WalkState
	current   string
	changedAt time.Time
	fatal     *appErrors.Error
}

// NewRotationService constructs the facade. state, cache and metrics may be nil.
func NewRotationService(versions versionLedger, audit rotationAuditLogger, state rotationStateStore, cache *CacheService, metrics rotationMetrics, walker *Walker, validate *validator.Validate, logger *zap.Logger, cfg RotationServiceConfig) *RotationService {
	if walker == nil {
		walker = NewWalker()
	}
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.StateKey == "" {
		cfg.StateKey = "rotation:state"
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 24 * time.Hour
	}
	if cfg.PreviewLimit <= 0 {
		cfg.PreviewLimit = 200
	}
	return &RotationService{
		versions:     versions,
		audit:        audit,
		state:        state,
		cache:        cache,
		metrics:      metrics,
		walker:       walker,
		validator:    validate,
		logger:       logger,
		stateKey:     cfg.StateKey,
		stateTTL:     cfg.StateTTL,
		previewLimit: cfg.PreviewLimit,
		walk:         NewWalkState(),
	}
}

// Bootstrap loads the latest committed version, or commits the seed document
// when the ledger is empty, and restores the persisted walk position when it
// still matches the active version.
func (s *RotationService) Bootstrap(ctx context.Context, seed json.RawMessage) error {
	record, err := s.versions.Latest(ctx)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load latest schedule version")
		}
		if len(seed) == 0 {
			s.logger.Warn("no schedule committed and no seed document configured")
			return nil
		}
		if _, err := s.Propose(ctx, dto.ProposeScheduleRequest{Document: seed, Summary: "seed schedule"}, "system"); err != nil {
			return err
		}
		return nil
	}

	doc, err := models.DecodeDocument(record.Document)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fmt.Sprintf("stored version %d is unreadable", record.VersionID))
	}
	migrated, _, err := MigrateDocument(doc)
	if err == nil {
		err = ValidateDocument(migrated)
	}
	if err != nil {
		// Keep the admin plane alive so an operator can roll back.
		s.mu.Lock()
		s.active = *record
		s.fatal = appErrors.Clone(appErrors.ErrInvariantViolation, fmt.Sprintf("active version %d fails validation: %v", record.VersionID, err))
		s.mu.Unlock()
		s.logger.Error("active schedule version fails validation",
			zap.Int64("version_id", record.VersionID), zap.Error(err))
		return nil
	}

	s.install(migrated, *record)
	s.restoreState(ctx)
	s.logger.Info("schedule version activated",
		zap.Int64("version_id", record.VersionID), zap.String("actor", record.Actor))
	return nil
}

// Propose validates and commits a candidate document, then swaps it in as
// the active schedule. Rule counters survive the swap for every rule
// occurrence whose identity path still exists in the new document.
func (s *RotationService) Propose(ctx context.Context, req dto.ProposeScheduleRequest, actor string) (*dto.ScheduleVersionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid proposal payload")
	}

	doc, err := models.DecodeDocument(req.Document)
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrDocumentInvalid.Code, appErrors.ErrDocumentInvalid.Status, fmt.Sprintf("malformed schedule document: %v", err))
		s.rejectProposal(ctx, actor, err)
		return nil, err
	}
	migrated, migratedChanged, err := MigrateDocument(doc)
	if err != nil {
		s.rejectProposal(ctx, actor, err)
		return nil, err
	}
	if err := ValidateDocument(migrated); err != nil {
		s.rejectProposal(ctx, actor, err)
		return nil, err
	}

	payload, err := models.EncodeDocument(migrated)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to encode schedule document")
	}

	summary := req.Summary
	if summary == "" {
		summary = "schedule update"
	}
	record := models.VersionRecord{Actor: actor, Summary: summary, Document: payload}
	if err := s.versions.Insert(ctx, &record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit schedule version")
	}

	s.install(migrated, record)
	_ = s.cache.Invalidate(ctx, ScheduleCachePattern)
	if s.metrics != nil {
		s.metrics.RecordVersionCommit()
	}
	s.emitAudit(ctx, actor, models.AuditActionSchedulePropose, "schedule", versionRef(record.VersionID), map[string]interface{}{
		"summary":  summary,
		"migrated": migratedChanged,
	})
	s.logger.Info("schedule version committed",
		zap.Int64("version_id", record.VersionID),
		zap.String("actor", actor),
		zap.Bool("migrated", migratedChanged))

	s.saveState(ctx)
	return versionResponse(record), nil
}

// Rollback commits the document of an earlier version as a new head. The
// stored document is re-validated; versions that predate a rule change may
// no longer be eligible.
func (s *RotationService) Rollback(ctx context.Context, req dto.RollbackRequest, actor string) (*dto.ScheduleVersionResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid rollback payload")
	}

	target, err := s.versions.GetByID(ctx, req.VersionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("version %d not found", req.VersionID))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load version")
	}

	doc, err := models.DecodeDocument(target.Document)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrDocumentInvalid.Code, appErrors.ErrDocumentInvalid.Status, fmt.Sprintf("stored version %d is unreadable", target.VersionID))
	}
	migrated, _, err := MigrateDocument(doc)
	if err == nil {
		err = ValidateDocument(migrated)
	}
	if err != nil {
		s.rejectProposal(ctx, actor, err)
		return nil, err
	}

	summary := req.Summary
	if summary == "" {
		summary = fmt.Sprintf("rollback to version %d", target.VersionID)
	}
	record := models.VersionRecord{Actor: actor, Summary: summary, Document: target.Document}
	if err := s.versions.Insert(ctx, &record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit rollback version")
	}

	s.install(migrated, record)
	_ = s.cache.Invalidate(ctx, ScheduleCachePattern)
	if s.metrics != nil {
		s.metrics.RecordVersionCommit()
	}
	s.emitAudit(ctx, actor, models.AuditActionScheduleRollback, "schedule", versionRef(record.VersionID), map[string]interface{}{
		"target_version": target.VersionID,
	})
	s.logger.Info("schedule rolled back",
		zap.Int64("target_version", target.VersionID),
		zap.Int64("version_id", record.VersionID),
		zap.String("actor", actor))

	s.saveState(ctx)
	return versionResponse(record), nil
}

// Next advances the rotation one screen. An invariant violation latches the
// rotation until a new document is committed; NO_ELIGIBLE_SCREEN does not.
func (s *RotationService) Next(ctx context.Context, now time.Time) (dto.CurrentScreenResponse, error) {
	s.mu.Lock()
	if s.fatal != nil {
		resp := dto.CurrentScreenResponse{Screen: s.current, VersionID: s.active.VersionID, ChangedAt: s.changedAt, Halted: s.fatal.Code}
		err := s.fatal
		s.mu.Unlock()
		return resp, err
	}
	if s.doc == nil {
		s.mu.Unlock()
		return dto.CurrentScreenResponse{}, appErrors.Clone(appErrors.ErrNotFound, "no schedule committed")
	}

	started := time.Now()
	screen, err := s.walker.Advance(s.doc, s.walk, now)
	elapsed := time.Since(started)
	if err != nil {
		appErr := appErrors.FromError(err)
		resp := dto.CurrentScreenResponse{Screen: s.current, VersionID: s.active.VersionID, ChangedAt: s.changedAt, Halted: appErr.Code}
		if appErr.Code == appErrors.ErrNoEligibleScreen.Code {
			s.mu.Unlock()
			if s.metrics != nil {
				s.metrics.RecordNoEligible()
			}
			return resp, err
		}
		s.fatal = appErr
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.RecordInvariantViolation()
		}
		s.logger.Error("rotation halted by invariant violation",
			zap.Int64("version_id", resp.VersionID), zap.Error(err))
		return resp, err
	}

	s.current = screen
	s.changedAt = now
	resp := dto.CurrentScreenResponse{Screen: screen, VersionID: s.active.VersionID, ChangedAt: now}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordRotationTick(screen)
		s.metrics.ObserveAdvance(elapsed)
	}
	s.saveState(ctx)
	return resp, nil
}

// Skip is a manually triggered advance; it audits who pushed the button.
func (s *RotationService) Skip(ctx context.Context, now time.Time, actor string) (dto.CurrentScreenResponse, error) {
	resp, err := s.Next(ctx, now)
	s.emitAudit(ctx, actor, models.AuditActionPlayerSkip, "rotation", nil, map[string]interface{}{
		"screen": resp.Screen,
		"halted": resp.Halted,
	})
	return resp, err
}

// Current reports the rotation position without advancing it.
func (s *RotationService) Current(ctx context.Context) (dto.CurrentScreenResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc == nil && s.fatal == nil {
		return dto.CurrentScreenResponse{}, appErrors.Clone(appErrors.ErrNotFound, "no schedule committed")
	}
	resp := dto.CurrentScreenResponse{Screen: s.current, VersionID: s.active.VersionID, ChangedAt: s.changedAt}
	if s.fatal != nil {
		resp.Halted = s.fatal.Code
	}
	return resp, nil
}

// Preview simulates the next screens without touching live state. With no
// candidate document the active schedule and a copy of its counters are
// used; a candidate runs from a fresh state.
func (s *RotationService) Preview(ctx context.Context, req dto.PreviewRequest, now time.Time) (*dto.PreviewResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid preview payload")
	}

	count := req.Count
	if count <= 0 {
		count = 20
	}
	if count > s.previewLimit {
		count = s.previewLimit
	}
	at := now
	if req.At != nil {
		at = *req.At
	}
	seed := time.Now().UnixNano()
	if req.Seed != nil {
		seed = *req.Seed
	}

	var (
		doc       *models.Document
		state     *WalkState
		versionID *int64
	)
	if len(req.Document) == 0 {
		s.mu.Lock()
		if s.doc == nil {
			s.mu.Unlock()
			return nil, appErrors.Clone(appErrors.ErrNotFound, "no schedule committed")
		}
		doc = s.doc
		state = s.walk.Clone()
		id := s.active.VersionID
		s.mu.Unlock()
		versionID = &id
	} else {
		decoded, err := models.DecodeDocument(req.Document)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrDocumentInvalid.Code, appErrors.ErrDocumentInvalid.Status, fmt.Sprintf("malformed schedule document: %v", err))
		}
		migrated, _, err := MigrateDocument(decoded)
		if err != nil {
			return nil, err
		}
		if err := ValidateDocument(migrated); err != nil {
			return nil, err
		}
		doc = &migrated
		state = NewWalkState()
	}

	walker := NewWalker(WithWalkerRand(rand.New(rand.NewSource(seed))))
	resp := &dto.PreviewResponse{Screens: make([]string, 0, count), VersionID: versionID}
	for i := 0; i < count; i++ {
		screen, err := walker.Advance(doc, state, at)
		if err != nil {
			appErr := appErrors.FromError(err)
			if appErr.Code == appErrors.ErrNoEligibleScreen.Code {
				resp.Halted = appErr.Code
				break
			}
			return nil, err
		}
		resp.Screens = append(resp.Screens, screen)
	}
	return resp, nil
}

// GetActive returns the committed form of the active schedule.
func (s *RotationService) GetActive(ctx context.Context) (*dto.ScheduleVersionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active.VersionID == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "no schedule committed")
	}
	record := s.active
	return versionResponse(record), nil
}

// GetVersion fetches one ledger entry with its document.
func (s *RotationService) GetVersion(ctx context.Context, versionID int64) (*dto.ScheduleVersionResponse, error) {
	record, err := s.versions.GetByID(ctx, versionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("version %d not found", versionID))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load version")
	}
	return versionResponse(*record), nil
}

// versionPage is the cached shape of one ledger listing.
type versionPage struct {
	Items []dto.VersionSummary `json:"items"`
	Total int                  `json:"total"`
}

// ListVersions pages through the ledger, newest first. The boolean reports
// whether the page came from cache.
func (s *RotationService) ListVersions(ctx context.Context, query dto.VersionListQuery) ([]dto.VersionSummary, int, bool, error) {
	key := VersionListCacheKey(query.Actor, query.PinnedOnly, query.Page, query.PageSize)
	var cached versionPage
	if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
		return cached.Items, cached.Total, true, nil
	}

	start := time.Now()
	records, total, err := s.versions.List(ctx, models.VersionFilter{
		Actor:      query.Actor,
		PinnedOnly: query.PinnedOnly,
		Page:       query.Page,
		PageSize:   query.PageSize,
	})
	if s.metrics != nil {
		s.metrics.ObserveDBQuery("versions_list", time.Since(start))
	}
	if err != nil {
		return nil, 0, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list versions")
	}
	summaries := make([]dto.VersionSummary, 0, len(records))
	for _, record := range records {
		summaries = append(summaries, dto.VersionSummary{
			VersionID: record.VersionID,
			CreatedAt: record.CreatedAt,
			Actor:     record.Actor,
			Summary:   record.Summary,
			Pinned:    record.Pinned,
		})
	}
	_ = s.cache.Set(ctx, key, versionPage{Items: summaries, Total: total}, 0)
	return summaries, total, false, nil
}

// Pin toggles retention protection for a version.
func (s *RotationService) Pin(ctx context.Context, versionID int64, pinned bool, actor string) error {
	if err := s.versions.SetPinned(ctx, versionID, pinned); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("version %d not found", versionID))
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to pin version")
	}
	_ = s.cache.Invalidate(ctx, ScheduleCachePattern)
	s.emitAudit(ctx, actor, models.AuditActionVersionPin, "version", versionRef(versionID), map[string]interface{}{
		"pinned": pinned,
	})
	return nil
}

// install swaps the active document under the exclusive lock, carrying rule
// counters forward by identity path and clearing any latched failure. The
// ledger insert has already succeeded by the time install runs.
func (s *RotationService) install(doc models.Document, record models.VersionRecord) {
	keep := CollectRulePaths(&doc)

	s.mu.Lock()
	defer s.mu.Unlock()

	next := NewWalkState()
	for path, counters := range s.walk.Counters {
		if _, ok := keep[path]; ok {
			copied := *counters
			next.Counters[path] = &copied
		}
	}
	s.doc = &doc
	s.active = record
	s.walk = next
	s.fatal = nil
}

func (s *RotationService) rejectProposal(ctx context.Context, actor string, cause error) {
	if s.metrics != nil {
		s.metrics.RecordProposalRejected()
	}
	s.emitAudit(ctx, actor, models.AuditActionScheduleReject, "schedule", nil, map[string]interface{}{
		"reason": cause.Error(),
	})
	s.logger.Warn("schedule proposal rejected", zap.String("actor", actor), zap.Error(cause))
}

func (s *RotationService) emitAudit(ctx context.Context, actor, action, resource string, resourceID *string, detail interface{}) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(detail)
	entry := &models.AuditLog{
		Actor:      actor,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Detail:     payload,
		IPAddress:  "system",
		UserAgent:  "rotation-service",
	}
	if err := s.audit.Create(ctx, entry); err != nil {
		s.logger.Warn("failed to record audit entry", zap.String("action", action), zap.Error(err))
	}
}

// saveState persists a snapshot of the walk position outside the lock.
func (s *RotationService) saveState(ctx context.Context) {
	if s.state == nil {
		return
	}
	s.mu.Lock()
	snap := rotationSnapshot{
		VersionID: s.active.VersionID,
		Cursor:    s.walk.Cursor,
		Counters:  make(map[string]*RuleCounters, len(s.walk.Counters)),
		Screen:    s.current,
		ChangedAt: s.changedAt,
	}
	for path, counters := range s.walk.Counters {
		copied := *counters
		snap.Counters[path] = &copied
	}
	s.mu.Unlock()

	if err := s.state.Set(ctx, s.stateKey, snap, s.stateTTL); err != nil {
		s.logger.Warn("failed to persist rotation state", zap.Error(err))
	}
}

// restoreState resumes a persisted walk position when it refers to the
// version that is active now. Snapshots for other versions are dropped so
// they cannot shadow a later restore.
func (s *RotationService) restoreState(ctx context.Context) {
	if s.state == nil {
		return
	}
	var snap rotationSnapshot
	if err := s.state.Get(ctx, s.stateKey, &snap); err != nil {
		if appErrors.FromError(err).Code != appErrors.ErrCacheMiss.Code {
			s.logger.Warn("failed to load rotation state", zap.Error(err))
		}
		return
	}

	s.mu.Lock()
	if s.doc == nil || snap.VersionID != s.active.VersionID {
		s.mu.Unlock()
		if err := s.state.Delete(ctx, s.stateKey); err != nil {
			s.logger.Warn("failed to drop stale rotation state", zap.Error(err))
		}
		return
	}
	cursor := snap.Cursor
	if cursor < 0 || cursor > len(s.doc.Sequence) {
		cursor = 0
	}
	s.walk.Cursor = cursor
	if snap.Counters != nil {
		keep := CollectRulePaths(s.doc)
		for path, counters := range snap.Counters {
			if _, ok := keep[path]; ok && counters != nil {
				copied := *counters
				s.walk.Counters[path] = &copied
			}
		}
	}
	s.current = snap.Screen
	s.changedAt = snap.ChangedAt
	s.mu.Unlock()
	s.logger.Info("rotation state restored",
		zap.Int64("version_id", snap.VersionID), zap.Int("cursor", cursor))
}

func versionResponse(record models.VersionRecord) *dto.ScheduleVersionResponse {
	return &dto.ScheduleVersionResponse{
		VersionID: record.VersionID,
		CreatedAt: record.CreatedAt,
		Actor:     record.Actor,
		Summary:   record.Summary,
		Pinned:    record.Pinned,
		Document:  record.Document,
	}
}

func versionRef(versionID int64) *string {
	ref := fmt.Sprintf("%d", versionID)
	return &ref
}
