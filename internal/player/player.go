package player

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/signage-rotation-api/internal/dto"
	appErrors "github.com/noah-isme/signage-rotation-api/pkg/errors"
)

type screenAdvancer interface {
	Next(ctx context.Context, now time.Time) (dto.CurrentScreenResponse, error)
	Skip(ctx context.Context, now time.Time, actor string) (dto.CurrentScreenResponse, error)
	Current(ctx context.Context) (dto.CurrentScreenResponse, error)
}

// Config tunes the rotation loop.
type Config struct {
	// Interval is the dwell time per screen.
	Interval time.Duration
	// IdleBackoff is how long to wait before retrying when the engine has
	// no schedule, no eligible screen, or a latched fault.
	IdleBackoff time.Duration
}

// Player drives the rotation engine on a fixed cadence and announces every
// screen change through the configured emitter. Skip requests from the API
// advance out of cadence and grant the new screen a full interval.
type Player struct {
	rotation screenAdvancer
	emitter  Emitter
	logger   *zap.Logger
	cfg      Config
	kick     chan struct{}
	reset    chan struct{}
}

// New constructs a Player.
func New(rotation screenAdvancer, emitter Emitter, logger *zap.Logger, cfg Config) *Player {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = NewLogEmitter(logger)
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.IdleBackoff <= 0 {
		cfg.IdleBackoff = 30 * time.Second
	}
	return &Player{
		rotation: rotation,
		emitter:  emitter,
		logger:   logger,
		cfg:      cfg,
		kick:     make(chan struct{}, 1),
		reset:    make(chan struct{}, 1),
	}
}

// Kick advances the rotation ahead of the timer. Duplicate kicks while one
// is pending collapse into a single advance.
func (p *Player) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Current reports the active screen without advancing the rotation.
func (p *Player) Current(ctx context.Context) (dto.CurrentScreenResponse, error) {
	return p.rotation.Current(ctx)
}

// Skip advances the rotation immediately on behalf of an operator. The
// change is announced right away and the loop timer restarts so the new
// screen still gets a full interval of display time.
func (p *Player) Skip(ctx context.Context, actor string) (dto.CurrentScreenResponse, error) {
	resp, err := p.rotation.Skip(ctx, time.Now().UTC(), actor)
	if err != nil {
		return resp, err
	}
	p.announce(ctx, resp)
	select {
	case p.reset <- struct{}{}:
	default:
	}
	return resp, nil
}

// Run loops until the context is cancelled. The first advance happens
// immediately so displays are not blank for a full interval after boot.
func (p *Player) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		case <-p.kick:
			drainTimer(timer)
		case <-p.reset:
			drainTimer(timer)
			timer.Reset(p.cfg.Interval)
			continue
		}

		timer.Reset(p.tick(ctx))
	}
}

// tick advances once and returns the delay until the next advance.
func (p *Player) tick(ctx context.Context) time.Duration {
	resp, err := p.rotation.Next(ctx, time.Now().UTC())
	if err == nil {
		p.announce(ctx, resp)
		return p.cfg.Interval
	}

	switch appErrors.FromError(err).Code {
	case appErrors.ErrNoEligibleScreen.Code:
		p.logger.Info("rotation idle, no eligible screen")
		p.announce(ctx, resp)
	case appErrors.ErrNotFound.Code:
		p.logger.Debug("rotation idle, no schedule committed")
	case appErrors.ErrInvariantViolation.Code:
		p.logger.Error("rotation halted on invariant violation", zap.Error(err))
		p.announce(ctx, resp)
	default:
		p.logger.Error("rotation advance failed", zap.Error(err))
	}
	return p.cfg.IdleBackoff
}

func (p *Player) announce(ctx context.Context, resp dto.CurrentScreenResponse) {
	change := ScreenChange{
		Screen:    resp.Screen,
		VersionID: resp.VersionID,
		ChangedAt: resp.ChangedAt,
		Halted:    resp.Halted,
	}
	if err := p.emitter.Emit(ctx, change); err != nil {
		p.logger.Warn("failed to announce screen change", zap.Error(err))
	}
}

func drainTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}
