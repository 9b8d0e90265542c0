package service

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/noah-isme/signage-rotation-api/internal/models"
	appErrors "github.com/noah-isme/signage-rotation-api/pkg/errors"
)

// maxWalkPasses bounds how many times a single Advance call may wrap the
// root sequence before giving up on finding an eligible screen.
const maxWalkPasses = 64

// RuleCounters is the mutable scheduling state of one rule occurrence.
// Position drives cycle rotation, Phase drives every-N gating.
type RuleCounters struct {
	Position int `json:"position"`
	Phase    int `json:"phase"`
}

// WalkState is the runtime position of a rotation inside a document: the
// root cursor, the descent stack of partially played nested sequences, and
// the per-occurrence rule counters keyed by identity path.
type WalkState struct {
	Cursor   int                      `json:"cursor"`
	Stack    []walkFrame              `json:"-"`
	Counters map[string]*RuleCounters `json:"counters"`
}

// NewWalkState returns an empty state positioned at the start of the ring.
func NewWalkState() *WalkState {
	return &WalkState{Counters: make(map[string]*RuleCounters)}
}

// Clone deep-copies the state so a preview can advance without touching the
// live rotation. Frame step slices are shared; the walker never mutates them.
func (s *WalkState) Clone() *WalkState {
	clone := &WalkState{
		Cursor:   s.Cursor,
		Stack:    make([]walkFrame, len(s.Stack)),
		Counters: make(map[string]*RuleCounters, len(s.Counters)),
	}
	copy(clone.Stack, s.Stack)
	for path, counters := range s.Counters {
		copied := *counters
		clone.Counters[path] = &copied
	}
	return clone
}

func (s *WalkState) counters(path string) *RuleCounters {
	if c, ok := s.Counters[path]; ok {
		return c
	}
	c := &RuleCounters{}
	s.Counters[path] = c
	return c
}

func (s *WalkState) push(frame walkFrame) {
	s.Stack = append(s.Stack, frame)
}

// advancePast moves the position beyond the item currentItem just returned.
func (s *WalkState) advancePast() {
	if len(s.Stack) > 0 {
		s.Stack[len(s.Stack)-1].next++
		return
	}
	s.Cursor++
}

// walkFrame is one level of the descent stack: the remaining items of a
// nested sequence, each paired with its identity path.
type walkFrame struct {
	items []frameItem
	next  int
}

type frameItem struct {
	step models.Step
	path string
}

// Walker advances WalkStates over a document's infinite ring. The only
// instance state is the random source used by variants rules, injectable for
// deterministic tests and previews.
type Walker struct {
	rng *rand.Rand
}

// WalkerOption configures a Walker.
type WalkerOption func(*Walker)

// WithWalkerRand replaces the walker's random source.
func WithWalkerRand(rng *rand.Rand) WalkerOption {
	return func(w *Walker) {
		w.rng = rng
	}
}

// NewWalker builds a walker seeded from the wall clock unless overridden.
func NewWalker(opts ...WalkerOption) *Walker {
	w := &Walker{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Advance walks the document from the state's current position until a
// screen becomes eligible, then returns its reference with the state moved
// past it. Conditions gate without consuming rule state; rules consume their
// counters only when actually resolved. When a complete pass over the ring
// gates every step without moving any rule counter, or the pass budget runs
// out, Advance returns ErrNoEligibleScreen. A document that breaks a
// structural invariant mid-walk returns ErrInvariantViolation.
func (w *Walker) Advance(doc *models.Document, state *WalkState, now time.Time) (string, error) {
	if doc == nil || len(doc.Sequence) == 0 {
		return "", appErrors.Clone(appErrors.ErrNoEligibleScreen, "schedule has no steps")
	}

	atRingStart := state.Cursor == 0 && len(state.Stack) == 0
	wraps := 0
	progress := false

	for {
		item, ok := currentItem(doc, state)
		if !ok {
			// The root sequence wrapped. A wrap without any emission or
			// counter movement over a full pass means nothing can become
			// eligible at this instant.
			fullPass := wraps > 0 || atRingStart
			if fullPass && !progress {
				return "", appErrors.Clone(appErrors.ErrNoEligibleScreen, "every step is gated at this instant")
			}
			wraps++
			if wraps >= maxWalkPasses {
				return "", appErrors.Clone(appErrors.ErrNoEligibleScreen, "no screen emitted within the pass budget")
			}
			progress = false
			state.Cursor = 0
			continue
		}

		step := item.step
		if !step.Condition.Matches(now) {
			state.advancePast()
			continue
		}

		switch step.Kind {
		case models.StepKindScreen:
			state.advancePast()
			return step.Screen, nil

		case models.StepKindPlaylist:
			playlist, found := doc.Playlists[step.PlaylistID]
			if !found {
				return "", appErrors.Clone(appErrors.ErrInvariantViolation, fmt.Sprintf("unresolved playlist %q at %s", step.PlaylistID, item.path))
			}
			state.advancePast()
			if !playlist.Condition.Matches(now) {
				continue
			}
			state.push(playlistFrame(playlist, item.path))

		case models.StepKindRule:
			rule := step.Rule
			if rule == nil {
				return "", appErrors.Clone(appErrors.ErrInvariantViolation, fmt.Sprintf("rule step has no rule body at %s", item.path))
			}
			switch rule.Type {
			case models.RuleTypeCycle:
				if len(rule.Items) == 0 {
					return "", appErrors.Clone(appErrors.ErrInvariantViolation, fmt.Sprintf("cycle rule has no items at %s", item.path))
				}
				counters := state.counters(item.path)
				idx := counters.Position % len(rule.Items)
				counters.Position = (idx + 1) % len(rule.Items)
				progress = true
				state.advancePast()
				state.push(singleFrame(rule.Items[idx], fmt.Sprintf("%s/items[%d]", item.path, idx)))

			case models.RuleTypeEvery:
				if rule.Frequency < 1 || rule.Item == nil {
					return "", appErrors.Clone(appErrors.ErrInvariantViolation, fmt.Sprintf("every rule is malformed at %s", item.path))
				}
				counters := state.counters(item.path)
				fire := counters.Phase%rule.Frequency == 0
				counters.Phase++
				progress = true
				state.advancePast()
				if fire {
					state.push(singleFrame(*rule.Item, item.path+"/item"))
				}

			case models.RuleTypeVariants:
				if len(rule.Options) == 0 {
					return "", appErrors.Clone(appErrors.ErrInvariantViolation, fmt.Sprintf("variants rule has no options at %s", item.path))
				}
				idx := w.rng.Intn(len(rule.Options))
				progress = true
				state.advancePast()
				state.push(singleFrame(rule.Options[idx], fmt.Sprintf("%s/options[%d]", item.path, idx)))

			default:
				return "", appErrors.Clone(appErrors.ErrInvariantViolation, fmt.Sprintf("unknown rule type %q at %s", rule.Type, item.path))
			}

		default:
			return "", appErrors.Clone(appErrors.ErrInvariantViolation, fmt.Sprintf("unknown step kind %q at %s", step.Kind, item.path))
		}
	}
}

// currentItem resolves the position the state points at, discarding
// exhausted frames along the way. ok is false when the root cursor ran off
// the end of the sequence.
func currentItem(doc *models.Document, state *WalkState) (frameItem, bool) {
	for len(state.Stack) > 0 {
		top := &state.Stack[len(state.Stack)-1]
		if top.next < len(top.items) {
			return top.items[top.next], true
		}
		state.Stack = state.Stack[:len(state.Stack)-1]
	}
	if state.Cursor >= len(doc.Sequence) {
		return frameItem{}, false
	}
	return frameItem{
		step: doc.Sequence[state.Cursor],
		path: fmt.Sprintf("seq[%d]", state.Cursor),
	}, true
}

func playlistFrame(playlist models.Playlist, parentPath string) walkFrame {
	base := parentPath + "/" + playlist.ID
	items := make([]frameItem, len(playlist.Steps))
	for i := range playlist.Steps {
		items[i] = frameItem{
			step: playlist.Steps[i],
			path: fmt.Sprintf("%s[%d]", base, i),
		}
	}
	return walkFrame{items: items}
}

func singleFrame(step models.Step, path string) walkFrame {
	return walkFrame{items: []frameItem{{step: step, path: path}}}
}

// CollectRulePaths enumerates the identity path of every rule occurrence
// statically reachable in the document, mirroring the paths Advance assigns
// at runtime. Swaps use it to carry counters forward only for occurrences
// that still exist. The document must already be validated; the enumeration
// relies on the playlist graph being acyclic.
func CollectRulePaths(doc *models.Document) map[string]struct{} {
	paths := make(map[string]struct{})
	var visit func(step models.Step, path string)
	visit = func(step models.Step, path string) {
		switch step.Kind {
		case models.StepKindPlaylist:
			playlist, ok := doc.Playlists[step.PlaylistID]
			if !ok {
				return
			}
			base := path + "/" + playlist.ID
			for i := range playlist.Steps {
				visit(playlist.Steps[i], fmt.Sprintf("%s[%d]", base, i))
			}
		case models.StepKindRule:
			if step.Rule == nil {
				return
			}
			paths[path] = struct{}{}
			for i := range step.Rule.Items {
				visit(step.Rule.Items[i], fmt.Sprintf("%s/items[%d]", path, i))
			}
			if step.Rule.Item != nil {
				visit(*step.Rule.Item, path+"/item")
			}
			for i := range step.Rule.Options {
				visit(step.Rule.Options[i], fmt.Sprintf("%s/options[%d]", path, i))
			}
		}
	}
	for i := range doc.Sequence {
		visit(doc.Sequence[i], fmt.Sprintf("seq[%d]", i))
	}
	return paths
}
