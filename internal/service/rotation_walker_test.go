package service

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/signage-rotation-api/internal/models"
	appErrors "github.com/noah-isme/signage-rotation-api/pkg/errors"
)

// Monday 10:00 local to the document's clock.
var walkNow = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func TestWalkerAdvancePlainSequenceWraps(t *testing.T) {
	doc := docWith([]models.Step{screenStep("a"), screenStep("b"), screenStep("c")}, nil)
	state := NewWalkState()

	got := advanceN(t, NewWalker(), doc, state, 7)
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c", "a"}, got)
}

func TestWalkerAdvanceEveryPhases(t *testing.T) {
	doc := docWith([]models.Step{
		screenStep("date"),
		everyStep(3, screenStep("inside")),
		screenStep("weather"),
	}, nil)
	state := NewWalkState()

	got := advanceN(t, NewWalker(), doc, state, 10)
	assert.Equal(t, []string{
		"date", "inside", "weather", // pass 1, phase 0 fires
		"date", "weather", // pass 2
		"date", "weather", // pass 3
		"date", "inside", "weather", // pass 4
	}, got)
}

func TestWalkerAdvanceCycleRotates(t *testing.T) {
	doc := docWith([]models.Step{
		screenStep("intro"),
		cycleStep(screenStep("news"), screenStep("sports"), screenStep("weather")),
	}, nil)
	state := NewWalkState()

	got := advanceN(t, NewWalker(), doc, state, 8)
	assert.Equal(t, []string{"intro", "news", "intro", "sports", "intro", "weather", "intro", "news"}, got)
}

func TestWalkerAdvanceCycleOccurrencesRotateIndependently(t *testing.T) {
	doc := docWith([]models.Step{
		cycleStep(screenStep("a"), screenStep("b")),
		cycleStep(screenStep("x"), screenStep("y")),
	}, nil)
	state := NewWalkState()

	got := advanceN(t, NewWalker(), doc, state, 6)
	assert.Equal(t, []string{"a", "x", "b", "y", "a", "x"}, got)
	assert.Contains(t, state.Counters, "seq[0]")
	assert.Contains(t, state.Counters, "seq[1]")
}

func TestWalkerAdvanceVariantsDrawsFromOptions(t *testing.T) {
	doc := docWith([]models.Step{
		variantsStep(screenStep("quote"), screenStep("fact")),
	}, nil)
	state := NewWalkState()
	walker := NewWalker(WithWalkerRand(rand.New(rand.NewSource(1))))

	seen := make(map[string]int)
	for _, screen := range advanceN(t, walker, doc, state, 32) {
		seen[screen]++
	}
	assert.Len(t, seen, 2)
	assert.Positive(t, seen["quote"])
	assert.Positive(t, seen["fact"])
}

func TestWalkerAdvanceVariantsSingleOptionIsDeterministic(t *testing.T) {
	doc := docWith([]models.Step{
		screenStep("intro"),
		variantsStep(screenStep("only")),
	}, nil)
	state := NewWalkState()

	got := advanceN(t, NewWalker(), doc, state, 4)
	assert.Equal(t, []string{"intro", "only", "intro", "only"}, got)
}

func TestWalkerAdvanceDescendsPlaylists(t *testing.T) {
	doc := docWith(
		[]models.Step{screenStep("intro"), playlistStep("news")},
		map[string]models.Playlist{
			"news": {Label: "News", Steps: []models.Step{screenStep("n1"), screenStep("n2")}},
		},
	)
	state := NewWalkState()

	got := advanceN(t, NewWalker(), doc, state, 6)
	assert.Equal(t, []string{"intro", "n1", "n2", "intro", "n1", "n2"}, got)
}

func TestWalkerAdvanceDescendsNestedPlaylists(t *testing.T) {
	doc := docWith(
		[]models.Step{playlistStep("outer")},
		map[string]models.Playlist{
			"outer": {Steps: []models.Step{screenStep("o1"), playlistStep("inner"), screenStep("o2")}},
			"inner": {Steps: []models.Step{screenStep("i1"), screenStep("i2")}},
		},
	)
	state := NewWalkState()

	got := advanceN(t, NewWalker(), doc, state, 8)
	assert.Equal(t, []string{"o1", "i1", "i2", "o2", "o1", "i1", "i2", "o2"}, got)
}

func TestWalkerAdvanceEveryItemMayDescend(t *testing.T) {
	doc := docWith(
		[]models.Step{screenStep("base"), everyStep(2, playlistStep("promo"))},
		map[string]models.Playlist{
			"promo": {Steps: []models.Step{screenStep("p1"), screenStep("p2")}},
		},
	)
	state := NewWalkState()

	got := advanceN(t, NewWalker(), doc, state, 8)
	assert.Equal(t, []string{
		"base", "p1", "p2", // pass 1 fires the promo block
		"base",             // pass 2 skips it
		"base", "p1", "p2", // pass 3
		"base",
	}, got)
}

func TestWalkerAdvanceConditionSkipsWithoutConsumingRuleState(t *testing.T) {
	mondayOnly := &models.Condition{DaysOfWeek: []string{"mon"}}
	doc := docWith([]models.Step{
		conditioned(everyStep(2, screenStep("special")), mondayOnly),
		screenStep("base"),
	}, nil)
	state := NewWalkState()
	walker := NewWalker()

	tuesday := walkNow.AddDate(0, 0, 1)
	for i := 0; i < 3; i++ {
		screen, err := walker.Advance(doc, state, tuesday)
		require.NoError(t, err)
		assert.Equal(t, "base", screen)
	}
	assert.NotContains(t, state.Counters, "seq[0]", "a gated rule must not consume phase")

	// Back on Monday the phase starts at zero and fires immediately.
	screen, err := walker.Advance(doc, state, walkNow)
	require.NoError(t, err)
	assert.Equal(t, "special", screen)
}

func TestWalkerAdvanceGatedPlaylistIsSkippedWhole(t *testing.T) {
	weekendOnly := &models.Condition{DaysOfWeek: []string{"sat", "sun"}}
	doc := docWith(
		[]models.Step{playlistStep("weekend"), screenStep("base")},
		map[string]models.Playlist{
			"weekend": {Steps: []models.Step{screenStep("w1")}, Condition: weekendOnly},
		},
	)
	state := NewWalkState()

	got := advanceN(t, NewWalker(), doc, state, 3)
	assert.Equal(t, []string{"base", "base", "base"}, got)
}

func TestWalkerAdvanceTimeWindowEdges(t *testing.T) {
	window := &models.Condition{TimeOfDay: []models.TimeWindow{{Start: "10:00", End: "12:00"}}}
	doc := docWith([]models.Step{
		conditioned(screenStep("windowed"), window),
		screenStep("base"),
	}, nil)
	walker := NewWalker()

	atStart, err := walker.Advance(doc, NewWalkState(), walkNow)
	require.NoError(t, err)
	assert.Equal(t, "windowed", atStart, "window start is inclusive")

	atEnd, err := walker.Advance(doc, NewWalkState(), walkNow.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "base", atEnd, "window end is exclusive")
}

func TestWalkerAdvanceNoEligibleScreenWhenAllGated(t *testing.T) {
	sundayOnly := &models.Condition{DaysOfWeek: []string{"sun"}}
	doc := docWith([]models.Step{
		conditioned(screenStep("a"), sundayOnly),
		conditioned(screenStep("b"), sundayOnly),
	}, nil)

	_, err := NewWalker().Advance(doc, NewWalkState(), walkNow)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNoEligibleScreen.Code, appErrors.FromError(err).Code)
}

func TestWalkerAdvanceNoEligibleScreenFromMidRing(t *testing.T) {
	morning := &models.Condition{TimeOfDay: []models.TimeWindow{{Start: "09:00", End: "11:00"}}}
	doc := docWith([]models.Step{
		conditioned(screenStep("a"), morning),
		conditioned(screenStep("b"), morning),
	}, nil)
	state := NewWalkState()
	walker := NewWalker()

	screen, err := walker.Advance(doc, state, walkNow)
	require.NoError(t, err)
	assert.Equal(t, "a", screen)

	evening := walkNow.Add(10 * time.Hour)
	_, err = walker.Advance(doc, state, evening)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNoEligibleScreen.Code, appErrors.FromError(err).Code)
}

func TestWalkerAdvanceNoEligibleScreenOnEmptySequence(t *testing.T) {
	doc := docWith(nil, nil)

	_, err := NewWalker().Advance(doc, NewWalkState(), walkNow)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNoEligibleScreen.Code, appErrors.FromError(err).Code)
}

func TestWalkerAdvancePassBudgetStopsBusyRules(t *testing.T) {
	sundayOnly := &models.Condition{DaysOfWeek: []string{"sun"}}
	// The cycle rotates every pass, so rule state keeps moving while no
	// screen can ever surface.
	doc := docWith([]models.Step{
		cycleStep(conditioned(screenStep("gated"), sundayOnly)),
	}, nil)

	_, err := NewWalker().Advance(doc, NewWalkState(), walkNow)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNoEligibleScreen.Code, appErrors.FromError(err).Code)
}

func TestWalkerAdvanceUnresolvedPlaylistIsInvariantViolation(t *testing.T) {
	doc := docWith([]models.Step{playlistStep("ghost")}, nil)

	_, err := NewWalker().Advance(doc, NewWalkState(), walkNow)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvariantViolation.Code, appErrors.FromError(err).Code)
}

func TestWalkerAdvanceSharedPlaylistKeepsPerOccurrenceRuleState(t *testing.T) {
	doc := docWith(
		[]models.Step{playlistStep("promo"), playlistStep("promo"), screenStep("base")},
		map[string]models.Playlist{
			"promo": {Steps: []models.Step{everyStep(2, screenStep("s")), screenStep("p")}},
		},
	)
	state := NewWalkState()

	got := advanceN(t, NewWalker(), doc, state, 8)
	assert.Equal(t, []string{
		"s", "p", "s", "p", "base", // pass 1: both occurrences fire
		"p", "p", "base", // pass 2: both hold
	}, got)
	assert.Contains(t, state.Counters, "seq[0]/promo[0]")
	assert.Contains(t, state.Counters, "seq[1]/promo[0]")
}

func TestWalkStateCloneIsIsolated(t *testing.T) {
	doc := docWith([]models.Step{
		cycleStep(screenStep("a"), screenStep("b")),
		screenStep("base"),
	}, nil)
	state := NewWalkState()
	walker := NewWalker()

	_, err := walker.Advance(doc, state, walkNow)
	require.NoError(t, err)

	clone := state.Clone()
	for i := 0; i < 3; i++ {
		_, err = walker.Advance(doc, state, walkNow)
		require.NoError(t, err)
	}

	require.Contains(t, clone.Counters, "seq[0]")
	assert.Equal(t, 1, clone.Counters["seq[0]"].Position)
	assert.Equal(t, 0, state.Counters["seq[0]"].Position, "original rotated back around")
	assert.NotEqual(t, state.Cursor, clone.Cursor)
}

func TestCollectRulePaths(t *testing.T) {
	doc := docWith(
		[]models.Step{
			screenStep("intro"),
			cycleStep(screenStep("a"), everyStep(2, screenStep("b"))),
			playlistStep("news"),
		},
		map[string]models.Playlist{
			"news": {Steps: []models.Step{variantsStep(screenStep("x"))}},
		},
	)

	paths := CollectRulePaths(doc)
	assert.Equal(t, map[string]struct{}{
		"seq[1]":          {},
		"seq[1]/items[1]": {},
		"seq[2]/news[0]":  {},
	}, paths)
}

// --- Fixtures ---

func screenStep(id string) models.Step {
	return models.Step{Kind: models.StepKindScreen, Screen: id}
}

func playlistStep(id string) models.Step {
	return models.Step{Kind: models.StepKindPlaylist, PlaylistID: id}
}

func cycleStep(items ...models.Step) models.Step {
	return models.Step{Kind: models.StepKindRule, Rule: &models.Rule{Type: models.RuleTypeCycle, Items: items}}
}

func everyStep(frequency int, item models.Step) models.Step {
	return models.Step{Kind: models.StepKindRule, Rule: &models.Rule{Type: models.RuleTypeEvery, Frequency: frequency, Item: &item}}
}

func variantsStep(options ...models.Step) models.Step {
	return models.Step{Kind: models.StepKindRule, Rule: &models.Rule{Type: models.RuleTypeVariants, Options: options}}
}

func conditioned(step models.Step, cond *models.Condition) models.Step {
	step.Condition = cond
	return step
}

func docWith(sequence []models.Step, playlists map[string]models.Playlist) *models.Document {
	doc := &models.Document{
		Version:   models.SchemaVersionCurrent,
		Playlists: make(map[string]models.Playlist, len(playlists)),
		Sequence:  sequence,
	}
	for id, playlist := range playlists {
		playlist.ID = id
		doc.Playlists[id] = playlist
	}
	return doc
}

func advanceN(t *testing.T, walker *Walker, doc *models.Document, state *WalkState, n int) []string {
	t.Helper()
	screens := make([]string, 0, n)
	for i := 0; i < n; i++ {
		screen, err := walker.Advance(doc, state, walkNow)
		require.NoError(t, err)
		screens = append(screens, screen)
	}
	return screens
}
