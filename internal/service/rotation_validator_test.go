package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/signage-rotation-api/internal/models"
	appErrors "github.com/noah-isme/signage-rotation-api/pkg/errors"
)

func TestValidateDocumentAcceptsWellFormed(t *testing.T) {
	doc := docWith(
		[]models.Step{
			screenStep("date"),
			everyStep(3, screenStep("inside")),
			cycleStep(screenStep("news"), playlistStep("promo")),
			conditioned(variantsStep(screenStep("a"), screenStep("b")), &models.Condition{
				DaysOfWeek: []string{"mon", "tue"},
				TimeOfDay:  []models.TimeWindow{{Start: "08:00", End: "18:30"}},
			}),
		},
		map[string]models.Playlist{
			"promo": {Label: "Promotions", Steps: []models.Step{screenStep("p1")}},
		},
	)

	assert.NoError(t, ValidateDocument(*doc))
}

func TestValidateDocumentRejectsWrongVersion(t *testing.T) {
	doc := docWith([]models.Step{screenStep("a")}, nil)
	doc.Version = models.SchemaVersionLegacy

	err := ValidateDocument(*doc)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDocumentInvalid.Code, appErrors.FromError(err).Code)
}

func TestValidateDocumentRejectsUnresolvedReference(t *testing.T) {
	doc := docWith([]models.Step{
		screenStep("a"),
		cycleStep(playlistStep("missing")),
	}, nil)

	err := ValidateDocument(*doc)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrDocumentInvalid.Code, appErr.Code)
	assert.Contains(t, appErr.Message, `"missing"`)
	assert.Contains(t, appErr.Message, "sequence[1].rule.items[0]")
}

func TestValidateDocumentRejectsDirectCycle(t *testing.T) {
	doc := docWith(
		[]models.Step{playlistStep("loop")},
		map[string]models.Playlist{
			"loop": {Steps: []models.Step{playlistStep("loop")}},
		},
	)

	err := ValidateDocument(*doc)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrCyclicReference.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "loop -> loop")
}

func TestValidateDocumentRejectsIndirectCycle(t *testing.T) {
	doc := docWith(
		[]models.Step{playlistStep("a")},
		map[string]models.Playlist{
			"a": {Steps: []models.Step{playlistStep("b")}},
			"b": {Steps: []models.Step{everyStep(2, playlistStep("c"))}},
			"c": {Steps: []models.Step{playlistStep("a")}},
		},
	)

	err := ValidateDocument(*doc)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrCyclicReference.Code, appErr.Code)
	assert.Contains(t, appErr.Message, "a -> b -> c -> a")
}

func TestValidateDocumentRejectsCycleAmongUnreferencedPlaylists(t *testing.T) {
	// The cycle is unreachable from the sequence and must still be caught.
	doc := docWith(
		[]models.Step{screenStep("base")},
		map[string]models.Playlist{
			"x": {Steps: []models.Step{playlistStep("y")}},
			"y": {Steps: []models.Step{playlistStep("x")}},
		},
	)

	err := ValidateDocument(*doc)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCyclicReference.Code, appErrors.FromError(err).Code)
}

func TestValidateDocumentRejectsBadRuleParameters(t *testing.T) {
	cases := []struct {
		name string
		step models.Step
		want string
	}{
		{"zero frequency", everyStep(0, screenStep("x")), "frequency >= 1"},
		{"negative frequency", everyStep(-2, screenStep("x")), "frequency >= 1"},
		{"empty cycle", cycleStep(), "at least one item"},
		{"empty variants", variantsStep(), "at least one option"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := docWith([]models.Step{tc.step}, nil)
			err := ValidateDocument(*doc)
			require.Error(t, err)
			appErr := appErrors.FromError(err)
			assert.Equal(t, appErrors.ErrDocumentInvalid.Code, appErr.Code)
			assert.Contains(t, appErr.Message, tc.want)
		})
	}
}

func TestValidateDocumentRejectsEveryWithoutItem(t *testing.T) {
	doc := docWith([]models.Step{
		{Kind: models.StepKindRule, Rule: &models.Rule{Type: models.RuleTypeEvery, Frequency: 2}},
	}, nil)

	err := ValidateDocument(*doc)
	require.Error(t, err)
	assert.Contains(t, appErrors.FromError(err).Message, "requires an item")
}

func TestValidateDocumentRejectsUnknownRuleType(t *testing.T) {
	doc := docWith([]models.Step{
		{Kind: models.StepKindRule, Rule: &models.Rule{Type: "shuffle"}},
	}, nil)

	err := ValidateDocument(*doc)
	require.Error(t, err)
	assert.Contains(t, appErrors.FromError(err).Message, `unknown rule type "shuffle"`)
}

func TestValidateDocumentRejectsBadConditions(t *testing.T) {
	cases := []struct {
		name string
		cond *models.Condition
		want string
	}{
		{"unknown day", &models.Condition{DaysOfWeek: []string{"monday"}}, "unknown weekday code"},
		{"bad clock", &models.Condition{TimeOfDay: []models.TimeWindow{{Start: "9am", End: "17:00"}}}, "invalid window start"},
		{"out of range", &models.Condition{TimeOfDay: []models.TimeWindow{{Start: "08:00", End: "24:30"}}}, "invalid window end"},
		{"inverted window", &models.Condition{TimeOfDay: []models.TimeWindow{{Start: "18:00", End: "08:00"}}}, "start must precede end"},
		{"empty window", &models.Condition{TimeOfDay: []models.TimeWindow{{Start: "08:00", End: "08:00"}}}, "start must precede end"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := docWith([]models.Step{conditioned(screenStep("a"), tc.cond)}, nil)
			err := ValidateDocument(*doc)
			require.Error(t, err)
			appErr := appErrors.FromError(err)
			assert.Equal(t, appErrors.ErrDocumentInvalid.Code, appErr.Code)
			assert.Contains(t, appErr.Message, tc.want)
		})
	}
}

func TestValidateDocumentChecksPlaylistConditions(t *testing.T) {
	doc := docWith(
		[]models.Step{playlistStep("night")},
		map[string]models.Playlist{
			"night": {
				Steps:     []models.Step{screenStep("n1")},
				Condition: &models.Condition{TimeOfDay: []models.TimeWindow{{Start: "22:00", End: "06:00"}}},
			},
		},
	)

	err := ValidateDocument(*doc)
	require.Error(t, err)
	assert.Contains(t, appErrors.FromError(err).Message, "playlists.night")
}

func TestValidateDocumentReportsReferencesBeforeRules(t *testing.T) {
	// Both defects are present; reference resolution runs first.
	doc := docWith([]models.Step{
		cycleStep(),
		playlistStep("missing"),
	}, nil)

	err := ValidateDocument(*doc)
	require.Error(t, err)
	assert.Contains(t, appErrors.FromError(err).Message, "unresolved playlist reference")
}
