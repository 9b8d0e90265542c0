package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/noah-isme/signage-rotation-api/internal/models"
	appErrors "github.com/noah-isme/signage-rotation-api/pkg/errors"
)

// ValidateDocument checks the structural invariants of a schedule document:
// reference resolution, acyclic playlist composition, rule parameter sanity
// and condition shape. It is pure; rule state is never touched. The returned
// error names the offending position inside the document.
func ValidateDocument(doc models.Document) error {
	if doc.Version != models.SchemaVersionCurrent {
		return appErrors.Clone(appErrors.ErrDocumentInvalid, fmt.Sprintf("document schema version must be %d (got %d)", models.SchemaVersionCurrent, doc.Version))
	}
	if err := checkReferences(doc); err != nil {
		return err
	}
	if err := checkAcyclic(doc); err != nil {
		return err
	}
	if err := checkRules(doc); err != nil {
		return err
	}
	return checkConditions(doc)
}

func checkReferences(doc models.Document) error {
	return visitDocumentSteps(doc, func(step models.Step, path string) error {
		if step.Kind != models.StepKindPlaylist {
			return nil
		}
		if _, ok := doc.Playlists[step.PlaylistID]; !ok {
			return appErrors.Clone(appErrors.ErrDocumentInvalid, fmt.Sprintf("unresolved playlist reference %q at %s", step.PlaylistID, path))
		}
		return nil
	})
}

// checkAcyclic runs a depth-first search with an explicit recursion stack
// over the playlist reference graph, the root sequence included. A playlist
// found on the active stack is a cycle; the error names the full cycle path.
func checkAcyclic(doc models.Document) error {
	const (
		unvisited = iota
		visiting
		done
	)

	colors := make(map[string]int, len(doc.Playlists))
	var stack []string

	var descend func(id string) error
	descend = func(id string) error {
		colors[id] = visiting
		stack = append(stack, id)
		for _, ref := range playlistRefs(doc.Playlists[id].Steps) {
			switch colors[ref] {
			case visiting:
				start := 0
				for i, onStack := range stack {
					if onStack == ref {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, stack[start:]...), ref)
				return appErrors.Clone(appErrors.ErrCyclicReference, fmt.Sprintf("cyclic playlist reference: %s", strings.Join(cycle, " -> ")))
			case unvisited:
				if err := descend(ref); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		colors[id] = done
		return nil
	}

	for _, ref := range playlistRefs(doc.Sequence) {
		if colors[ref] == unvisited {
			if err := descend(ref); err != nil {
				return err
			}
		}
	}
	for _, id := range sortedPlaylistIDs(doc) {
		if colors[id] == unvisited {
			if err := descend(id); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkRules(doc models.Document) error {
	return visitDocumentSteps(doc, func(step models.Step, path string) error {
		if step.Kind != models.StepKindRule {
			return nil
		}
		rule := step.Rule
		if rule == nil {
			return appErrors.Clone(appErrors.ErrDocumentInvalid, fmt.Sprintf("rule step has no rule body at %s", path))
		}
		switch rule.Type {
		case models.RuleTypeCycle:
			if len(rule.Items) == 0 {
				return appErrors.Clone(appErrors.ErrDocumentInvalid, fmt.Sprintf("cycle rule requires at least one item at %s", path))
			}
		case models.RuleTypeEvery:
			if rule.Frequency < 1 {
				return appErrors.Clone(appErrors.ErrDocumentInvalid, fmt.Sprintf("every rule requires frequency >= 1 at %s", path))
			}
			if rule.Item == nil {
				return appErrors.Clone(appErrors.ErrDocumentInvalid, fmt.Sprintf("every rule requires an item at %s", path))
			}
		case models.RuleTypeVariants:
			if len(rule.Options) == 0 {
				return appErrors.Clone(appErrors.ErrDocumentInvalid, fmt.Sprintf("variants rule requires at least one option at %s", path))
			}
		default:
			return appErrors.Clone(appErrors.ErrDocumentInvalid, fmt.Sprintf("unknown rule type %q at %s", rule.Type, path))
		}
		return nil
	})
}

func checkConditions(doc models.Document) error {
	if err := visitDocumentSteps(doc, func(step models.Step, path string) error {
		return checkCondition(step.Condition, path)
	}); err != nil {
		return err
	}
	for _, id := range sortedPlaylistIDs(doc) {
		if err := checkCondition(doc.Playlists[id].Condition, fmt.Sprintf("playlists.%s", id)); err != nil {
			return err
		}
	}
	return nil
}

func checkCondition(cond *models.Condition, path string) error {
	if cond == nil {
		return nil
	}
	for _, day := range cond.DaysOfWeek {
		if !models.KnownDayCode(day) {
			return appErrors.Clone(appErrors.ErrDocumentInvalid, fmt.Sprintf("unknown weekday code %q at %s", day, path))
		}
	}
	for i, window := range cond.TimeOfDay {
		start, err := models.ParseClock(window.Start)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrDocumentInvalid.Code, appErrors.ErrDocumentInvalid.Status, fmt.Sprintf("invalid window start at %s.time_of_day[%d]", path, i))
		}
		end, err := models.ParseClock(window.End)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrDocumentInvalid.Code, appErrors.ErrDocumentInvalid.Status, fmt.Sprintf("invalid window end at %s.time_of_day[%d]", path, i))
		}
		if start >= end {
			return appErrors.Clone(appErrors.ErrDocumentInvalid, fmt.Sprintf("time window start must precede end within one day at %s.time_of_day[%d]", path, i))
		}
	}
	return nil
}

// visitDocumentSteps applies fn to every step in the document in a stable
// order: the root sequence first, then each playlist by sorted id. Rule
// sub-steps are visited depth-first after their parent.
func visitDocumentSteps(doc models.Document, fn func(step models.Step, path string) error) error {
	if err := visitStepList(doc.Sequence, "sequence", fn); err != nil {
		return err
	}
	for _, id := range sortedPlaylistIDs(doc) {
		if err := visitStepList(doc.Playlists[id].Steps, fmt.Sprintf("playlists.%s.steps", id), fn); err != nil {
			return err
		}
	}
	return nil
}

func visitStepList(steps []models.Step, base string, fn func(step models.Step, path string) error) error {
	for i, step := range steps {
		if err := visitStep(step, fmt.Sprintf("%s[%d]", base, i), fn); err != nil {
			return err
		}
	}
	return nil
}

func visitStep(step models.Step, path string, fn func(step models.Step, path string) error) error {
	if err := fn(step, path); err != nil {
		return err
	}
	if step.Kind != models.StepKindRule || step.Rule == nil {
		return nil
	}
	switch step.Rule.Type {
	case models.RuleTypeCycle:
		return visitStepList(step.Rule.Items, path+".rule.items", fn)
	case models.RuleTypeEvery:
		if step.Rule.Item != nil {
			return visitStep(*step.Rule.Item, path+".rule.item", fn)
		}
	case models.RuleTypeVariants:
		return visitStepList(step.Rule.Options, path+".rule.options", fn)
	}
	return nil
}

// playlistRefs collects the playlist ids referenced by the given steps,
// descending into rule sub-steps.
func playlistRefs(steps []models.Step) []string {
	var refs []string
	for _, step := range steps {
		refs = appendStepRefs(refs, step)
	}
	return refs
}

func appendStepRefs(refs []string, step models.Step) []string {
	switch step.Kind {
	case models.StepKindPlaylist:
		refs = append(refs, step.PlaylistID)
	case models.StepKindRule:
		if step.Rule == nil {
			return refs
		}
		for _, item := range step.Rule.Items {
			refs = appendStepRefs(refs, item)
		}
		if step.Rule.Item != nil {
			refs = appendStepRefs(refs, *step.Rule.Item)
		}
		for _, option := range step.Rule.Options {
			refs = appendStepRefs(refs, option)
		}
	}
	return refs
}

func sortedPlaylistIDs(doc models.Document) []string {
	ids := make([]string, 0, len(doc.Playlists))
	for id := range doc.Playlists {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
