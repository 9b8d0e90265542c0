package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schema version tags carried in the document's "version" field.
const (
	SchemaVersionLegacy  = 1
	SchemaVersionCurrent = 2
)

// LegacyPlaylistID is the synthetic playlist a migrated flat sequence is wrapped into.
const LegacyPlaylistID = "legacy_main"

// StepKind discriminates the closed set of step shapes.
type StepKind string

const (
	StepKindScreen   StepKind = "screen"
	StepKindPlaylist StepKind = "playlist"
	StepKindRule     StepKind = "rule"
)

// RuleType discriminates the closed set of rule strategies.
type RuleType string

const (
	RuleTypeCycle    RuleType = "cycle"
	RuleTypeEvery    RuleType = "every"
	RuleTypeVariants RuleType = "variants"
)

// Document is a full schedule configuration: the root sequence plus the
// playlist graph it references.
type Document struct {
	Version   int                        `json:"version"`
	Catalog   map[string]json.RawMessage `json:"catalog,omitempty"`
	Metadata  map[string]interface{}     `json:"metadata,omitempty"`
	Playlists map[string]Playlist        `json:"playlists,omitempty"`
	Sequence  []Step                     `json:"sequence"`
}

// Playlist is a named, ordered list of steps, optionally gated by a condition.
type Playlist struct {
	ID        string     `json:"-"`
	Label     string     `json:"label,omitempty"`
	Steps     []Step     `json:"steps"`
	Condition *Condition `json:"condition,omitempty"`
}

// Step is exactly one of: a screen reference, a nested playlist reference,
// or a rule. The wire format uses the discriminant key directly
// ({"screen": "date"}, {"playlist": "news"}, {"rule": {...}}).
type Step struct {
	Kind       StepKind
	Screen     string
	PlaylistID string
	Rule       *Rule
	Condition  *Condition
}

// Rule selects among its sub-steps according to its type. Items belongs to
// cycle, Frequency/Item to every, Options to variants.
type Rule struct {
	Type      RuleType `json:"type"`
	Items     []Step   `json:"items,omitempty"`
	Frequency int      `json:"frequency,omitempty"`
	Item      *Step    `json:"item,omitempty"`
	Options   []Step   `json:"options,omitempty"`
}

// Condition gates a step or playlist by weekday and time-of-day windows.
// Empty fields mean "always".
type Condition struct {
	DaysOfWeek []string     `json:"days_of_week,omitempty"`
	TimeOfDay  []TimeWindow `json:"time_of_day,omitempty"`
}

// TimeWindow is a same-day wall-clock range, start inclusive, end exclusive.
type TimeWindow struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type stepEnvelope struct {
	Screen    *string    `json:"screen,omitempty"`
	Playlist  *string    `json:"playlist,omitempty"`
	Rule      *Rule      `json:"rule,omitempty"`
	Condition *Condition `json:"condition,omitempty"`
}

// UnmarshalJSON decodes the discriminated step envelope, rejecting shapes
// that declare zero or more than one discriminant.
func (s *Step) UnmarshalJSON(data []byte) error {
	var env stepEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	declared := 0
	if env.Screen != nil {
		declared++
	}
	if env.Playlist != nil {
		declared++
	}
	if env.Rule != nil {
		declared++
	}
	if declared != 1 {
		return fmt.Errorf("step must declare exactly one of screen, playlist, rule (got %d)", declared)
	}

	s.Condition = env.Condition
	switch {
	case env.Screen != nil:
		if *env.Screen == "" {
			return fmt.Errorf("screen step requires a non-empty reference")
		}
		s.Kind = StepKindScreen
		s.Screen = *env.Screen
	case env.Playlist != nil:
		if *env.Playlist == "" {
			return fmt.Errorf("playlist step requires a non-empty id")
		}
		s.Kind = StepKindPlaylist
		s.PlaylistID = *env.Playlist
	default:
		s.Kind = StepKindRule
		s.Rule = env.Rule
	}
	return nil
}

// MarshalJSON encodes the step back into its discriminated envelope.
func (s Step) MarshalJSON() ([]byte, error) {
	env := stepEnvelope{Condition: s.Condition}
	switch s.Kind {
	case StepKindScreen:
		env.Screen = &s.Screen
	case StepKindPlaylist:
		env.Playlist = &s.PlaylistID
	case StepKindRule:
		env.Rule = s.Rule
	default:
		return nil, fmt.Errorf("step has unknown kind %q", s.Kind)
	}
	return json.Marshal(env)
}

// UnmarshalJSON decodes a document and mirrors playlist map keys into the
// Playlist.ID field so callers never depend on the map context.
func (d *Document) UnmarshalJSON(data []byte) error {
	type alias Document
	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for id, pl := range raw.Playlists {
		pl.ID = id
		raw.Playlists[id] = pl
	}
	*d = Document(raw)
	return nil
}

// DecodeDocument parses raw JSON into a Document.
func DecodeDocument(raw []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// EncodeDocument serialises a Document into its canonical JSON form.
func EncodeDocument(doc Document) ([]byte, error) {
	return json.Marshal(doc)
}

var weekdayCodes = map[time.Weekday]string{
	time.Sunday:    "sun",
	time.Monday:    "mon",
	time.Tuesday:   "tue",
	time.Wednesday: "wed",
	time.Thursday:  "thu",
	time.Friday:    "fri",
	time.Saturday:  "sat",
}

// KnownDayCode reports whether the given code is a valid weekday token.
func KnownDayCode(code string) bool {
	for _, known := range weekdayCodes {
		if known == code {
			return true
		}
	}
	return false
}

// ParseClock converts an "HH:MM" wall-clock string to minutes since midnight.
func ParseClock(value string) (int, error) {
	parts := strings.SplitN(value, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("clock value %q is not HH:MM", value)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("clock value %q: %w", value, err)
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("clock value %q: %w", value, err)
	}
	if hours < 0 || hours > 23 || minutes < 0 || minutes > 59 {
		return 0, fmt.Errorf("clock value %q out of range", value)
	}
	return hours*60 + minutes, nil
}

// Matches evaluates the condition against the given instant. A nil condition
// always matches. Windows are OR'ed; day and time constraints are AND'ed.
func (c *Condition) Matches(now time.Time) bool {
	if c == nil {
		return true
	}

	if len(c.DaysOfWeek) > 0 {
		today := weekdayCodes[now.Weekday()]
		found := false
		for _, day := range c.DaysOfWeek {
			if day == today {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(c.TimeOfDay) == 0 {
		return true
	}
	minuteOfDay := now.Hour()*60 + now.Minute()
	for _, window := range c.TimeOfDay {
		start, err := ParseClock(window.Start)
		if err != nil {
			continue
		}
		end, err := ParseClock(window.End)
		if err != nil {
			continue
		}
		if minuteOfDay >= start && minuteOfDay < end {
			return true
		}
	}
	return false
}
