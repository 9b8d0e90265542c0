package service

import (
	"fmt"

	"github.com/noah-isme/signage-rotation-api/internal/models"
	appErrors "github.com/noah-isme/signage-rotation-api/pkg/errors"
)

// MigrateDocument lifts a legacy flat-sequence document into the current
// schema by wrapping its sequence in a single synthetic playlist. Documents
// already at the current version pass through untouched, so the operation is
// idempotent. Anything ambiguous fails closed. The boolean reports whether a
// migration actually happened.
func MigrateDocument(doc models.Document) (models.Document, bool, error) {
	switch doc.Version {
	case models.SchemaVersionCurrent:
		return doc, false, nil
	case models.SchemaVersionLegacy, 0:
	default:
		return models.Document{}, false, appErrors.Clone(appErrors.ErrMigration, fmt.Sprintf("unknown schema version %d", doc.Version))
	}

	if len(doc.Playlists) > 0 {
		return models.Document{}, false, appErrors.Clone(appErrors.ErrMigration, "legacy document must not declare playlists")
	}
	if err := rejectLegacyReferences(doc.Sequence, "sequence"); err != nil {
		return models.Document{}, false, err
	}

	migrated := doc
	migrated.Version = models.SchemaVersionCurrent
	migrated.Playlists = map[string]models.Playlist{
		models.LegacyPlaylistID: {
			ID:    models.LegacyPlaylistID,
			Label: "Main rotation",
			Steps: doc.Sequence,
		},
	}
	migrated.Sequence = []models.Step{
		{Kind: models.StepKindPlaylist, PlaylistID: models.LegacyPlaylistID},
	}
	return migrated, true, nil
}

// rejectLegacyReferences fails the migration when a legacy sequence already
// contains playlist references; those cannot predate the playlist schema and
// indicate a corrupt or hand-edited document.
func rejectLegacyReferences(steps []models.Step, base string) error {
	for i, step := range steps {
		if err := rejectLegacyStep(step, fmt.Sprintf("%s[%d]", base, i)); err != nil {
			return err
		}
	}
	return nil
}

func rejectLegacyStep(step models.Step, path string) error {
	switch step.Kind {
	case models.StepKindPlaylist:
		return appErrors.Clone(appErrors.ErrMigration, fmt.Sprintf("legacy document references playlist %q at %s", step.PlaylistID, path))
	case models.StepKindRule:
		if step.Rule == nil {
			return nil
		}
		if err := rejectLegacyReferences(step.Rule.Items, path+".rule.items"); err != nil {
			return err
		}
		if step.Rule.Item != nil {
			if err := rejectLegacyStep(*step.Rule.Item, path+".rule.item"); err != nil {
				return err
			}
		}
		return rejectLegacyReferences(step.Rule.Options, path+".rule.options")
	}
	return nil
}
