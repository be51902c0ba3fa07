package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/listing-scraper/internal/model"
)

// MergeBusiness reconciles an incoming record into a stored one. Non-empty
// incoming scalars overwrite, hours and social_media merge key-wise, and
// created_at is kept from the stored record.
func MergeBusiness(existing, incoming model.Business) model.Business {
	merged := existing

	setString(&merged.Name, incoming.Name)
	setString(&merged.Address, incoming.Address)
	setString(&merged.Phone, incoming.Phone)
	setString(&merged.Website, incoming.Website)
	setString(&merged.Category, incoming.Category)
	setString(&merged.Email, incoming.Email)
	setString(&merged.Description, incoming.Description)
	setString(&merged.SourceURL, incoming.SourceURL)
	setString(&merged.SourceName, incoming.SourceName)
	setString(&merged.SourceType, incoming.SourceType)

	if !isEmptyValue(incoming.Rating) {
		merged.Rating = incoming.Rating
	}
	if incoming.Location != nil {
		loc := *incoming.Location
		merged.Location = &loc
	}
	merged.Hours = mergeHours(existing.Hours, incoming.Hours)

	if len(incoming.SocialMedia) > 0 {
		sm := make(map[string]string, len(existing.SocialMedia)+len(incoming.SocialMedia))
		for k, v := range existing.SocialMedia {
			sm[k] = v
		}
		for k, v := range incoming.SocialMedia {
			if v != "" {
				sm[k] = v
			}
		}
		merged.SocialMedia = sm
	}

	if incoming.UpdatedAt != nil {
		merged.UpdatedAt = incoming.UpdatedAt
	}
	merged.CreatedAt = existing.CreatedAt
	merged.ID = existing.ID
	return merged
}

func setString(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = v
	}
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return false
}

func mergeHours(existing, incoming any) any {
	if isEmptyValue(incoming) {
		return existing
	}
	oldMap, okOld := existing.(map[string]any)
	newMap, okNew := incoming.(map[string]any)
	if !okOld || !okNew {
		return incoming
	}
	out := make(map[string]any, len(oldMap)+len(newMap))
	for k, v := range oldMap {
		out[k] = v
	}
	for k, v := range newMap {
		out[k] = v
	}
	return out
}

// businessRows is the per-driver row access used by saveEntities.
type businessRows interface {
	findBusiness(ctx context.Context, b model.Business) (*model.Business, error)
	insertBusiness(ctx context.Context, b *model.Business) error
	updateBusiness(ctx context.Context, b *model.Business) error
}

// saveEntities runs the create-or-merge loop one record at a time. Writes
// are single-row; there is no surrounding transaction.
func saveEntities(ctx context.Context, rows businessRows, entities []model.Business, sourceType string) (SaveResult, error) {
	var res SaveResult
	for _, e := range entities {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "store: save entities")
		}

		now := time.Now().UTC()
		e.UpdatedAt = &now
		e.SourceType = sourceType
		e.Category = model.NormalizeCategory(e.Category)

		var existing *model.Business
		if e.Identity() != model.IdentityNone {
			found, err := rows.findBusiness(ctx, e)
			if err != nil {
				return res, err
			}
			existing = found
		}

		if existing != nil {
			merged := MergeBusiness(*existing, e)
			if err := rows.updateBusiness(ctx, &merged); err != nil {
				return res, err
			}
			res.Updated++
			continue
		}

		e.ID = uuid.New().String()
		e.CreatedAt = &now
		if err := rows.insertBusiness(ctx, &e); err != nil {
			return res, err
		}
		res.Saved++
	}
	return res, nil
}

// identityColumns returns the lookup keys stored alongside each document.
func identityColumns(b model.Business) (nameKey, addressKey, websiteKey string) {
	return normKey(b.Name), normKey(b.Address), normKey(b.Website)
}

func normKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
