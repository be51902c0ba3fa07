package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/listing-scraper/internal/model"
)

func TestMergeBusiness_PreservesFields(t *testing.T) {
	t.Parallel()

	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	existing := model.Business{ID: "b1", Name: "A", Address: "X", Phone: "123", CreatedAt: &created}
	incoming := model.Business{Name: "A", Address: "X", Website: "a.com"}

	merged := MergeBusiness(existing, incoming)
	assert.Equal(t, "123", merged.Phone)
	assert.Equal(t, "a.com", merged.Website)
	assert.Equal(t, "b1", merged.ID)
	assert.Equal(t, &created, merged.CreatedAt)
}

func TestMergeBusiness_OverwritesNonEmptyScalars(t *testing.T) {
	t.Parallel()

	existing := model.Business{Name: "A", Address: "X", Phone: "123", Rating: 4.0, Description: "old"}
	incoming := model.Business{Name: "A", Address: "X", Phone: "456", Rating: "4.5", Description: "new"}

	merged := MergeBusiness(existing, incoming)
	assert.Equal(t, "456", merged.Phone)
	assert.Equal(t, "4.5", merged.Rating)
	assert.Equal(t, "new", merged.Description)

	kept := MergeBusiness(existing, model.Business{Name: "A", Address: "X", Rating: ""})
	assert.Equal(t, 4.0, kept.Rating)
	assert.Equal(t, "old", kept.Description)
}

func TestMergeBusiness_HoursAndSocialKeyWise(t *testing.T) {
	t.Parallel()

	existing := model.Business{
		Hours:       map[string]any{"weekdays": "9-5", "saturday": "10-2"},
		SocialMedia: map[string]string{"facebook": "fb/a", "instagram": "ig/a"},
	}
	incoming := model.Business{
		Hours:       map[string]any{"saturday": "closed", "sunday": "closed"},
		SocialMedia: map[string]string{"instagram": "ig/b", "twitter": "tw/b"},
	}

	merged := MergeBusiness(existing, incoming)
	assert.Equal(t, map[string]any{"weekdays": "9-5", "saturday": "closed", "sunday": "closed"}, merged.Hours)
	assert.Equal(t, map[string]string{"facebook": "fb/a", "instagram": "ig/b", "twitter": "tw/b"}, merged.SocialMedia)
}

func TestMergeBusiness_StringHoursReplace(t *testing.T) {
	t.Parallel()

	merged := MergeBusiness(model.Business{Hours: map[string]any{"weekdays": "9-5"}}, model.Business{Hours: "24/7"})
	assert.Equal(t, "24/7", merged.Hours)

	merged = MergeBusiness(model.Business{Hours: "24/7"}, model.Business{})
	assert.Equal(t, "24/7", merged.Hours)
}

func TestLikePattern(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "%cafe%", likePattern("Cafe"))
	assert.Equal(t, `%100\%%`, likePattern("100%"))
	assert.Equal(t, `%a\_b%`, likePattern("a_b"))
}

func TestClampLimitAndSort(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 100, clampLimit(0))
	assert.Equal(t, 1000, clampLimit(5000))
	assert.Equal(t, 25, clampLimit(25))
	assert.Equal(t, "name", sortColumn("name"))
	assert.Equal(t, "created_at", sortColumn("rating; DROP TABLE"))
	assert.Equal(t, "ASC", sortDirection("asc"))
	assert.Equal(t, "DESC", sortDirection(""))
}
