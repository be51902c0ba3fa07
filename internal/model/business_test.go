package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input    string
		expected string
	}{
		{"Restaurant", CategoryRestaurant},
		{"restaurant", CategoryRestaurant},
		{"  HOTEL ", CategoryHotel},
		{"Tour Operator", CategoryAttraction},
		{"Car Rental", CategoryService},
		{"Colmado", CategoryBusiness},
		{"Something Else", CategoryBusiness},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, NormalizeCategory(tt.input))
		})
	}
}

func TestBusiness_Identity(t *testing.T) {
	t.Parallel()

	assert.Equal(t, IdentityNameAddress, Business{Name: "A", Address: "X", Website: "a.com"}.Identity())
	assert.Equal(t, IdentityWebsite, Business{Name: "A", Website: "a.com"}.Identity())
	assert.Equal(t, IdentityNone, Business{Name: "A"}.Identity())
	assert.Equal(t, IdentityNone, Business{Name: "  ", Address: " "}.Identity())
}

func TestBusiness_IdentityKey(t *testing.T) {
	t.Parallel()

	a := Business{Name: "Ferretería X", Address: "Calle 1, Santo Domingo"}
	b := Business{Name: " ferretería x", Address: "calle 1, santo domingo "}
	assert.Equal(t, a.IdentityKey(), b.IdentityKey())
	assert.Equal(t, "w:a.com", Business{Website: "A.com"}.IdentityKey())
	assert.Empty(t, Business{}.IdentityKey())
}

func TestBusiness_HoursForDisplay(t *testing.T) {
	t.Parallel()

	assert.Equal(t, map[string]any{"text": "9-5"}, Business{Hours: "9-5"}.HoursForDisplay())

	structured := map[string]any{"weekdays": "9AM-7PM"}
	assert.Equal(t, structured, Business{Hours: structured}.HoursForDisplay())
	assert.Nil(t, Business{}.HoursForDisplay())
}

func TestJobStatus(t *testing.T) {
	t.Parallel()

	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
	assert.False(t, JobStatus("paused").Valid())
	assert.True(t, JobTypePipeline.Valid())
	assert.False(t, JobType("crawl").Valid())
}

func TestFetchResult_OK(t *testing.T) {
	t.Parallel()

	ok := FetchSuccess("https://a.do", "<html></html>")
	assert.True(t, ok.OK())
	assert.Equal(t, 13, ok.ContentLength)

	short := FetchFailure("https://a.do", StatusHTMLTooShort, "too short")
	assert.False(t, short.OK())

	forbidden := FetchHTTPFailure("https://a.do", 403, "Forbidden")
	assert.Equal(t, "403", forbidden.StatusCode)
	assert.False(t, forbidden.OK())
}
