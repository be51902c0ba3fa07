package geo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/listing-scraper/internal/config"
	"github.com/sells-group/listing-scraper/internal/model"
)

var dominicanRepublic = config.GeoConfig{
	Enabled: true,
	MinLat:  17.36,
	MaxLat:  19.98,
	MinLng:  -72.01,
	MaxLng:  -68.32,
}

func TestNewFence_Disabled(t *testing.T) {
	cfg := dominicanRepublic
	cfg.Enabled = false
	assert.Nil(t, NewFence(cfg, nil))

	assert.Nil(t, NewFence(config.GeoConfig{Enabled: true}, nil))
}

func TestFence_Fix(t *testing.T) {
	f := NewFence(dominicanRepublic, nil)
	require.NotNil(t, f)

	tests := []struct {
		name string
		in   *model.Location
		want *model.Location
	}{
		{"inside", &model.Location{Lat: 18.4861, Lng: -69.9312}, &model.Location{Lat: 18.4861, Lng: -69.9312}},
		{"swapped", &model.Location{Lat: -68.40, Lng: 18.58}, &model.Location{Lat: 18.58, Lng: -68.40}},
		{"outside", &model.Location{Lat: 40.71, Lng: -74.00}, nil},
		{"zero", &model.Location{}, nil},
		{"nil", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Fix(tt.in))
		})
	}
}

func TestFence_NilKeepsLocation(t *testing.T) {
	var f *Fence
	loc := &model.Location{Lat: 40.71, Lng: -74.00}
	assert.Same(t, loc, f.Fix(loc))
}

func TestFence_ContainsEdge(t *testing.T) {
	f := NewFence(dominicanRepublic, nil)
	assert.True(t, f.Contains(17.36, -72.01))
	assert.False(t, f.Contains(17.35, -70))
}
