package geo

import (
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/listing-scraper/internal/config"
	"github.com/sells-group/listing-scraper/internal/model"
)

// Fence keeps extracted coordinates inside a bounding box.
type Fence struct {
	bounds *geom.Bounds
	log    *zap.Logger
}

// NewFence creates a Fence for the box described by cfg. It returns nil
// when the fence is disabled or the box is empty.
func NewFence(cfg config.GeoConfig, log *zap.Logger) *Fence {
	if !cfg.Enabled || cfg.MinLat >= cfg.MaxLat || cfg.MinLng >= cfg.MaxLng {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Fence{
		bounds: geom.NewBounds(geom.XY).Set(cfg.MinLng, cfg.MinLat, cfg.MaxLng, cfg.MaxLat),
		log:    log,
	}
}

// Contains reports whether (lat, lng) lies inside the fence.
func (f *Fence) Contains(lat, lng float64) bool {
	return f.bounds.OverlapsPoint(geom.XY, geom.Coord{lng, lat})
}

// Fix returns loc when it lies inside the fence, the swapped pair when
// lat and lng were reversed, and nil otherwise.
func (f *Fence) Fix(loc *model.Location) *model.Location {
	if loc == nil {
		return nil
	}
	if f.Contains(loc.Lat, loc.Lng) {
		return loc
	}
	if f.Contains(loc.Lng, loc.Lat) {
		f.log.Debug("geo: swapped reversed coordinates",
			zap.Float64("lat", loc.Lat),
			zap.Float64("lng", loc.Lng),
		)
		return &model.Location{Lat: loc.Lng, Lng: loc.Lat}
	}
	f.log.Debug("geo: dropped location outside fence",
		zap.Float64("lat", loc.Lat),
		zap.Float64("lng", loc.Lng),
	)
	return nil
}
