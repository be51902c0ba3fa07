package model

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Category taxonomy for extracted entities.
const (
	CategoryBusiness   = "Business"
	CategoryAttraction = "Attraction"
	CategoryRestaurant = "Restaurant"
	CategoryService    = "Service"
	CategoryHotel      = "Hotel"
)

// Categories returns the fixed entity taxonomy.
func Categories() []string {
	return []string{CategoryBusiness, CategoryAttraction, CategoryRestaurant, CategoryService, CategoryHotel}
}

// categoryAliases maps common labels returned by the LLM onto the taxonomy.
var categoryAliases = map[string]string{
	"tour operator":      CategoryAttraction,
	"tour":               CategoryAttraction,
	"tourist spot":       CategoryAttraction,
	"museum":             CategoryAttraction,
	"beach":              CategoryAttraction,
	"park":               CategoryAttraction,
	"car rental":         CategoryService,
	"services":           CategoryService,
	"professional":       CategoryService,
	"colmado":            CategoryBusiness,
	"store":              CategoryBusiness,
	"shop":               CategoryBusiness,
	"businesses":         CategoryBusiness,
	"cafe":               CategoryRestaurant,
	"bar":                CategoryRestaurant,
	"restaurants":        CategoryRestaurant,
	"food":               CategoryRestaurant,
	"hotels":             CategoryHotel,
	"resort":             CategoryHotel,
	"lodging":            CategoryHotel,
	"hostel":             CategoryHotel,
	"accommodation":      CategoryHotel,
	"attractions":        CategoryAttraction,
	"service":            CategoryService,
	"business":           CategoryBusiness,
	"restaurant":         CategoryRestaurant,
	"hotel":              CategoryHotel,
	"attraction":         CategoryAttraction,
	"tourist attraction": CategoryAttraction,
}

var titleCaser = cases.Title(language.Und)

// NormalizeCategory maps a free-form category onto the taxonomy. Unknown
// labels fall back to Business; an empty label stays empty.
func NormalizeCategory(raw string) string {
	c := strings.TrimSpace(raw)
	if c == "" {
		return ""
	}
	lower := strings.ToLower(c)
	if mapped, ok := categoryAliases[lower]; ok {
		return mapped
	}
	titled := titleCaser.String(lower)
	for _, known := range Categories() {
		if titled == known {
			return known
		}
	}
	return CategoryBusiness
}

// Location is a WGS84 coordinate pair.
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Business is an extracted business/attraction/service record. Empty
// strings and nil values mean "not provided".
type Business struct {
	ID          string            `json:"id,omitempty"`
	Name        string            `json:"name"`
	Address     string            `json:"address"`
	Phone       string            `json:"phone,omitempty"`
	Website     string            `json:"website,omitempty"`
	Category    string            `json:"category"`
	Rating      any               `json:"rating,omitempty"`
	Hours       any               `json:"hours,omitempty"`
	Location    *Location         `json:"location,omitempty"`
	SocialMedia map[string]string `json:"social_media,omitempty"`
	Description string            `json:"description,omitempty"`
	Email       string            `json:"email,omitempty"`
	SourceURL   string            `json:"source_url,omitempty"`
	SourceName  string            `json:"source_name,omitempty"`
	SourceType  string            `json:"source_type,omitempty"`
	CreatedAt   *time.Time        `json:"created_at,omitempty"`
	UpdatedAt   *time.Time        `json:"updated_at,omitempty"`
}

// IdentityKind tells how a business is matched against stored records.
type IdentityKind int

const (
	IdentityNone IdentityKind = iota
	IdentityNameAddress
	IdentityWebsite
)

// Identity returns how b is deduplicated: by (name, address) when both are
// present, else by website, else not at all.
func (b Business) Identity() IdentityKind {
	if strings.TrimSpace(b.Name) != "" && strings.TrimSpace(b.Address) != "" {
		return IdentityNameAddress
	}
	if strings.TrimSpace(b.Website) != "" {
		return IdentityWebsite
	}
	return IdentityNone
}

// IdentityKey returns a string key for in-memory deduplication.
func (b Business) IdentityKey() string {
	switch b.Identity() {
	case IdentityNameAddress:
		return "na:" + strings.ToLower(strings.TrimSpace(b.Name)) + "|" + strings.ToLower(strings.TrimSpace(b.Address))
	case IdentityWebsite:
		return "w:" + strings.ToLower(strings.TrimSpace(b.Website))
	}
	return ""
}

// HoursForDisplay returns the hours value with plain strings wrapped as
// {"text": ...} so clients always receive an object or list.
func (b Business) HoursForDisplay() any {
	if s, ok := b.Hours.(string); ok {
		return map[string]any{"text": s}
	}
	return b.Hours
}
