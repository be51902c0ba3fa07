package search

import (
	"fmt"
	"strings"
)

// Category selects keyword hints added to a query.
type Category string

const (
	CategoryGeneral     Category = ""
	CategoryBusinesses  Category = "businesses"
	CategoryRestaurants Category = "restaurants"
	CategoryAttractions Category = "attractions"
	CategoryServices    Category = "services"
	CategoryHotels      Category = "hotels"
)

// Keywords are the Spanish-language hints per category, most relevant
// first.
var Keywords = map[Category][]string{
	CategoryBusinesses: {
		"empresas", "negocios", "directorio empresarial", "compañías",
		"industrias", "comercios", "pymes", "negocio dominicano",
	},
	CategoryRestaurants: {
		"restaurantes", "comida", "gastronomía", "cocina dominicana",
		"donde comer", "comedor", "cafetería", "bar restaurante",
	},
	CategoryAttractions: {
		"lugares turísticos", "atracciones", "turismo", "que visitar",
		"sitios de interés", "monumentos", "playas", "parques",
	},
	CategoryServices: {
		"servicios", "profesionales", "técnicos", "reparaciones",
		"consultores", "servicios profesionales", "proveedores",
	},
	CategoryHotels: {
		"hoteles", "hospedaje", "alojamiento", "resort", "pensión",
		"apart hotel", "posada", "villa",
	},
}

// Cities are Dominican cities ordered by listing density.
var Cities = []string{
	"Santo Domingo", "Santiago", "Puerto Plata", "La Romana",
	"San Pedro de Macorís", "Punta Cana", "Boca Chica", "Samaná",
	"Barahona", "Monte Cristi", "Higüey", "Mao", "Bonao",
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	if c == CategoryGeneral {
		return true
	}
	_, ok := Keywords[c]
	return ok
}

// hintKeywords returns the first two keywords of c.
func (c Category) hintKeywords() []string {
	kws := Keywords[c]
	if len(kws) > 2 {
		kws = kws[:2]
	}
	return kws
}

// Query is a generated search URL with a description of its focus.
type Query struct {
	Type        string `json:"type"`
	Name        string `json:"name,omitempty"`
	Location    string `json:"location,omitempty"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

var socialDomains = []string{"facebook.com", "instagram.com", "twitter.com"}

// GenerateSpecialized returns one country-wide query per category and one
// city query for the first category in each of the first three cities.
// Nil categories or cities use the defaults.
func GenerateSpecialized(term string, categories []Category, cities []string, base Options) ([]Query, error) {
	if categories == nil {
		categories = []Category{CategoryBusinesses, CategoryRestaurants, CategoryAttractions, CategoryServices}
	}
	if cities == nil {
		cities = Cities[:5]
	}

	var out []Query
	for _, c := range categories {
		opts := base
		opts.Category = c
		opts.Location = "República Dominicana"
		opts.IncludeDomains = []string{".do"}
		opts.ExcludeDomains = socialDomains
		u, err := Build(term, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, Query{
			Type:        string(c),
			Location:    "General DR",
			URL:         u,
			Description: fmt.Sprintf("Search for %s related to '%s' in Dominican Republic", c, term),
		})
	}

	primary := CategoryBusinesses
	if len(categories) > 0 {
		primary = categories[0]
	}
	if len(cities) > 3 {
		cities = cities[:3]
	}
	for _, city := range cities {
		opts := base
		opts.Category = primary
		opts.Location = city
		opts.IncludeDomains = []string{".do"}
		u, err := Build(term, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, Query{
			Type:        string(primary) + "_city",
			Location:    city,
			URL:         u,
			Description: fmt.Sprintf("Search for %s related to '%s' in %s", primary, term, city),
		})
	}
	return out, nil
}

// GenerateDirectory returns queries aimed at business, tourism and food
// directory sites.
func GenerateDirectory(term string, base Options) ([]Query, error) {
	configs := []struct {
		name string
		opts Options
	}{
		{"Dominican Business Directories", Options{
			Category:       CategoryBusinesses,
			IncludeWords:   []string{"directorio", "empresas", "listado", "guía"},
			IncludeDomains: []string{".do", "paginasamarillas.com.do"},
			ExcludeWords:   []string{"facebook", "instagram"},
		}},
		{"Tourism and Attraction Listings", Options{
			Category:     CategoryAttractions,
			IncludeWords: []string{"guía turística", "lugares", "directorio turístico"},
			Site:         "godominicanrepublic.com",
		}},
		{"Restaurant and Food Directories", Options{
			Category:     CategoryRestaurants,
			IncludeWords: []string{"directorio", "restaurantes", "donde comer"},
			ExcludeWords: []string{"delivery", "domicilio"},
		}},
	}

	out := make([]Query, 0, len(configs))
	for _, c := range configs {
		u, err := Build(term, c.opts.Merge(base))
		if err != nil {
			return nil, err
		}
		out = append(out, Query{
			Type:        "directory",
			Name:        c.name,
			URL:         u,
			Description: "Specialized search for " + strings.ToLower(c.name),
		})
	}
	return out, nil
}

// GenerateQueries returns the specialized and directory queries for term.
func GenerateQueries(term string, base Options) ([]Query, error) {
	specialized, err := GenerateSpecialized(term, nil, nil, base)
	if err != nil {
		return nil, err
	}
	directory, err := GenerateDirectory(term, base)
	if err != nil {
		return nil, err
	}
	return append(specialized, directory...), nil
}
