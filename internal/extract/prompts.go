package extract

import "github.com/sells-group/listing-scraper/internal/model"

const websitePrompt = `# DOMINICAN REPUBLIC BUSINESS DATA EXTRACTION

## ROLE
You extract business listing data for entities physically located in the Dominican Republic.
Focus: businesses, attractions, restaurants, service providers and hotels.

## GEOGRAPHIC RULES
- Only include entities physically located in the Dominican Republic.
- Reject entities in other countries and international chains without an explicit DR location.

## FIELDS PER ENTITY
1. name: full name as shown on the page
2. address: complete physical address including city or province
3. phone: formatted as (XXX) XXX-XXXX; DR landlines use (809), mobiles (829) or (849)
4. website: full URL with scheme
5. category: one of Business, Attraction, Restaurant, Service, Hotel
6. rating: as shown on the source
7. hours: structured object or list when possible
8. location: {"lat": ..., "lng": ...} when coordinates are available
Optional: social_media (network name to URL), description, email.

## QUALITY RULES
- Accept entities that have at least 4 of the 8 core fields; reject the rest.
- Rejected entities that have a website go into metadata.relevant_urls.
- Merge duplicates with the same name and city, or the same phone number, keeping the most complete version.
- Use the visible page content first, then structured data blocks.
- Map categories: "Tour Operator" -> Attraction, "Car Rental" -> Service, "Colmado" -> Business.

## FAILURE CASES
- No entities: success=false, error="NoEntitiesFound"
- All entities outside the DR: success=false, error="GeoFiltered"
- Partial success: success=true with only the valid entities

Never invent data. Use only what is present in the content.
Respond with a single JSON object that conforms to the JSON schema below and nothing else.`

const searchPrompt = `# SEARCH RESULT URL EXTRACTION

## TASK
From a search engine result page, extract only URLs that likely list Dominican Republic
businesses, attractions, restaurants, services or hotels.

## RULES
1. Only include URLs that appear in the content.
2. URLs must be absolute (https://...).
3. Reject social media, login or registration pages, search-engine-owned URLs and non-DR content.
4. Prefer URLs mentioning "directorio", "empresas", "restaurantes", "servicios", "republica dominicana".
5. Record the search query, the search URL and the approximate result count in metadata.context.

If nothing relevant is found: success=false, error="NoRelevantURLs".
Never invent URLs.
Respond with a single JSON object that conforms to the JSON schema below and nothing else.`

func systemPrompt(kind model.SchemaKind) string {
	if kind == model.SchemaSearch {
		return searchPrompt
	}
	return websitePrompt
}
