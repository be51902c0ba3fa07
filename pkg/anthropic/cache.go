package anthropic

// BuildCachedSystemBlocks constructs system content blocks with an
// ephemeral cache breakpoint. Chunked extraction sends the same system
// prompt once per chunk, so later chunks read it from the prompt cache.
func BuildCachedSystemBlocks(text string) []SystemBlock {
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: "5m"},
		},
	}
}
