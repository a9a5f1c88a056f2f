package anthropic

// BuildCachedSystemBlocks constructs a system block with a cache breakpoint.
// The classifier sends the same system prompt (taxonomy and output format)
// with every document, so consecutive calls read it from the prompt cache.
// An empty ttl uses the API default of five minutes.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	return []SystemBlock{
		{
			Text: text,
			CacheControl: &CacheControl{
				TTL: ttl,
			},
		},
	}
}
