package chunking

import "fmt"

const (
	DefaultMaxChunkChars  = 1000
	DefaultOverlapChars   = 100
	DefaultMinChunkChars  = 200
	DefaultBoundaryWindow = 200
	DefaultCharsPerToken  = 4
)

// DefaultSeparators lists cut points from most to least preferred.
// A cut is made directly after the separator.
var DefaultSeparators = []string{
	"\n\n",
	"\n",
	"。", "！", "？",
	". ", "! ", "? ",
	"；", "; ",
	"，", ", ",
	" ",
}

// Config controls how text is split. Lengths are counted in code points.
type Config struct {
	MaxChunkChars  int      `toml:"max_chunk_chars"`
	OverlapChars   int      `toml:"overlap_chars"`
	MinChunkChars  int      `toml:"min_chunk_chars"`
	BoundaryWindow int      `toml:"boundary_window"` // how far back from the window end to look for a separator
	Separators     []string `toml:"separators"`
	CharsPerToken  int      `toml:"chars_per_token"`
}

// DefaultConfig returns the configuration used when none is supplied.
func DefaultConfig() Config {
	return Config{
		MaxChunkChars:  DefaultMaxChunkChars,
		OverlapChars:   DefaultOverlapChars,
		MinChunkChars:  DefaultMinChunkChars,
		BoundaryWindow: DefaultBoundaryWindow,
		Separators:     DefaultSeparators,
		CharsPerToken:  DefaultCharsPerToken,
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.MaxChunkChars <= 0 {
		return fmt.Errorf("%w: max_chunk_chars must be greater than 0", ErrInvalidConfig)
	}
	if c.OverlapChars < 0 || c.OverlapChars >= c.MaxChunkChars {
		return fmt.Errorf("%w: overlap_chars must be in [0, max_chunk_chars)", ErrInvalidConfig)
	}
	if c.MinChunkChars < 0 || c.MinChunkChars > c.MaxChunkChars {
		return fmt.Errorf("%w: min_chunk_chars must be in [0, max_chunk_chars]", ErrInvalidConfig)
	}
	if c.BoundaryWindow < 0 {
		return fmt.Errorf("%w: boundary_window cannot be negative", ErrInvalidConfig)
	}
	if c.CharsPerToken <= 0 {
		return fmt.Errorf("%w: chars_per_token must be greater than 0", ErrInvalidConfig)
	}
	for _, sep := range c.Separators {
		if sep == "" {
			return fmt.Errorf("%w: separators cannot contain an empty string", ErrInvalidConfig)
		}
	}
	return nil
}

// EstimateTokens approximates the token count of content: one token per
// charsPerToken code points, rounded up, and at least one for non-empty content.
func EstimateTokens(runeCount, charsPerToken int) int {
	if runeCount <= 0 {
		return 0
	}
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	return (runeCount + charsPerToken - 1) / charsPerToken
}
