package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "lowercases scheme and host",
			input:    "HTTPS://Example.COM/News/Story",
			expected: "https://example.com/News/Story",
		},
		{
			name:     "strips fragment",
			input:    "https://example.com/story#comments",
			expected: "https://example.com/story",
		},
		{
			name:     "drops trailing slash",
			input:    "https://example.com/story/",
			expected: "https://example.com/story",
		},
		{
			name:     "trims whitespace",
			input:    "  https://example.com/story  ",
			expected: "https://example.com/story",
		},
		{
			name:     "preserves query string",
			input:    "https://example.com/story?id=42",
			expected: "https://example.com/story?id=42",
		},
		{
			name:     "unparseable input falls back to lowercase trim",
			input:    "  Not A URL  ",
			expected: "not a url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeURL(tt.input))
		})
	}
}

func TestURLHash(t *testing.T) {
	t.Run("identical after normalization", func(t *testing.T) {
		a := URLHash("https://example.com/story/")
		b := URLHash("HTTPS://EXAMPLE.com/story#frag")
		assert.Equal(t, a, b)
	})

	t.Run("distinct URLs differ", func(t *testing.T) {
		assert.NotEqual(t,
			URLHash("https://example.com/story-one"),
			URLHash("https://example.com/story-two"),
		)
	})

	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t,
			URLHash("https://example.com/story"),
			URLHash("https://example.com/story"),
		)
	})
}

func TestContentHash(t *testing.T) {
	t.Run("empty content has no hash", func(t *testing.T) {
		assert.Empty(t, ContentHash(""))
	})

	t.Run("content changes change the hash", func(t *testing.T) {
		assert.NotEqual(t, ContentHash("first draft"), ContentHash("second draft"))
	})
}
