package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractClasses(t *testing.T) {
	text := "Visit https://example.com and follow @some_channel #promo #sale"

	out := Extract(text)
	assert.Equal(t, "#promo", out["hashtag"])
	assert.Equal(t, "#promo, #sale", out["hashtag_all"])
	assert.Equal(t, "@some_channel", out["mention"])
	assert.Equal(t, "https://example.com", out["url"])
	assert.NotContains(t, out, "email")
}

func TestSuggestOrderedAndCapped(t *testing.T) {
	text := "mail me at a@b.co, price $19.99, call +1 234 567 8901, tags #a #b #c #d"

	suggestions := Suggest(text, 2)
	assert.Len(t, suggestions, 2)
	// Ordered by class name: email before hashtag.
	assert.Equal(t, "email", suggestions[0].Name)
	assert.Equal(t, "hashtag", suggestions[1].Name)
	assert.LessOrEqual(t, len(suggestions[1].Samples), 3)
}

func TestSuggestNoMatches(t *testing.T) {
	assert.Empty(t, Suggest("plain words only", 5))
}
