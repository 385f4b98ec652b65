package template

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedEngine() *Engine {
	return &Engine{Now: func() time.Time {
		return time.Date(2025, 3, 14, 15, 9, 26, 0, time.UTC)
	}}
}

func TestRenderOriginalJoinsTextAndCaption(t *testing.T) {
	e := fixedEngine()
	cfg := Config{Mode: ModeOriginal}

	out, err := e.Render(cfg, Item{OriginalText: "text", OriginalCaption: "caption"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "text\ncaption", out)

	out, err = e.Render(cfg, Item{OriginalCaption: "caption only"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "caption only", out)

	out, err = e.Render(cfg, Item{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestRenderCustomSubstitutesVariables(t *testing.T) {
	e := fixedEngine()
	cfg := Config{Mode: ModeCustom, Body: "{file_name} ({file_size_formatted}) from {client_name}"}

	out, err := e.Render(cfg, Item{FileName: "report.pdf", FileSize: 2048, ClientName: "acc1"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf (2.0 KB) from acc1", out)
}

func TestRenderUnknownPlaceholderPassesThrough(t *testing.T) {
	e := fixedEngine()
	cfg := Config{
		Mode: ModeCustom,
		Body: "{a}-{b}",
		Variables: []Variable{
			{Name: "a", Value: "hello"},
		},
	}

	out, err := e.Render(cfg, Item{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello-{b}", out)
}

func TestRenderExpandsEscapes(t *testing.T) {
	e := fixedEngine()
	cfg := Config{Mode: ModeCustom, Body: `line1\nline2`}

	out, err := e.Render(cfg, Item{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "line1\nline2", out)
}

func TestExpandEscapes(t *testing.T) {
	assert.Equal(t, "a\tb", ExpandEscapes(`a\tb`))
	assert.Equal(t, "a\rb", ExpandEscapes(`a\rb`))
	// An escaped backslash must not swallow the following character.
	assert.Equal(t, `a\nb`, ExpandEscapes(`a\\nb`))
	assert.Equal(t, `trailing\`, ExpandEscapes(`trailing\`))
	assert.Equal(t, `\x`, ExpandEscapes(`\x`))
}

func TestRenderCustomRequiresBody(t *testing.T) {
	e := fixedEngine()
	_, err := e.Render(Config{Mode: ModeCustom, Body: "   "}, Item{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content required")
}

func TestRenderTimeVariablesUseInjectedClock(t *testing.T) {
	e := fixedEngine()
	cfg := Config{Mode: ModeCustom, Body: "{date} {time}"}

	out, err := e.Render(cfg, Item{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "2025-03-14 15:09:26", out)
}

func TestRenderResolutionOrder(t *testing.T) {
	e := fixedEngine()
	cfg := Config{
		Mode: ModeCustom,
		Body: "{client_name}",
		Variables: []Variable{
			{Name: "client_name", Value: "from-template"},
		},
	}

	// Template statics override derived values, caller extras override both.
	out, err := e.Render(cfg, Item{ClientName: "derived"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "from-template", out)

	out, err = e.Render(cfg, Item{ClientName: "derived"}, map[string]string{"client_name": "extra"})
	require.NoError(t, err)
	assert.Equal(t, "extra", out)
}

func TestRenderExtractorVariable(t *testing.T) {
	e := fixedEngine()
	cfg := Config{
		Mode: ModeCustom,
		Body: "tag: {tag}",
		Variables: []Variable{
			{Name: "tag", Value: "none", ExtractorPattern: `#\w+`},
		},
	}

	out, err := e.Render(cfg, Item{OriginalCaption: "look at #sunset today"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "tag: #sunset", out)

	// No match falls back to the static value.
	out, err = e.Render(cfg, Item{OriginalCaption: "no tags here"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "tag: none", out)
}
