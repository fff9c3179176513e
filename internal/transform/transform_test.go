package transform

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClean_StripsMarkup(t *testing.T) {
	t.Parallel()
	raw := `<h1>Overview</h1><p>The plan is &amp; remains simple.</p><script>alert("x")</script><p>Second   paragraph.</p>`

	text, labels := Clean(raw)
	require.Equal(t, []string{"Overview"}, labels)
	require.Contains(t, text, "The plan is & remains simple.")
	require.Contains(t, text, "Second paragraph.")
	require.NotContains(t, text, "alert")
	require.NotContains(t, text, "<")
}

func TestClean_HeadingsBecomeLabels(t *testing.T) {
	t.Parallel()
	raw := `<h1>Intro</h1><h2 class="x">Details</h2><h2>Details</h2><h3> </h3>`

	_, labels := Clean(raw)
	require.Equal(t, []string{"Intro", "Details"}, labels, "headings deduplicate and blanks drop")
}

func TestClean_BreaksBecomeNewlines(t *testing.T) {
	t.Parallel()
	text, _ := Clean(`line one<br/>line two</p>line three`)
	require.Equal(t, "line one\nline two\nline three", text)
}

func TestClean_PlainTextPassesThrough(t *testing.T) {
	t.Parallel()
	text, labels := Clean("just   some\tplain text")
	require.Equal(t, "just some plain text", text)
	require.Empty(t, labels)
}

func TestClean_Empty(t *testing.T) {
	t.Parallel()
	text, labels := Clean("")
	require.Empty(t, text)
	require.Nil(t, labels)
}

func TestClean_CollapsesBlankRuns(t *testing.T) {
	t.Parallel()
	text, _ := Clean("a</p></p></p></p>b")
	require.Equal(t, "a\n\nb", text)
}

func TestClean_StripsStyleBlocks(t *testing.T) {
	t.Parallel()
	text, _ := Clean(`<style>p { color: red }</style>visible`)
	require.Equal(t, "visible", text)
	require.NotContains(t, text, "color")
}
