package ui

import (
	"os"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
)

func plain(t *testing.T) {
	t.Helper()
	t.Setenv("NO_COLOR", "1")
}

func colored(t *testing.T) {
	t.Helper()
	t.Setenv("NO_COLOR", "")
	os.Unsetenv("NO_COLOR")
	orig := color.NoColor
	color.NoColor = false
	t.Cleanup(func() { color.NoColor = orig })
}

func TestPlainDecorations(t *testing.T) {
	plain(t)

	cases := map[string]struct {
		f    Formatter
		in   string
		want string
	}{
		"code":      {Code, "liftsocial club rotate", "`liftsocial club rotate`"},
		"highlight": {Highlight, "Dawn Patrol", "'Dawn Patrol'"},
		"muted":     {Muted, "rotation due", "(rotation due)"},
		"path":      {Path, "identity.sealed", "identity.sealed"},
		"flag":      {Flag, "--deliver-keys", "--deliver-keys"},
		"heading":   {Heading, "Club feed", "Club feed"},
		"success":   {Success, "✓ Posted", "✓ Posted"},
		"error":     {Error, "✗ No access", "✗ No access"},
		"warning":   {Warning, "⚠", "⚠"},
		"info":      {Info, "→", "→"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.f.Sprint(tc.in))
		})
	}

	assert.Equal(t, "`liftsocial feed read`", Code.Sprint("liftsocial", " feed", " read"))
	assert.Equal(t, "'3 followers'", Highlight.Sprintf("%d followers", 3))
}

func TestColoredOutputDropsDecorations(t *testing.T) {
	colored(t)

	out := Highlight.Sprintf("club: %s", "Dawn Patrol")
	assert.Contains(t, out, "\x1b[")
	assert.Contains(t, out, "club: Dawn Patrol")
	assert.NotContains(t, out, "'")

	assert.NotContains(t, Code.Sprint("liftsocial inbox sync"), "`")
}

func TestNoColorDetection(t *testing.T) {
	colored(t)
	assert.False(t, noColor())

	t.Setenv("NO_COLOR", "")
	assert.True(t, noColor(), "NO_COLOR counts when set even if empty")
}

func TestMark(t *testing.T) {
	plain(t)
	assert.Equal(t, "✓", Mark(true))
	assert.Equal(t, "✗", Mark(false))
}

func TestEnsureNewline(t *testing.T) {
	assert.Equal(t, "\n", EnsureNewline(""))
	assert.Equal(t, "✓ Posted\n", EnsureNewline("✓ Posted"))
	assert.Equal(t, "✓ Posted\n", EnsureNewline("✓ Posted\n"))
}
