// Package ui formats liftsocial's terminal output.
//
// Each formatter names what a piece of text is (a command, a user value, a
// status mark) rather than how it looks. With a color terminal the text is
// colorized; under NO_COLOR or a dumb terminal a few formatters fall back to
// plain decorations so the meaning survives:
//
//	Code       `liftsocial inbox sync`
//	Highlight  'Dawn Patrol'
//	Muted      (rotation due)
//
// Mark renders the per-row ✓/✗ used by club and key listings.
package ui
