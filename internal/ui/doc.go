// Package ui renders command-line output with [lipgloss] styles.
//
// A [Palette] holds the named styles used for headers, success lines, warnings, errors and help text. [Default] is
// the palette the CLI uses; tests build their own with [NewPalette] or [Plain].
//
// Styles degrade to plain text when the output is not a terminal, so piping `crate tracks list` into a file never
// writes escape sequences.
package ui
