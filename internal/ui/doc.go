// Package ui provides semantic text formatting for passync's CLI output.
//
// Formatters colorize when the terminal supports it and fall back to plain
// decorations when NO_COLOR is set or color is unavailable:
//
//	ui.Code.Sprint("passync download home")   // `passync download home`
//	ui.Highlight.Sprint("alice")              // 'alice'
//	ui.Muted.Sprint("03-07-2026")             // (03-07-2026)
//
// RenderPreview prints a merge preview with one marked line per entry.
package ui
