package utils

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// ProgressManager draws a per-table record progress bar. A disabled manager ignores every
// call, so callers never need to check.
type ProgressManager struct {
	bar     *progressbar.ProgressBar
	total   int64
	current int64
}

// NewProgressManager creates a bar on stderr. The bar is only drawn when enabled is true and
// stderr is a terminal.
func NewProgressManager(total int64, description string, enabled bool) *ProgressManager {
	if !enabled || !term.IsTerminal(int(os.Stderr.Fd())) {
		return &ProgressManager{total: total}
	}
	return newProgressManager(os.Stderr, total, description, true)
}

func newProgressManager(w io.Writer, total int64, description string, ansi bool) *ProgressManager {
	options := []progressbar.Option{
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("rec"),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
		progressbar.OptionSetWidth(50),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionUseANSICodes(ansi),
	}

	bar := progressbar.NewOptions64(total, options...)
	return &ProgressManager{bar: bar, total: total}
}

// SetCurrent moves the bar to current records, never past the total.
func (pm *ProgressManager) SetCurrent(current int64) {
	if pm.total > 0 && current > pm.total {
		current = pm.total
	}
	pm.current = current
	if pm.bar != nil {
		pm.bar.Set64(current)
	}
}

// Describe replaces the text shown before the bar.
func (pm *ProgressManager) Describe(description string) {
	if pm.bar != nil {
		pm.bar.Describe(description)
	}
}

func (pm *ProgressManager) Finish() {
	if pm.bar != nil {
		pm.bar.Finish()
		pm.bar = nil
	}
}
