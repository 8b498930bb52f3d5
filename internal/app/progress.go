package app

import (
	"io"

	"github.com/schollz/progressbar/v3"
)

func (a *App) newProgress(total int, description string) *progressbar.ProgressBar {
	out := a.Progress
	if out == nil {
		out = io.Discard
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}
