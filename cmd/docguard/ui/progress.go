package ui

import (
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/schollz/progressbar/v3"
)

// ProgressBar counts finished documents on stderr. The description names
// the most recent document and the failures so far.
type ProgressBar struct {
	bar    *progressbar.ProgressBar
	failed int
}

func NewProgressBar(total int) *ProgressBar {
	return &ProgressBar{bar: progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("docs"),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer: "=", SaucerHead: ">", SaucerPadding: " ", BarStart: "[", BarEnd: "]",
		}),
	)}
}

// Done records one finished document.
func (p *ProgressBar) Done(filename string, failed bool) {
	if failed {
		p.failed++
	}
	desc := truncate(filename, 24)
	if p.failed > 0 {
		desc = fmt.Sprintf("%s (%d failed)", desc, p.failed)
	}
	p.bar.Describe(desc)
	_ = p.bar.Add(1)
}

func (p *ProgressBar) Finish() { _ = p.bar.Finish() }

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// Spinner shows indeterminate progress on stderr.
type Spinner struct {
	s *spinner.Spinner
}

func NewSpinner(message string) *Spinner {
	s := spinner.New(spinner.CharSets[11], 120*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + message
	return &Spinner{s: s}
}

func (s *Spinner) Start() { s.s.Start() }
func (s *Spinner) Stop()  { s.s.Stop() }
