// Package report renders training progress and the end-of-run summary on
// the command line.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"github.com/born-ml/digits/internal/train"
)

// ProgressBarName is the hook name used by AttachProgressBar.
const ProgressBarName = "report.progressBar"

// progressBar shows one bar per epoch with the latest loss.
type progressBar struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

func (p *progressBar) onStep(_ *train.Loop, step train.Step) error {
	if step.Index == 0 || p.bar == nil {
		p.bar = progressbar.NewOptions(step.Total,
			progressbar.OptionSetWriter(p.w),
			progressbar.OptionUseANSICodes(true),
			progressbar.OptionEnableColorCodes(true),
			progressbar.OptionShowIts(),
			progressbar.OptionSetItsString("steps"),
			progressbar.OptionSetTheme(progressbar.ThemeUnicode),
		)
	}
	p.bar.Describe(fmt.Sprintf("Epoch %d loss=%.4f", step.Epoch+1, step.Loss))
	return p.bar.Add(1)
}

func (p *progressBar) onEnd(*train.Loop) error {
	if p.bar != nil {
		_ = p.bar.Close()
		p.bar = nil
	}
	_, err := fmt.Fprintln(p.w)
	return err
}

// AttachProgressBar makes every Run of loop display a progress bar on w.
func AttachProgressBar(loop *train.Loop, w io.Writer) {
	p := &progressBar{w: w}
	loop.OnStep(ProgressBarName, p.onStep)
	loop.OnEnd(ProgressBarName, p.onEnd)
}

var (
	normalStyle       = lipgloss.NewStyle().Padding(0, 1)
	rightAlignedStyle = lipgloss.NewStyle().Align(lipgloss.Right).Padding(0, 1)
	headerStyle       = lipgloss.NewStyle().Bold(true).Padding(0, 1)
)

// Summary collects the facts shown at the end of a run.
type Summary struct {
	Device     string
	Parameters int
	TrainSize  int
	Batches    int
	Epochs     int
	Stats      train.Stats
	Final      train.Result
	Elapsed    time.Duration
	Checkpoint string
}

// Rows returns the summary as label/value pairs, in display order.
func (s Summary) Rows() [][2]string {
	rows := [][2]string{
		{"Device", s.Device},
		{"Parameters", humanize.Comma(int64(s.Parameters))},
		{"Training samples", humanize.Comma(int64(s.TrainSize))},
		{"Batches / epoch", humanize.Comma(int64(s.Batches))},
		{"Epochs", fmt.Sprint(s.Epochs)},
		{"Steps", humanize.Comma(int64(s.Stats.Steps))},
		{"Mean loss", fmt.Sprintf("%.4f ± %.4f", s.Stats.MeanLoss, s.Stats.StdDevLoss)},
		{"Last loss", fmt.Sprintf("%.4f", s.Stats.LastLoss)},
		{"Median step", s.Stats.MedianDuration.Round(time.Microsecond).String()},
		{"Held-out accuracy", fmt.Sprintf("%.2f%% (%d samples)", 100*s.Final.Accuracy, s.Final.Samples)},
		{"Held-out loss", fmt.Sprintf("%.4f", s.Final.Loss)},
		{"Elapsed", s.Elapsed.Round(time.Millisecond).String()},
	}
	if s.Checkpoint != "" {
		rows = append(rows, [2]string{"Checkpoint", s.Checkpoint})
	}
	return rows
}

// Render returns the summary as a bordered table.
func (s Summary) Render() string {
	table := lgtable.New().
		Border(lipgloss.RoundedBorder()).
		Headers("Run", "Value").
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return headerStyle
			case col == 0:
				return rightAlignedStyle
			}
			return normalStyle
		})
	for _, r := range s.Rows() {
		table.Row(r[0], r[1])
	}
	return table.String()
}
