package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"github.com/example/semrel/internal/release"
)

var (
	statusGood = color.New(color.FgGreen).SprintFunc()
	statusBad  = color.New(color.FgRed, color.Bold).SprintFunc()
	statusInfo = color.New(color.FgYellow).SprintFunc()
	dim        = color.New(color.FgHiBlack).SprintFunc()
)

type SummaryOptions struct {
	Width int
	// Color forces ANSI colors on or off; fatih/color's own detection applies otherwise.
	Color *bool
}

// WriteSummary prints the outcome header and the per-step table.
func WriteSummary(w io.Writer, out release.Outcome, opts SummaryOptions) error {
	if opts.Color != nil {
		prev := color.NoColor
		color.NoColor = !*opts.Color
		defer func() { color.NoColor = prev }()
	}
	width := opts.Width
	if width <= 0 {
		width = DefaultWidth
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", dim("run"), out.RunID)
	if out.Branch != "" {
		fmt.Fprintf(&b, "%s %s\n", dim("branch"), out.Branch)
	}
	if out.Channel != "" {
		fmt.Fprintf(&b, "%s %s\n", dim("channel"), out.Channel)
	}
	if out.Version != "" {
		fmt.Fprintf(&b, "%s %s (%s)\n", dim("version"), out.Version, out.Tag)
	}
	fmt.Fprintf(&b, "%s %s\n", dim("status"), colorStatus(out.Status))
	if out.Err != nil && out.ExitCode() != 0 {
		fmt.Fprintf(&b, "%s %s\n", dim("error"), Truncate(firstLine(out.Err.Error()), width-len("error ")))
	} else if out.Err != nil {
		fmt.Fprintf(&b, "%s %s\n", dim("reason"), Truncate(firstLine(out.Err.Error()), width-len("reason ")))
	}

	if len(out.Steps) > 0 {
		nameWidth := len("STEP")
		for _, s := range out.Steps {
			nameWidth = max(nameWidth, runewidth.StringWidth(s.Step))
		}
		const statusWidth = 10
		b.WriteString("\n")
		fmt.Fprintf(&b, "%s  %s  %s\n", pad("STEP", nameWidth), pad("STATUS", statusWidth), "DETAIL")
		detailWidth := width - nameWidth - statusWidth - 4
		for _, s := range out.Steps {
			detail := s.ArtifactRef
			if d := s.Detail(); d != "" {
				detail = firstLine(d)
			}
			fmt.Fprintf(&b, "%s  %s  %s\n",
				pad(s.Step, nameWidth),
				colorStep(s.Status, pad(string(s.Status), statusWidth)),
				Truncate(detail, max(detailWidth, 10)),
			)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func pad(s string, width int) string {
	return runewidth.FillRight(s, width)
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}

func colorStatus(s release.Status) string {
	switch s {
	case release.StatusSucceeded:
		return statusGood(string(s))
	case release.StatusFailed, release.StatusAborted, release.StatusError:
		return statusBad(string(s))
	default:
		return statusInfo(string(s))
	}
}

func colorStep(s release.StepStatus, text string) string {
	switch s {
	case release.StepPublished, release.StepPrepared, release.StepVerified:
		return statusGood(text)
	case release.StepFailed:
		return statusBad(text)
	default:
		return dim(text)
	}
}
