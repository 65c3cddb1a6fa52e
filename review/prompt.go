package review

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

var (
	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 1)
	titleStyle = lipgloss.NewStyle().Bold(true)
	dimStyle   = lipgloss.NewStyle().Faint(true)
	goodStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	badStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	editStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
)

// PromptDecider asks a person at a terminal.
type PromptDecider struct {
	in  io.Reader
	out io.Writer
}

func NewPromptDecider(in io.Reader, out io.Writer) *PromptDecider {
	return &PromptDecider{in: in, out: out}
}

func confidenceStyle(c float64) lipgloss.Style {
	switch {
	case c >= 0.8:
		return goodStyle
	case c >= 0.5:
		return warnStyle
	default:
		return badStyle
	}
}

// RenderCandidate draws the review panel for one item.
func RenderCandidate(item Item) string {
	c := item.Candidate

	bio := c.Bio
	if len([]rune(bio)) > 200 {
		bio = string([]rune(bio)[:200]) + "…"
	}

	var b strings.Builder
	row := func(label, value string) {
		fmt.Fprintf(&b, "%-13s%s\n", label+":", value)
	}
	row("Name", c.DisplayName)
	row("Handle", c.Handle)
	row("DID", item.DID)
	row("Bio", bio)
	row("Categories", strings.Join(c.Categories, ", "))
	row("Entity type", c.EntityType)
	row("Institution", c.Institution)
	row("Source", string(c.Source))
	if c.MemberFollowCount > 0 {
		row("Followed by", humanize.Comma(int64(c.MemberFollowCount))+" members")
	}
	if c.DMSummary != "" {
		row("Request", c.DMSummary)
	}

	relevant := badStyle.Render("no")
	if c.IsRelevant {
		relevant = goodStyle.Render("yes")
	}
	fmt.Fprintf(&b, "\n%-13s%s  relevant: %s",
		"Confidence:",
		confidenceStyle(c.Confidence).Render(fmt.Sprintf("%.0f%%", c.Confidence*100)),
		relevant,
	)
	if c.Reasoning != "" {
		b.WriteString("\n" + dimStyle.Render("Reasoning: "+c.Reasoning))
	}
	if c.ActivityAssessment != "" {
		b.WriteString("\n" + dimStyle.Render("Activity:  "+c.ActivityAssessment))
	}

	title := titleStyle.Render(fmt.Sprintf("[%d/%d] %s", item.Index, item.Total, c.Handle))
	return title + "\n" + panelStyle.Render(b.String())
}

func (p *PromptDecider) Decide(ctx context.Context, item Item) (Decision, error) {
	fmt.Fprintln(p.out, RenderCandidate(item))

	action := "s"
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title("Action").
			Options(
				huh.NewOption("approve", "a"),
				huh.NewOption("reject", "r"),
				huh.NewOption("skip", "s"),
				huh.NewOption("edit categories", "e"),
				huh.NewOption("quit", "q"),
			).
			Value(&action),
	)).WithInput(p.in).WithOutput(p.out)

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return Quit(), nil
		}
		return Decision{}, err
	}

	switch action {
	case "a":
		return Approve(), nil
	case "r":
		return Reject(), nil
	case "e":
		return p.editCategories(ctx, item)
	case "q":
		return Quit(), nil
	default:
		return Skip(), nil
	}
}

func (p *PromptDecider) editCategories(ctx context.Context, item Item) (Decision, error) {
	value := strings.Join(item.Candidate.Categories, ", ")
	form := huh.NewForm(huh.NewGroup(
		huh.NewInput().
			Title("Categories (comma separated)").
			Value(&value),
	)).WithInput(p.in).WithOutput(p.out)

	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			// keep the categories as they were
			return Edit(item.Candidate.Categories...), nil
		}
		return Decision{}, err
	}
	return Edit(ParseCategories(value)...), nil
}

// ParseCategories splits a comma separated list, dropping blanks.
func ParseCategories(s string) []string {
	var out []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func (p *PromptDecider) Report(item Item, outcome Outcome) {
	name := item.Candidate.Handle
	var line string
	switch {
	case outcome.Err != nil:
		line = badStyle.Render(fmt.Sprintf("  failed to add %s to the list: %v", name, outcome.Err))
	case outcome.Action == ActionApprove:
		line = goodStyle.Render("  added " + name + " to the list")
	case outcome.Action == ActionReject:
		line = badStyle.Render("  rejected " + name)
	case outcome.Action == ActionSkip:
		line = warnStyle.Render("  skipped")
	case outcome.Action == ActionEdit:
		line = editStyle.Render("  categories: " + strings.Join(item.Candidate.Categories, ", "))
	case outcome.Action == ActionQuit:
		line = dimStyle.Render("  quitting review")
	}
	fmt.Fprintln(p.out, line+"\n")
}
