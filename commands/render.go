package commands

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/bskygeo/listkeeper/roster"
)

var styles = struct {
	title lipgloss.Style
	good  lipgloss.Style
	warn  lipgloss.Style
	bad   lipgloss.Style
	dim   lipgloss.Style
	head  lipgloss.Style
}{
	title: lipgloss.NewStyle().Bold(true),
	good:  lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
	warn:  lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	bad:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	dim:   lipgloss.NewStyle().Faint(true),
	head:  lipgloss.NewStyle().Bold(true).Padding(0, 1),
}

var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styles.dim).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return styles.head
			}
			return cellStyle
		}).
		Headers(headers...)
}

func memberTable(entries []roster.Entry) string {
	t := newTable("Handle", "Name", "Categories", "Type", "Source", "Added")
	for _, e := range entries {
		cats := e.Categories
		if len(cats) > 3 {
			cats = cats[:3]
		}
		t.Row(e.Handle, truncate(e.DisplayName, 30), strings.Join(cats, ", "), e.EntityType, e.Source, e.AddedDate)
	}
	return t.String()
}

func countTable(title string, counts []roster.Count) string {
	t := newTable(title, "Count")
	for _, c := range counts {
		t.Row(c.Name, strconv.Itoa(c.Count))
	}
	return t.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
