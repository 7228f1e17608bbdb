package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	newStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	trkStyle  = lipgloss.NewStyle().Faint(true)
	goneStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	headStyle = lipgloss.NewStyle().Bold(true)
	stepStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))

	statusStyles = map[string]lipgloss.Style{
		"passed":  lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		"failed":  lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		"skipped": lipgloss.NewStyle().Foreground(lipgloss.Color("3")),
		"pending": lipgloss.NewStyle().Foreground(lipgloss.Color("5")),
	}
)

// Status renders a status word in its color; unknown statuses are faint.
func Status(status string) string {
	if s, ok := statusStyles[status]; ok {
		return s.Render(status)
	}
	return trkStyle.Render(status)
}

func NewLine(w io.Writer, path string, pickles int) {
	fmt.Fprintf(w, "%s  %s (%d)\n", newStyle.Render("new"), path, pickles)
}

func TrkLine(w io.Writer, path string, pickles int) {
	fmt.Fprintf(w, "%s  %s (%d)\n", trkStyle.Render("trk"), path, pickles)
}

func GoneLine(w io.Writer, count int) {
	fmt.Fprintf(w, "%s  %d removed feature files\n", goneStyle.Render("del"), count)
}

func ErrLine(w io.Writer, path string, err error) {
	fmt.Fprintf(w, "%s  %s: %v\n", errStyle.Render("err"), path, err)
}

func SummaryLine(w io.Writer, files, pickles int) {
	fmt.Fprintf(w, "synced %d files, %d pickles\n", files, pickles)
}

// ShortID is the prefix of a pickle id shown in listings.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// ListRow prints one pickle. disposition is run or skip under the active tag
// filter.
func ListRow(w io.Writer, id, uri, name, disposition, status string, uriWidth, nameWidth int) {
	d := disposition
	if d != "run" {
		d = trkStyle.Render(d)
	}
	fmt.Fprintf(w, "%-8s  %-*s  %-*s  %-4s  %s\n", ShortID(id), uriWidth, uri, nameWidth, name, d, Status(status))
}

func ShowHeader(w io.Writer, id, uri string) {
	fmt.Fprintln(w, headStyle.Render(id)+"  "+uri)
}

func ShowStatus(w io.Writer, status string) {
	fmt.Fprintln(w, "status: "+Status(status))
}

func ShowTags(w io.Writer, tags []string) {
	if len(tags) == 0 {
		return
	}
	fmt.Fprintln(w, "tags:   "+strings.Join(tags, " "))
}

// ShowStep prints one pickle step with any table or doc string below it.
func ShowStep(w io.Writer, keyword, text string, table [][]string, doc string) {
	fmt.Fprintf(w, "  %s%s\n", stepStyle.Render(keyword), text)
	for _, row := range table {
		fmt.Fprintf(w, "    | %s |\n", strings.Join(row, " | "))
	}
	if doc != "" {
		fmt.Fprintln(w, `    """`)
		for _, line := range strings.Split(doc, "\n") {
			fmt.Fprintln(w, "    "+line)
		}
		fmt.Fprintln(w, `    """`)
	}
}

func HistoryRow(w io.Writer, runID, status string, attempt int, durationMS int64, errText string) {
	line := fmt.Sprintf("%-8s  %s  attempt %d  %dms", ShortID(runID), Status(status), attempt, durationMS)
	if errText != "" {
		line += "  " + errStyle.Render(firstLine(errText))
	}
	fmt.Fprintln(w, line)
}

func StatusSummary(w io.Writer, counts map[string]int, total int) {
	fmt.Fprintf(w, "Pickles: %d\n", total)
	for _, status := range []string{"passed", "failed", "pending", "skipped", "no-activity"} {
		if n := counts[status]; n > 0 {
			fmt.Fprintf(w, "  %s: %d\n", Status(status), n)
		}
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
