package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Format is the report output format.
type Format string

const (
	FormatNone  Format = "none"
	FormatTable Format = "table"
	FormatJSON  Format = "json"
)

// String implements pflag.Value.
func (f *Format) String() string {
	return string(*f)
}

// Set implements pflag.Value.
func (f *Format) Set(s string) error {
	switch Format(strings.ToLower(s)) {
	case FormatNone, FormatTable, FormatJSON:
		*f = Format(strings.ToLower(s))
		return nil
	default:
		return fmt.Errorf("invalid report format %q (expected none, table or json)", s)
	}
}

// Type implements pflag.Value.
func (f *Format) Type() string {
	return "format"
}

var (
	rpTitle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	rpHeader = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")).Background(lipgloss.Color("62")).Padding(0, 1)
	rpCell   = lipgloss.NewStyle().Padding(0, 1)
	rpDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	rpWarn   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	rpOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
)

// Render writes s in the given format. FormatNone writes nothing.
func Render(w io.Writer, s Summary, format Format) error {
	switch format {
	case FormatNone, "":
		return nil
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	default:
		return renderTable(w, s)
	}
}

func renderTable(w io.Writer, s Summary) error {
	fmt.Fprintln(w, rpTitle.Render("Loop Timing Report"))
	fmt.Fprintln(w, rpDim.Render(strings.Repeat("═", 60)))
	fmt.Fprintf(w, "%s %s   %s %s   %s %s\n",
		rpTitle.Render("Loop:"), s.Loop,
		rpTitle.Render("Loading:"), s.Loading,
		rpTitle.Render("Session:"), s.Session)
	fmt.Fprintln(w)

	rows := [][]string{
		{"iterations", fmt.Sprintf("%d", s.Iterations)},
		{"mean", ms(s.Mean)},
		{"min", ms(s.Min)},
		{"max", ms(s.Max)},
		{"p50", ms(s.P50)},
		{"p95", ms(s.P95)},
		{"p99", ms(s.P99)},
		{"stddev", fmt.Sprintf("%.2fms", s.StdDevMs)},
		{"overshoot", ms(s.Overshoot)},
		{"loading wait", ms(s.LoadingWait)},
		{"elapsed", s.Elapsed.Round(time.Millisecond).String()},
	}
	if s.Trend != "" {
		rows = append(rows, []string{"trend", s.Trend})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(rpDim).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return rpHeader
			}
			return rpCell
		}).
		Headers("METRIC", "VALUE").
		Rows(rows...)
	fmt.Fprintln(w, t)

	if s.LoadingErr != "" {
		_, err := fmt.Fprintf(w, "%s %s\n", rpWarn.Render("Background loading failed:"), s.LoadingErr)
		return err
	}
	_, err := fmt.Fprintln(w, rpOK.Render("Run completed"))
	return err
}

func ms(d time.Duration) string {
	return fmt.Sprintf("%dms", d.Milliseconds())
}
