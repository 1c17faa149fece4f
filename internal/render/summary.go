// Package render prints reports for a terminal.
package render

import (
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/dgnsrekt/netmon/internal/report"
)

const maxURLWidth = 80

var (
	headline = color.New(color.FgHiCyan, color.Bold).SprintFunc()
	good     = color.New(color.FgGreen).SprintFunc()
	bad      = color.New(color.FgRed).SprintFunc()
	warn     = color.New(color.FgYellow).SprintFunc()
)

// Summary writes the headline figures of rep followed by the slowest
// endpoints and any failures.
func Summary(w io.Writer, target string, rep report.Report) error {
	s := rep.Summary
	fmt.Fprintf(w, "%s %s\n\n", headline("Network activity for"), target)

	err := renderTable(w, []string{"Metric", "Value"}, [][]string{
		{"Requests", strconv.Itoa(s.TotalRequests)},
		{"Responses", good(strconv.Itoa(s.TotalResponses))},
		{"Failed", failedCell(s.TotalFailed)},
		{"Slow", slowCell(len(rep.SlowRequests))},
		{"Average response", fmt.Sprintf("%.1f ms", s.AverageResponseTime)},
		{"Data transferred", formatBytes(s.TotalDataTransferred)},
		{"Duration", fmt.Sprintf("%.2f s", float64(s.MonitoringDuration)/1000)},
		{"Requests/sec", fmt.Sprintf("%.2f", rep.Performance.RequestsPerSecond)},
	})
	if err != nil {
		return err
	}

	if len(rep.URLAnalysis.SlowestEndpoints) > 0 {
		fmt.Fprintf(w, "\n%s\n", headline("Slowest endpoints"))
		rows := make([][]string, 0, len(rep.URLAnalysis.SlowestEndpoints))
		for _, e := range rep.URLAnalysis.SlowestEndpoints {
			rows = append(rows, []string{truncate(e.URL), fmt.Sprintf("%.1f", e.AverageDuration), strconv.Itoa(e.Timed), strconv.Itoa(e.Count)})
		}
		if err := renderTable(w, []string{"URL", "Avg (ms)", "Timed", "Count"}, rows); err != nil {
			return err
		}
	}

	if len(rep.FailedRequests) > 0 {
		fmt.Fprintf(w, "\n%s\n", bad("Failed requests"))
		rows := make([][]string, 0, len(rep.FailedRequests))
		for _, ev := range rep.FailedRequests {
			rows = append(rows, []string{strconv.FormatInt(ev.ID, 10), truncate(ev.URL()), ev.Error})
		}
		if err := renderTable(w, []string{"ID", "URL", "Error"}, rows); err != nil {
			return err
		}
	}
	return nil
}

// renderTable draws one left-aligned table. Header text is kept as given
// and cells are never wrapped; long URLs are truncated by the caller.
func renderTable(w io.Writer, header []string, rows [][]string) error {
	table := tablewriter.NewTable(w,
		tablewriter.WithHeaderAutoFormat(tw.Off),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRowAutoWrap(tw.WrapNone),
	)
	table.Header(header)
	for _, row := range rows {
		if err := table.Append(row); err != nil {
			return fmt.Errorf("render row: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("render table: %w", err)
	}
	return nil
}

func failedCell(n int) string {
	if n == 0 {
		return good("0")
	}
	return bad(strconv.Itoa(n))
}

func slowCell(n int) string {
	if n == 0 {
		return good("0")
	}
	return warn(strconv.Itoa(n))
}

func truncate(url string) string {
	if len(url) > maxURLWidth {
		return url[:maxURLWidth-3] + "..."
	}
	return url
}

func formatBytes(n int) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := unit, 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
