// Package notify posts plain-text notifications to an ntfy-style endpoint.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dgnsrekt/netmon/internal/report"
)

const defaultTitle = "netmon"

// Send sends a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Title", defaultTitle)

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}

// SummaryMessage renders a finished recording of target as one paragraph.
func SummaryMessage(target string, rep report.Report) string {
	s := rep.Summary
	var b strings.Builder
	fmt.Fprintf(&b, "Recorded %s for %.1fs: %d requests, %d responses, %d failed.",
		target, float64(s.MonitoringDuration)/1000, s.TotalRequests, s.TotalResponses, s.TotalFailed)
	if s.AverageResponseTime > 0 {
		fmt.Fprintf(&b, " Average response %.0fms", s.AverageResponseTime)
		if s.SlowestRequest != nil {
			fmt.Fprintf(&b, ", slowest %dms (%s)", s.SlowestRequest.Duration(), s.SlowestRequest.URL())
		}
		b.WriteString(".")
	}
	if n := len(rep.SlowRequests); n > 0 {
		fmt.Fprintf(&b, " %d slow.", n)
	}
	fmt.Fprintf(&b, " %d bytes transferred.", s.TotalDataTransferred)
	return b.String()
}
