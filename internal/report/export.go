package report

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgnsrekt/netmon/internal/types"
)

// CSVHeader is the first line of every CSV export.
const CSVHeader = "Timestamp,Type,Method,URL,Status,Duration (ms),Request Size,Response Size,Error"

type jsonExport struct {
	Timestamp time.Time `json:"timestamp"`
	Report    Report    `json:"report"`
}

// ExportJSON renders rep as indented JSON stamped with exportedAt.
func ExportJSON(rep Report, exportedAt time.Time) (string, error) {
	data, err := json.MarshalIndent(jsonExport{Timestamp: exportedAt.UTC(), Report: rep}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}
	return string(data), nil
}

// ExportCSV renders one row per event in log order after the header. Every
// field is quoted; missing values are empty strings.
func ExportCSV(events []types.NetworkEvent) string {
	var sb strings.Builder
	sb.WriteString(CSVHeader)
	for _, ev := range events {
		sb.WriteByte('\n')
		writeRow(&sb, csvRow(ev))
	}
	return sb.String()
}

func csvRow(ev types.NetworkEvent) []string {
	var method, status, duration, reqSize, respSize string

	if ev.Request != nil {
		method = ev.Request.Method
		if ev.Request.PostData != nil {
			reqSize = strconv.Itoa(len(*ev.Request.PostData))
		}
		if ev.Request.Timing.Duration != nil {
			duration = strconv.FormatInt(*ev.Request.Timing.Duration, 10)
		}
	}
	if ev.Response != nil {
		status = strconv.Itoa(ev.Response.Status)
		duration = strconv.FormatInt(ev.Response.Timing.Duration, 10)
		if ev.Response.Body != nil {
			respSize = strconv.Itoa(ev.ResponseSize())
		}
	}

	return []string{
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
		string(ev.Kind),
		method,
		ev.URL(),
		status,
		duration,
		reqSize,
		respSize,
		ev.Error,
	}
}

// writeRow quotes every field. encoding/csv only quotes when needed, which
// would make empty fields indistinguishable from absent columns downstream.
func writeRow(sb *strings.Builder, fields []string) {
	for i, f := range fields {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte('"')
		sb.WriteString(strings.ReplaceAll(f, `"`, `""`))
		sb.WriteByte('"')
	}
}
