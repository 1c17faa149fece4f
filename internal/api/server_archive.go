package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/dgnsrekt/netmon/internal/archive"
)

func registerArchiveHandlers(api huma.API, svc Service, store *archive.Store) {
	type archiveOutput struct {
		Body archive.Meta
	}
	huma.Register(api, huma.Operation{OperationID: "archive-report", Method: http.MethodPost, Path: "/api/v1/reports", Summary: "Archive the current report", Description: "Stores the JSON report and the CSV event export under a new id.", Tags: []string{"Archive"}},
		func(ctx context.Context, input *struct {
			Body struct {
				Label string `json:"label,omitempty" doc:"Free-form label for the archived report" maxLength:"200"`
			}
		}) (*archiveOutput, error) {
			data, err := svc.ExportJSON()
			if err != nil {
				return nil, mapErr(err)
			}
			st := svc.Stats()
			rep := svc.Report()
			meta, err := store.Save(archive.Meta{
				SessionID:            st.SessionID,
				Label:                input.Body.Label,
				Events:               st.Events,
				TotalRequests:        rep.Summary.TotalRequests,
				TotalResponses:       rep.Summary.TotalResponses,
				TotalFailed:          rep.Summary.TotalFailed,
				MonitoringDurationMS: rep.Summary.MonitoringDuration,
			}, data, svc.ExportCSV())
			if err != nil {
				return nil, mapErr(err)
			}
			return &archiveOutput{Body: meta}, nil
		})

	type listOutput struct {
		Body struct {
			Reports []archive.Meta `json:"reports"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-reports", Method: http.MethodGet, Path: "/api/v1/reports", Summary: "List archived reports", Tags: []string{"Archive"}},
		func(ctx context.Context, input *struct{}) (*listOutput, error) {
			metas, err := store.List()
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listOutput{}
			out.Body.Reports = metas
			return out, nil
		})

	type reportIDInput struct {
		ReportID string `path:"report_id"`
	}
	huma.Register(api, huma.Operation{OperationID: "get-archived-report", Method: http.MethodGet, Path: "/api/v1/reports/{report_id}", Summary: "Get archived report metadata", Tags: []string{"Archive"}},
		func(ctx context.Context, input *reportIDInput) (*archiveOutput, error) {
			meta, err := store.Get(input.ReportID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &archiveOutput{Body: meta}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-archived-report-json", Method: http.MethodGet, Path: "/api/v1/reports/{report_id}/json", Summary: "Download an archived JSON report", Tags: []string{"Archive"}},
		func(ctx context.Context, input *reportIDInput) (*rawOutput, error) {
			data, err := store.ReadReport(input.ReportID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &rawOutput{ContentType: "application/json", ContentDisposition: archiveAttachment(input.ReportID, "json"), Body: data}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "get-archived-report-csv", Method: http.MethodGet, Path: "/api/v1/reports/{report_id}/csv", Summary: "Download an archived CSV event export", Tags: []string{"Archive"}},
		func(ctx context.Context, input *reportIDInput) (*rawOutput, error) {
			data, err := store.ReadCSV(input.ReportID)
			if err != nil {
				return nil, mapErr(err)
			}
			return &rawOutput{ContentType: "text/csv; charset=utf-8", ContentDisposition: archiveAttachment(input.ReportID, "csv"), Body: data}, nil
		})

	type deleteOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "delete-archived-report", Method: http.MethodDelete, Path: "/api/v1/reports/{report_id}", Summary: "Delete an archived report", Tags: []string{"Archive"}},
		func(ctx context.Context, input *reportIDInput) (*deleteOutput, error) {
			if err := store.Delete(input.ReportID); err != nil {
				return nil, mapErr(err)
			}
			out := &deleteOutput{}
			out.Body.Status = "deleted"
			return out, nil
		})
}

func archiveAttachment(id, ext string) string {
	return `attachment; filename="netmon-` + id + "." + ext + `"`
}
