package main

import (
	"context"
	"html/template"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.temporal.io/api/workflowservice/v1"
	"go.temporal.io/sdk/client"

	"github.com/charon-estate/charond/internal/model"
	"github.com/charon-estate/charond/internal/store"
)

type uiServer struct {
	tc client.Client
	db *store.Store
	t  *template.Template
}

type uiExecutionRow struct {
	WorkflowID string
	RunID      string
	Status     string
}

type uiIndexData struct {
	Query string
	Rows  []uiExecutionRow
	Error string
}

type uiDetailData struct {
	WorkflowID string
	RunID      string
	Outcome    model.ExecutionOutcome
	Audit      []model.AuditEvent
	Record     *store.ExecutionRecord
	Error      string
}

func registerUIRoutes(r chi.Router, tc client.Client, db *store.Store) {
	t := template.Must(template.New("base").Parse(uiTemplates))
	s := &uiServer{tc: tc, db: db, t: t}

	r.Get("/ui", s.handleIndex)
	r.Get("/ui/wf/{workflowId}", s.handleDetail)
}

// handleIndex lists will executions through the visibility store. The
// workflow id scheme ("execute-will-<willID>") carries the correlation, so
// a will-id search is a prefix match.
func (s *uiServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	data := uiIndexData{Query: q}

	ctx, cancel := context.WithTimeout(r.Context(), 8*time.Second)
	defer cancel()

	query := `WorkflowType = "ExecuteWill"`
	if q != "" {
		query = `WorkflowId STARTS_WITH "execute-will-` + q + `"`
	}

	resp, err := s.tc.ListWorkflow(ctx, &workflowservice.ListWorkflowExecutionsRequest{
		Query:    query,
		PageSize: 200,
	})
	if err != nil {
		data.Error = err.Error()
		_ = s.t.ExecuteTemplate(w, "index", data)
		return
	}

	for _, ex := range resp.Executions {
		if ex.Execution == nil {
			continue
		}
		data.Rows = append(data.Rows, uiExecutionRow{
			WorkflowID: ex.Execution.WorkflowId,
			RunID:      ex.Execution.RunId,
			Status:     ex.Status.String(),
		})
	}

	_ = s.t.ExecuteTemplate(w, "index", data)
}

// handleDetail shows one execution: the live outcome and audit trail from
// the workflow, plus the persisted record once one exists.
func (s *uiServer) handleDetail(w http.ResponseWriter, r *http.Request) {
	wid := chi.URLParam(r, "workflowId")
	rid := r.URL.Query().Get("runId")

	data := uiDetailData{WorkflowID: wid, RunID: rid}

	out, err := s.queryOutcome(r.Context(), wid, rid)
	if err != nil {
		data.Error = err.Error()
		_ = s.t.ExecuteTemplate(w, "detail", data)
		return
	}
	data.Outcome = out

	audit, _ := s.queryAudit(r.Context(), wid, rid)
	data.Audit = audit

	if out.ExecutionID != "" {
		if rec, err := s.db.GetExecution(r.Context(), out.ExecutionID); err == nil {
			data.Record = &rec
		}
	}

	_ = s.t.ExecuteTemplate(w, "detail", data)
}

func (s *uiServer) queryOutcome(ctx context.Context, wid, rid string) (model.ExecutionOutcome, error) {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	qr, err := s.tc.QueryWorkflow(cctx, wid, rid, "outcome")
	if err != nil {
		return model.ExecutionOutcome{}, err
	}
	var out model.ExecutionOutcome
	return out, qr.Get(&out)
}

func (s *uiServer) queryAudit(ctx context.Context, wid, rid string) ([]model.AuditEvent, error) {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	qr, err := s.tc.QueryWorkflow(cctx, wid, rid, "audit_log")
	if err != nil {
		return nil, err
	}
	var events []model.AuditEvent
	return events, qr.Get(&events)
}

const uiTemplates = `
{{define "index"}}
<!doctype html>
<html>
<head>
  <meta charset="utf-8"/>
  <title>Will Executions</title>
  <style>
    body { font-family: sans-serif; margin: 24px; }
    table { border-collapse: collapse; width: 100%; margin-top: 12px; }
    th, td { border: 1px solid #ddd; padding: 8px; }
    .err { color: #b00020; }
    .muted { color: #666; }
  </style>
</head>
<body>
  <h2>Will Executions</h2>

  <form method="get" action="/ui">
    <input name="q" placeholder="will id" value="{{.Query}}" style="width: 320px;"/>
    <button type="submit">Search</button>
  </form>

  {{if .Error}}<p class="err">{{.Error}}</p>{{end}}

  <table>
    <thead><tr><th>Workflow</th><th>Status</th></tr></thead>
    <tbody>
    {{range .Rows}}
      <tr>
        <td><a href="/ui/wf/{{.WorkflowID}}?runId={{.RunID}}">{{.WorkflowID}}</a></td>
        <td>{{.Status}}</td>
      </tr>
    {{end}}
    </tbody>
  </table>
</body>
</html>
{{end}}

{{define "detail"}}
<!doctype html>
<html>
<head>
  <meta charset="utf-8"/>
  <title>Execution Detail</title>
  <style>
    body { font-family: sans-serif; margin: 24px; }
    .err { color: #b00020; }
    .ok { color: #1b5e20; }
    table { border-collapse: collapse; width: 100%; margin-top: 12px; }
    th, td { border: 1px solid #ddd; padding: 8px; }
  </style>
</head>
<body>
  <a href="/ui">&larr; Back</a>
  <h2>Execution Detail</h2>

  {{if .Error}}<p class="err">{{.Error}}</p>{{end}}

  <p><b>WorkflowID:</b> {{.WorkflowID}}<br/>
     <b>RunID:</b> {{.RunID}}</p>

  <h3>Outcome</h3>
  <p>
    <b>ExecutionID:</b> {{.Outcome.ExecutionID}}<br/>
    <b>Success:</b> {{if .Outcome.Success}}<span class="ok">yes</span>{{else}}no{{end}}<br/>
    <b>Attempts:</b> {{.Outcome.Attempts}}<br/>
    {{if .Outcome.Output}}<b>Output:</b> {{.Outcome.Output}}<br/>{{end}}
    {{if .Outcome.Error}}<b>Error:</b> <span class="err">{{.Outcome.Error}}</span>{{end}}
  </p>

  {{if .Record}}
    <h3>Record</h3>
    <p><b>Will:</b> {{.Record.WillID}}<br/>
       <b>Subject:</b> {{.Record.Subject}}<br/>
       <b>Recorded:</b> {{.Record.RecordedAt}}</p>
  {{end}}

  <h3>Audit</h3>
  <table>
    <thead><tr><th>Time</th><th>Kind</th><th>Message</th></tr></thead>
    <tbody>
      {{range .Audit}}
        <tr>
          <td>{{.At}}</td>
          <td>{{.Kind}}</td>
          <td>{{.Message}}</td>
        </tr>
      {{end}}
    </tbody>
  </table>
</body>
</html>
{{end}}
`
