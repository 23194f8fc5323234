package reporter

import (
	"bytes"
	"os"
	"text/template"

	"github.com/jlelli/rt-audit/internal/report"
)

const defaultReportTemplate = `# Schedulability report {{.ID}}

- Source: {{.Source}}
- Processors: {{.ProcessorCount}}
- Tasks: {{.TaskCount}}
- Verdict: **{{.Verdict}}**
{{- range .Warnings}}
- {{if .Skipped}}Skipped{{else}}Warning{{end}} {{.Task}}: {{.Reason}}
{{- end}}
{{if .Failure}}
Analysis not run: {{.Failure.Message}}
{{else}}
## GFB

U_total = {{f4 .GFB.TotalUtilization}}, U_max = {{f4 .GFB.MaxUtilization}}, bound = {{f4 .GFB.Bound}}: {{pass .GFB.Schedulable}}

## BCL

| Task | lambda_k | beta sum | bound | C1 | C2 | pass |
|---|---|---|---|---|---|---|
{{- range bclRows .}}
| {{.Task}} | {{f4 .LambdaK}} | {{f4 .BetaSum}} | {{f4 .Bound}} | {{.Condition1}} | {{.Condition2}} | {{.Schedulable}} |
{{- end}}
{{end}}
{{- if not .Verdict.Schedulable}}
Neither sufficient test certified the taskset. This is not a proof of unschedulability.
{{end -}}
`

var templateFuncs = template.FuncMap{
	"f4": formatFloat,
	"pass": func(ok bool) string {
		if ok {
			return "schedulable"
		}
		return "not certified"
	},
	"bclRows": func(rep *report.Report) []any {
		if rep.BCL == nil {
			return nil
		}
		rows := make([]any, 0, len(rep.BCL.Order))
		for _, name := range rep.BCL.Order {
			rows = append(rows, rep.BCL.Tasks[name])
		}
		return rows
	},
}

// RenderTemplate renders the report with a custom text/template file, or a
// Markdown default when templatePath is empty. The template receives the
// *report.Report.
func RenderTemplate(rep *report.Report, templatePath string) (string, error) {
	tmplStr := defaultReportTemplate
	if templatePath != "" {
		content, err := os.ReadFile(templatePath)
		if err != nil {
			return "", err
		}
		tmplStr = string(content)
	}

	tmpl, err := template.New("report").Funcs(templateFuncs).Parse(tmplStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, rep); err != nil {
		return "", err
	}
	return buf.String(), nil
}
