// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package llm

import (
	"bytes"
	"text/template"

	"github.com/pdiddy/arxiv-digest/pkg/types"
)

var matchPromptTmpl = template.Must(template.New("match").Parse(`You screen new academic papers for a reader. Decide whether the paper below fits the reader's interest.

Reader's interest:
{{.Topic}}

Paper title: {{.Paper.Title}}
{{- if .Paper.Categories}}
Categories: {{range $i, $c := .Paper.Categories}}{{if $i}}, {{end}}{{$c}}{{end}}
{{- end}}
Abstract:
{{.Paper.Summary}}

Respond with a JSON object of the form {"match": true, "reason": "..."} or {"match": false, "reason": "..."}. Do not include any text outside the JSON object.
`))

var translatePromptTmpl = template.Must(template.New("translate").Parse(`Translate the following academic abstract into {{.Language}}. Keep technical terms accurate and keep formulas unchanged. Reply with the translation only.

{{.Text}}
`))

func renderMatchPrompt(p types.Paper, topic string) (string, error) {
	var buf bytes.Buffer
	err := matchPromptTmpl.Execute(&buf, struct {
		Paper types.Paper
		Topic string
	}{Paper: p, Topic: topic})
	return buf.String(), err
}

func renderTranslatePrompt(text, language string) (string, error) {
	var buf bytes.Buffer
	err := translatePromptTmpl.Execute(&buf, struct {
		Text     string
		Language string
	}{Text: text, Language: language})
	return buf.String(), err
}
