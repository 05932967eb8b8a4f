package dialogue

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"smsform/pkg/conversation"
)

//go:embed templates/*.md
var templatesFS embed.FS

type phase string

const (
	phaseStart   phase = "start"
	phaseCollect phase = "collect"
	phaseConfirm phase = "confirm"
)

type fieldValue struct {
	Label string
	Value string
}

type promptData struct {
	Field       string
	IsPhone     bool
	Proposed    string
	NextField   string
	NextIsPhone bool
	SenderPhone string
	Collected   []fieldValue
}

type prompts struct {
	tmpl *template.Template
}

func loadPrompts() (*prompts, error) {
	tmpl, err := template.New("prompts").Option("missingkey=error").ParseFS(templatesFS, "templates/*.md")
	if err != nil {
		return nil, fmt.Errorf("parse prompt templates: %w", err)
	}

	for _, name := range []string{"system", string(phaseStart), string(phaseCollect), string(phaseConfirm)} {
		if tmpl.Lookup(templateName(name)) == nil {
			return nil, fmt.Errorf("prompt template %q is missing", name)
		}
	}

	return &prompts{tmpl: tmpl}, nil
}

// render builds the system instructions for one turn: the shared persona
// followed by the phase-specific task.
func (p *prompts) render(ph phase, st *conversation.State) (string, error) {
	data := newPromptData(st)

	var buf bytes.Buffer
	if err := p.tmpl.ExecuteTemplate(&buf, templateName("system"), data); err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	buf.WriteString("\n\n")
	if err := p.tmpl.ExecuteTemplate(&buf, templateName(string(ph)), data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", ph, err)
	}

	return strings.TrimSpace(buf.String()), nil
}

func newPromptData(st *conversation.State) promptData {
	data := promptData{
		Field:       st.Pending.Label(),
		IsPhone:     st.Pending == conversation.FieldPhone,
		SenderPhone: st.Phone,
	}
	if st.Proposed != nil {
		data.Proposed = *st.Proposed
	}

	for _, field := range conversation.FieldOrder {
		if value, ok := st.Collected[field]; ok {
			data.Collected = append(data.Collected, fieldValue{Label: field.Label(), Value: value})
		}
	}

	if next, ok := fieldAfter(st, st.Pending); ok {
		data.NextField = next.Label()
		data.NextIsPhone = next == conversation.FieldPhone
	}

	return data
}

// fieldAfter returns the next uncollected field once current is confirmed.
func fieldAfter(st *conversation.State, current conversation.Field) (conversation.Field, bool) {
	for _, field := range conversation.FieldOrder {
		if field == current {
			continue
		}
		if _, ok := st.Collected[field]; !ok {
			return field, true
		}
	}
	return conversation.FieldNone, false
}

func templateName(name string) string {
	return strings.TrimSpace(name) + ".md"
}
