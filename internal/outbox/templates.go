package outbox

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/cuongbtq/ticketero/internal/domain"
)

// MessageData is what templates render from. It is built from the
// live ticket at delivery time, so a retried job never shows stale data.
type MessageData struct {
	Code       string
	Queue      string
	Position   int
	ETAMinutes int
	Station    string
}

var messageTemplates = map[domain.Template]*template.Template{
	domain.TemplateConfirmation: template.Must(template.New("confirmation").Parse(
		"Ticket {{.Code}} confirmed for the {{.Queue}} queue.\n" +
			"You are number {{.Position}} in line, estimated wait {{.ETAMinutes}} min.")),
	domain.TemplateProximity: template.Must(template.New("proximity").Parse(
		"Ticket {{.Code}}: your turn is close.\n" +
			"You are number {{.Position}} in line, please stay near the service area.")),
	domain.TemplateYourTurn: template.Must(template.New("your_turn").Parse(
		"Ticket {{.Code}}: it is your turn!\n" +
			"Please go to {{if .Station}}{{.Station}}{{else}}the service desk{{end}}.")),
	domain.TemplateExpired: template.Must(template.New("expired").Parse(
		"Ticket {{.Code}} was cancelled after waiting past its validity window.")),
}

// Render builds the message text for a template
func Render(tmpl domain.Template, data MessageData) (string, error) {
	t, ok := messageTemplates[tmpl]
	if !ok {
		return "", domain.NewValidationError("template", fmt.Sprintf("unknown template %s", tmpl))
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", tmpl, err)
	}
	return buf.String(), nil
}
