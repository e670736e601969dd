package app

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/recoverly/golang_services/internal/collections_service/domain"
)

var htmlBodyTemplate = template.Must(template.New("reply").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; font-size: 14px; line-height: 1.5; color: #222;">
{{- range .Paragraphs}}
<p>{{.}}</p>
{{- end}}
{{- if .PaymentURL}}
<p><a href="{{.PaymentURL}}" style="display:inline-block;padding:10px 16px;background:#1a56db;color:#fff;text-decoration:none;border-radius:4px;">Make a payment</a></p>
{{- end}}
<p>{{range $i, $line := .Signature}}{{if $i}}<br>{{end}}{{$line}}{{end}}</p>
</body>
</html>
`))

type renderedBody struct {
	HTML string
	Text string
}

type htmlBodyData struct {
	Paragraphs []string
	Signature  []string
	PaymentURL string
}

// renderReply turns a generated response into HTML and plain-text bodies.
func renderReply(resp *domain.GeneratedResponse, paymentURL string) (*renderedBody, error) {
	data := htmlBodyData{
		Paragraphs: splitParagraphs(resp.Body),
		Signature:  splitLines(resp.Signature),
		PaymentURL: paymentURL,
	}
	var buf bytes.Buffer
	if err := htmlBodyTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("rendering html body: %w", err)
	}

	var text strings.Builder
	text.WriteString(strings.TrimSpace(resp.Body))
	if paymentURL != "" {
		text.WriteString("\n\nMake a payment: ")
		text.WriteString(paymentURL)
	}
	if sig := strings.TrimSpace(resp.Signature); sig != "" {
		text.WriteString("\n\n")
		text.WriteString(sig)
	}
	text.WriteString("\n")

	return &renderedBody{HTML: buf.String(), Text: text.String()}, nil
}

func splitParagraphs(s string) []string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	var out []string
	for _, p := range strings.Split(s, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitLines(s string) []string {
	var out []string
	for _, l := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}
