package llm

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/recoverly/golang_services/internal/collections_service/domain"
)

//go:embed prompts.yaml
var defaultPrompts []byte

type promptFile struct {
	System       string `yaml:"system"`
	DebtContext  string `yaml:"debt_context"`
	FirstContact string `yaml:"first_contact"`
	Reply        string `yaml:"reply"`
}

// Prompts holds the parsed prompt templates.
type Prompts struct {
	system       *template.Template
	debtContext  *template.Template
	firstContact *template.Template
	reply        *template.Template
}

// DebtContext is the data passed to every prompt template. Amounts are formatted major units.
type DebtContext struct {
	Creditor   string
	TotalOwed  string
	AmountPaid string
	Remaining  string
	Currency   string
	Status     string
	DebtDate   string
}

func newDebtContext(d *domain.Debt) DebtContext {
	c := DebtContext{
		Creditor:   d.OriginalCreditor,
		TotalOwed:  formatCents(d.TotalOwedCents),
		AmountPaid: formatCents(d.AmountPaidCents),
		Remaining:  formatCents(d.RemainingCents()),
		Currency:   strings.ToUpper(d.Currency),
		Status:     string(d.Status),
	}
	if d.DebtDate.Valid {
		c.DebtDate = d.DebtDate.Time.Format("2006-01-02")
	}
	return c
}

// formatCents renders 125050 as "1,250.50".
func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	whole := fmt.Sprintf("%d", cents/100)
	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return fmt.Sprintf("%s%s.%02d", sign, b.String(), cents%100)
}

// LoadPrompts reads prompt templates from path, or the built-in set when path is empty.
func LoadPrompts(path string) (*Prompts, error) {
	raw := defaultPrompts
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading prompts file: %w", err)
		}
		raw = b
	}
	return ParsePrompts(raw)
}

func ParsePrompts(raw []byte) (*Prompts, error) {
	var f promptFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parsing prompts: %w", err)
	}

	p := &Prompts{}
	for _, t := range []struct {
		name string
		text string
		dst  **template.Template
	}{
		{"system", f.System, &p.system},
		{"debt_context", f.DebtContext, &p.debtContext},
		{"first_contact", f.FirstContact, &p.firstContact},
		{"reply", f.Reply, &p.reply},
	} {
		if strings.TrimSpace(t.text) == "" {
			return nil, fmt.Errorf("prompts: %q is empty", t.name)
		}
		tmpl, err := template.New(t.name).Option("missingkey=error").Parse(t.text)
		if err != nil {
			return nil, fmt.Errorf("prompts: parsing %q: %w", t.name, err)
		}
		*t.dst = tmpl
	}
	return p, nil
}

func render(t *template.Template, data DebtContext) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering %s prompt: %w", t.Name(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}
