package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
)

type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPProvider struct {
	cfg       Config
	templates *template.Template
}

func NewSMTP(cfg Config) *SMTPProvider {
	return &SMTPProvider{
		cfg:       cfg,
		templates: template.Must(template.New("email").Parse(templateSource)),
	}
}

func (p *SMTPProvider) Send(ctx context.Context, to []string, subject string, htmlBody string) error {
	auth := smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)

	mime := "MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n\n"
	msg := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\n%s\r\n%s", to[0], subject, mime, htmlBody))

	return smtp.SendMail(addr, auth, p.cfg.From, to, msg)
}

func (p *SMTPProvider) SendTemplate(ctx context.Context, to []string, templateName string, data map[string]interface{}) error {
	t := p.templates.Lookup(templateName)
	if t == nil {
		return fmt.Errorf("unknown email template %q", templateName)
	}

	var body bytes.Buffer
	if err := t.Execute(&body, data); err != nil {
		return fmt.Errorf("failed to execute template: %w", err)
	}

	subject := "Notification from Wireline"
	if subj, ok := data["subject"].(string); ok && subj != "" {
		subject = subj
	}

	return p.Send(ctx, to, subject, body.String())
}

// Templates are compiled in rather than read from disk so the worker
// binary can run from any working directory.
const templateSource = `
{{define "invoice_new"}}
<html><body>
<p>Hi {{.customer_name}},</p>
<p>Your invoice <strong>{{.invoice_number}}</strong> for {{.total_amount}} is ready.</p>
<p>Payment is due by {{.due_date}}.</p>
</body></html>
{{end}}

{{define "invoice_overdue"}}
<html><body>
<p>Hi {{.customer_name}},</p>
<p>Invoice <strong>{{.invoice_number}}</strong> for {{.total_amount}} is past due
(due {{.due_date}}).</p>
<p>Please pay promptly to avoid service suspension.</p>
</body></html>
{{end}}
`
