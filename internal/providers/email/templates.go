package email

import "html/template"

// Templates are compiled in rather than loaded from disk so the scheduler
// binary works from any working directory.
var templates = template.Must(template.New("email").Parse(`
{{define "payment_received"}}
<h2>Payment received</h2>
<p>We received your payment for <b>{{.fee_title}}</b> ({{.billing_period}}).</p>
<p>Amount paid: {{.amount_paid}}. Current status: {{.status}}.</p>
{{end}}

{{define "fee_reminder"}}
<h2>Fee due today</h2>
<p><b>{{.fee_title}}</b> for period {{.billing_period}} is due today.</p>
<p>Outstanding amount: {{.outstanding}}.</p>
{{end}}

{{define "fee_overdue"}}
<h2>Fee overdue</h2>
<p><b>{{.fee_title}}</b> for period {{.billing_period}} is past its due date.</p>
<p>Outstanding amount: {{.outstanding}}. Please settle it as soon as possible.</p>
{{end}}

{{define "maintenance"}}
<h2>{{.title}}</h2>
<p>{{.body}}</p>
<p>Scheduled for: {{.scheduled_for}}.</p>
{{end}}

{{define "general"}}
<h2>{{.title}}</h2>
<p>{{.body}}</p>
{{end}}
`))

func defaultSubject(templateKind string, data map[string]interface{}) string {
	if subj, ok := data["subject"].(string); ok && subj != "" {
		return subj
	}
	switch templateKind {
	case TemplatePaymentReceived:
		return "Payment received"
	case TemplateFeeReminder:
		return "Fee due today"
	case TemplateFeeOverdue:
		return "Fee overdue"
	case TemplateMaintenance:
		return "Scheduled maintenance"
	default:
		return "Notification from Aptora"
	}
}
