package notifications

import (
	"bytes"
	"fmt"
	"text/template"
)

// Template identifiers sent by the order services.
const (
	TemplateOrderConfirmation       = "order-confirmation"
	TemplateOrderCancelled          = "order-cancelled"
	TemplatePaymentSucceeded        = "payment-succeeded"
	TemplatePaymentFailed           = "payment-failed"
	TemplatePaymentCanceled         = "payment-canceled"
	TemplateSettlementErrorAdmin    = "settlement-error-admin"
	TemplateSettlementErrorCustomer = "settlement-error-customer"
)

type mailTemplate struct {
	subject *template.Template
	body    *template.Template
}

const itemsBlock = `{{range .items}}
  - {{.name}} x{{.quantity}}  {{.lineTotal}}{{end}}`

var templates = map[string]mailTemplate{
	TemplateOrderConfirmation: mustTemplate(
		"Order {{.orderId}} received",
		"Hello {{.customerName}},\n\nWe received your order {{.orderId}}."+itemsBlock+"\n\nTotal: {{.totalFormatted}}\n"),
	TemplateOrderCancelled: mustTemplate(
		"Order {{.orderId}} cancelled",
		"Hello {{.customerName}},\n\nYour order {{.orderId}} has been cancelled.\n"),
	TemplatePaymentSucceeded: mustTemplate(
		"Payment received for order {{.orderId}}",
		"Hello {{.customerName}},\n\nWe received your payment of {{.totalFormatted}} for order {{.orderId}}."+itemsBlock+
			"\n{{with .receiptUrl}}\nReceipt: {{.}}\n{{end}}"),
	TemplatePaymentFailed: mustTemplate(
		"Payment failed for order {{.orderId}}",
		"Hello {{.customerName}},\n\nThe payment for order {{.orderId}} did not go through. You can retry checkout from your order page.\n"),
	TemplatePaymentCanceled: mustTemplate(
		"Payment canceled for order {{.orderId}}",
		"Hello {{.customerName}},\n\nThe payment for order {{.orderId}} was canceled.\n"),
	TemplateSettlementErrorAdmin: mustTemplate(
		"[orders] settlement failed for {{.orderId}}",
		"Settlement event {{.eventId}} ({{.status}}) for order {{.orderId}} could not be applied.\nTransaction: {{.transactionId}}\nError: {{.error}}\n"),
	TemplateSettlementErrorCustomer: mustTemplate(
		"We are checking the payment for order {{.orderId}}",
		"Hello {{.customerName}},\n\nWe could not finish recording the payment for order {{.orderId}}. Our team has been notified and will follow up.\n"),
}

func mustTemplate(subject, body string) mailTemplate {
	return mailTemplate{
		subject: template.Must(template.New("subject").Parse(subject)),
		body:    template.Must(template.New("body").Parse(body)),
	}
}

// Render produces the subject and plain-text body for templateID.
func Render(templateID string, data map[string]any) (subject, body string, err error) {
	tpl, ok := templates[templateID]
	if !ok {
		return "", "", fmt.Errorf("notifications: unknown template %q", templateID)
	}
	var buf bytes.Buffer
	if err := tpl.subject.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("notifications: render subject: %w", err)
	}
	subject = buf.String()
	buf.Reset()
	if err := tpl.body.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("notifications: render body: %w", err)
	}
	return subject, buf.String(), nil
}
