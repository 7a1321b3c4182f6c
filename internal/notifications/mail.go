package notifications

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/charlesng35/seatkeeper/pkg/mail"
)

type mailTemplate struct {
	subject string
	body    *template.Template
}

var mailTemplates = map[Template]mailTemplate{
	TemplateInvite: {
		subject: "You have been invited",
		body: template.Must(template.New("invite").Parse(
			"You have been invited to join the learning platform.\n\n" +
				"Complete your signup here:\n{{.link}}\n\nThis link expires after {{.validity}}.\n")),
	},
	TemplateSignupComplete: {
		subject: "Your account is ready",
		body: template.Must(template.New("signup_complete").Parse(
			"Your account for {{.email}} has been created. You can now sign in.\n")),
	},
	TemplateReactivation: {
		subject: "Reactivate your account",
		body: template.Must(template.New("reactivation").Parse(
			"We received a request to reactivate your account.\n\n" +
				"Continue here:\n{{.link}}\n\nThis link expires after {{.validity}}.\n")),
	},
	TemplateReactivated: {
		subject: "Your account has been reactivated",
		body: template.Must(template.New("reactivated").Parse(
			"Your account for {{.email}} is active again.\n")),
	},
	TemplateEmailChange: {
		subject: "Confirm your new email address",
		body: template.Must(template.New("email_change").Parse(
			"Confirm that you want to use {{.new_email}} for your account:\n{{.link}}\n\n" +
				"This link expires after {{.validity}}.\n")),
	},
	TemplateEmailChanged: {
		subject: "Your email address has changed",
		body: template.Must(template.New("email_changed").Parse(
			"The email address on your account changed from {{.previous_email}} to {{.new_email}}.\n" +
				"You have been signed out of your other sessions.\n")),
	},
	TemplateTokenAssignment: {
		subject: "Enter your agency token",
		body: template.Must(template.New("agency_token_assignment").Parse(
			"Your organisation needs you to enter an agency token to keep using the platform:\n{{.link}}\n")),
	},
	TemplateTokenAssigned: {
		subject: "Agency token accepted",
		body: template.Must(template.New("agency_token_assigned").Parse(
			"Your account is now linked to your organisation's agency token.\n")),
	},
}

// MailSender renders notifications as plain-text email.
type MailSender struct {
	mailer mail.Mailer
}

// NewMailSender wraps mailer.
func NewMailSender(mailer mail.Mailer) (*MailSender, error) {
	if mailer == nil {
		return nil, fmt.Errorf("notifications: mailer is required")
	}
	return &MailSender{mailer: mailer}, nil
}

// Send renders msg and delivers it.
func (s *MailSender) Send(ctx context.Context, msg Message) error {
	if err := validate(msg); err != nil {
		return err
	}
	tmpl, ok := mailTemplates[msg.Template]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTemplate, msg.Template)
	}

	var body bytes.Buffer
	if err := tmpl.body.Option("missingkey=zero").Execute(&body, msg.Vars); err != nil {
		return fmt.Errorf("notifications: render %s: %w", msg.Template, err)
	}

	return s.mailer.Send(ctx, mail.Message{
		To:      []string{msg.To},
		Subject: tmpl.subject,
		Body:    body.String(),
		Headers: map[string]string{"X-Seatkeeper-Template": string(msg.Template)},
	})
}
