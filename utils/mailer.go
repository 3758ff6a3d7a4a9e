package utils

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"html/template"
	texttemplate "text/template"

	"gopkg.in/gomail.v2"

	"phishgrid/models"
)

// OutboundEmail is one fully-rendered message ready for delivery.
type OutboundEmail struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// MailSender delivers one message through an SMTP profile. The dispatch
// scheduler only depends on this interface; tests substitute it.
type MailSender interface {
	Send(profile models.MailProfile, msg OutboundEmail) error
}

// GomailSender is the production MailSender.
type GomailSender struct{}

func (GomailSender) Send(profile models.MailProfile, msg OutboundEmail) error {
	from := msg.From
	if from == "" {
		from = profile.FromAddress
	}
	if from == "" {
		from = profile.Username
	}

	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTML)

	port := profile.Port
	if port == 0 {
		port = 587
	}

	d := gomail.NewDialer(profile.Host, port, profile.Username, profile.Password)
	if profile.IgnoreCertErrs {
		d.TLSConfig = &tls.Config{InsecureSkipVerify: true}
	}

	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("error sending email to %s: %w", msg.To, err)
	}
	return nil
}

// RenderSubject renders a subject-line template against target fields.
// Subjects are plain text, so no HTML escaping.
func RenderSubject(tmpl string, fields map[string]string) (string, error) {
	t, err := texttemplate.New("subject").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("error parsing subject template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, fields); err != nil {
		return "", fmt.Errorf("error rendering subject template: %w", err)
	}
	return buf.String(), nil
}

// RenderHTML renders an email or landing-page body template against target
// fields with contextual escaping.
func RenderHTML(tmpl string, fields map[string]string) (string, error) {
	t, err := template.New("body").Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("error parsing body template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, fields); err != nil {
		return "", fmt.Errorf("error rendering body template: %w", err)
	}
	return buf.String(), nil
}
