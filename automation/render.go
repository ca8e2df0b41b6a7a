package automation

import (
	"bytes"
	"html/template"
	texttemplate "text/template"

	"stillpoint/models"
)

// TemplateData is what sequence step templates render against. Fields map
// to the {{.FirstName}}, {{.UnsubscribeURL}} etc. placeholders authors use
// in the admin UI.
type TemplateData struct {
	FirstName      string
	LastName       string
	FullName       string
	Email          string
	UnsubscribeURL string
}

// RenderStep renders a step's subject and bodies against subscriber data.
// Parse or execution failures come back as *ConfigurationError because
// they can only be fixed by editing the sequence content.
func RenderStep(step *models.SequenceStep, sequence *models.Sequence, subscriber *models.Subscriber, siteURL string) (OutboundEmail, error) {
	data := TemplateData{
		FirstName: subscriber.FirstName,
		LastName:  subscriber.LastName,
		FullName:  subscriber.FullName(),
		Email:     subscriber.Email,
	}
	if data.FirstName == "" {
		data.FirstName = "there"
	}
	if siteURL != "" && subscriber.UnsubscribeToken != "" {
		data.UnsubscribeURL = siteURL + "/unsubscribe/" + subscriber.UnsubscribeToken
	}

	subject, err := renderText(step.Subject, data)
	if err != nil {
		return OutboundEmail{}, &ConfigurationError{Msg: "subject template: " + err.Error()}
	}
	htmlBody, err := renderHTML(step.HTMLBody, data)
	if err != nil {
		return OutboundEmail{}, &ConfigurationError{Msg: "html template: " + err.Error()}
	}
	textBody := ""
	if step.TextBody != "" {
		textBody, err = renderText(step.TextBody, data)
		if err != nil {
			return OutboundEmail{}, &ConfigurationError{Msg: "text template: " + err.Error()}
		}
	}

	return OutboundEmail{
		FromName:  sequence.FromName,
		FromEmail: sequence.FromEmail,
		To:        subscriber.Email,
		Subject:   subject,
		HTMLBody:  htmlBody,
		TextBody:  textBody,
	}, nil
}

func renderHTML(content string, data TemplateData) (string, error) {
	tmpl, err := template.New("step").Parse(content)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderText(content string, data TemplateData) (string, error) {
	tmpl, err := texttemplate.New("step").Parse(content)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
