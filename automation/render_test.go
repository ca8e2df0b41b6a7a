package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stillpoint/models"
)

func TestRenderStepSubstitutesSubscriberFields(t *testing.T) {
	step := &models.SequenceStep{
		Subject:  "Welcome, {{.FirstName}}",
		HTMLBody: `<p>Hello {{.FullName}}.</p><a href="{{.UnsubscribeURL}}">Unsubscribe</a>`,
		TextBody: "Hello {{.FullName}}. Unsubscribe: {{.UnsubscribeURL}}",
	}
	sequence := &models.Sequence{FromName: "Still Point", FromEmail: "hello@stillpoint.example"}
	subscriber := &models.Subscriber{
		Email:            "dana@example.com",
		FirstName:        "Dana",
		LastName:         "Reyes",
		UnsubscribeToken: "tok123",
	}

	email, err := RenderStep(step, sequence, subscriber, "https://stillpoint.example")
	require.NoError(t, err)
	assert.Equal(t, "Still Point", email.FromName)
	assert.Equal(t, "hello@stillpoint.example", email.FromEmail)
	assert.Equal(t, "dana@example.com", email.To)
	assert.Equal(t, "Welcome, Dana", email.Subject)
	assert.Contains(t, email.HTMLBody, "Hello Dana Reyes.")
	assert.Contains(t, email.HTMLBody, "https://stillpoint.example/unsubscribe/tok123")
	assert.Contains(t, email.TextBody, "https://stillpoint.example/unsubscribe/tok123")
}

func TestRenderStepFirstNameFallback(t *testing.T) {
	step := &models.SequenceStep{Subject: "Hi {{.FirstName}}", HTMLBody: "<p>Hi {{.FirstName}}</p>"}
	subscriber := &models.Subscriber{Email: "anon@example.com"}

	email, err := RenderStep(step, &models.Sequence{}, subscriber, "")
	require.NoError(t, err)
	assert.Equal(t, "Hi there", email.Subject)
	assert.Contains(t, email.HTMLBody, "Hi there")
}

func TestRenderStepBrokenTemplateIsConfigurationError(t *testing.T) {
	step := &models.SequenceStep{Subject: "{{.Broken", HTMLBody: "<p>ok</p>"}
	subscriber := &models.Subscriber{Email: "dana@example.com", FirstName: "Dana"}

	_, err := RenderStep(step, &models.Sequence{}, subscriber, "")
	require.Error(t, err)
	var cfgErr *ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestRenderStepHTMLEscapesSubscriberData(t *testing.T) {
	step := &models.SequenceStep{Subject: "Hi", HTMLBody: "<p>Hi {{.FirstName}}</p>"}
	subscriber := &models.Subscriber{Email: "x@example.com", FirstName: `<script>alert(1)</script>`}

	email, err := RenderStep(step, &models.Sequence{}, subscriber, "")
	require.NoError(t, err)
	assert.NotContains(t, email.HTMLBody, "<script>")
}
