package mailbox

import (
	"context"
	"fmt"

	"gopkg.in/h2non/gentleman.v2"
	"gopkg.in/h2non/gentleman.v2/plugins/body"
	"gopkg.in/h2non/gentleman.v2/plugins/headers"
)

const sendGridBaseURL = "https://api.sendgrid.com"

// SendGridSender delivers mail through the SendGrid v3 API
type SendGridSender struct {
	client    *gentleman.Client
	fromEmail string
}

// NewSendGridSender creates a SendGrid-backed sender
func NewSendGridSender(apiKey, fromEmail string) *SendGridSender {
	client := gentleman.New()
	client.URL(sendGridBaseURL)
	client.Use(headers.Set("Authorization", "Bearer "+apiKey))
	client.Use(headers.Set("Content-Type", "application/json"))

	return &SendGridSender{
		client:    client,
		fromEmail: fromEmail,
	}
}

// NewSendGridSenderWithURL creates a sender against a custom base URL, used
// in tests to point at a local server.
func NewSendGridSenderWithURL(baseURL, apiKey, fromEmail string) *SendGridSender {
	sender := NewSendGridSender(apiKey, fromEmail)
	sender.client.URL(baseURL)
	return sender
}

type sendGridAddress struct {
	Email string `json:"email"`
}

type sendGridPersonalization struct {
	To []sendGridAddress `json:"to"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridRequest struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
}

// Send posts a single v3 mail-send request covering all recipients
func (s *SendGridSender) Send(ctx context.Context, mail *Mail) error {
	if len(mail.Recipients) == 0 {
		return fmt.Errorf("mail has no recipients")
	}

	to := make([]sendGridAddress, 0, len(mail.Recipients))
	for _, recipient := range mail.Recipients {
		to = append(to, sendGridAddress{Email: recipient})
	}

	payload := sendGridRequest{
		Personalizations: []sendGridPersonalization{{To: to}},
		From:             sendGridAddress{Email: s.fromEmail},
		Subject:          mail.Subject,
		Content:          []sendGridContent{{Type: "text/plain", Value: mail.Body}},
	}

	res, err := s.client.Request().
		Method("POST").
		Path("/v3/mail/send").
		Use(body.JSON(payload)).
		Send()
	if err != nil {
		return fmt.Errorf("failed to send mail: %v", err)
	}
	if !res.Ok {
		return fmt.Errorf("sendgrid returned status %d: %s", res.StatusCode, res.String())
	}
	return nil
}
