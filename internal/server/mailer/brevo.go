package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// BrevoSender posts to Brevo's transactional email API.
type BrevoSender struct {
	client      *http.Client
	baseURL     string
	apiKey      string
	senderEmail string
	senderName  string
}

func NewBrevoSender(client *http.Client, baseURL, apiKey, senderEmail, senderName string) *BrevoSender {
	if client == nil {
		client = http.DefaultClient
	}
	return &BrevoSender{
		client:      client,
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		senderEmail: senderEmail,
		senderName:  senderName,
	}
}

type brevoAddress struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type brevoRequest struct {
	Sender      brevoAddress   `json:"sender"`
	To          []brevoAddress `json:"to"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent"`
	TextContent string         `json:"textContent"`
}

func (s *BrevoSender) Send(ctx context.Context, msg OTPMessage) error {
	html, err := msg.HTML()
	if err != nil {
		return fmt.Errorf("render otp email: %w", err)
	}

	body, err := json.Marshal(brevoRequest{
		Sender:      brevoAddress{Name: s.senderName, Email: s.senderEmail},
		To:          []brevoAddress{{Email: msg.To}},
		Subject:     msg.Subject(),
		HTMLContent: html,
		TextContent: msg.Text(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v3/smtp/email", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("accept", "application/json")
	req.Header.Set("content-type", "application/json")
	req.Header.Set("api-key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("brevo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("brevo: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
