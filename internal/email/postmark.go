// Package email sends login links through the Postmark HTTP API.
package email

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const postmarkURL = "https://api.postmarkapp.com/email"

type Client struct {
	serverToken   string
	fromEmail     string
	baseURL       string
	subject       string
	tokenDuration time.Duration
	httpClient    *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(serverToken, fromEmail, baseURL, subject string, tokenDuration time.Duration, opts ...Option) *Client {
	c := &Client{
		serverToken:   serverToken,
		fromEmail:     fromEmail,
		baseURL:       baseURL,
		subject:       subject,
		tokenDuration: tokenDuration,
		httpClient:    http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

// SendLoginLink emails a link to the wait page for the given token
// key, with the guarded next destination already URL-encoded. Any
// transport or API failure is returned to the caller; a login email
// that may not have been sent must fail the request, not be dropped.
func (c *Client) SendLoginLink(toEmail, key, nextEncoded string) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing server token")
	}

	link := fmt.Sprintf("%s/login/wait/%s?next=%s", c.baseURL, key, nextEncoded)
	minutes := int(c.tokenDuration.Minutes())

	textBody := fmt.Sprintf(
		"Click the link below to sign in:\n\n%s\n\nThis link expires in %d minutes. If you did not request it, you can ignore this email.",
		link, minutes,
	)
	htmlBody := fmt.Sprintf(
		`<p>Click the link below to sign in:</p><p><a href="%s">Sign in</a></p><p>This link expires in %d minutes. If you did not request it, you can ignore this email.</p>`,
		link, minutes,
	)

	payload := postmarkEmail{
		From:     c.fromEmail,
		To:       toEmail,
		Subject:  c.subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequest("POST", postmarkURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}
