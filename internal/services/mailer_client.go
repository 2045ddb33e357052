package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// MailerClient communicates with the internal mailer service that renders
// and sends outbound email. Email is best-effort; callers treat failures as
// log-and-continue.
type MailerClient struct {
	baseURL    string
	httpClient *http.Client
	log        *zap.Logger
}

func NewMailerClient(baseURL string, log *zap.Logger) *MailerClient {
	return &MailerClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		log: log,
	}
}

type SendEmailRequest struct {
	UserID  string `json:"user_id"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (c *MailerClient) SendEmail(ctx context.Context, userID, subject, body string) error {
	payload, _ := json.Marshal(SendEmailRequest{
		UserID:  userID,
		Subject: subject,
		Body:    body,
	})

	url := fmt.Sprintf("%s/internal/send", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn("mailer service unavailable", zap.Error(err))
		return fmt.Errorf("mailer service unavailable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		c.log.Warn("mailer returned non-200", zap.Int("status", resp.StatusCode))
		return fmt.Errorf("mailer returned %d: %s", resp.StatusCode, string(b))
	}
	return nil
}
