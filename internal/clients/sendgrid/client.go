package sendgrid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/whiskertales/backend/internal/logger"
	"github.com/whiskertales/backend/internal/utils"
)

// Client sends transactional mail through the SendGrid v3 REST API.
type Client interface {
	Send(ctx context.Context, msg Message) error
}

type Message struct {
	ToEmail  string
	ToName   string
	Subject  string
	TextBody string
	HTMLBody string
}

type client struct {
	log        *logger.Logger
	baseURL    string
	apiKey     string
	fromEmail  string
	fromName   string
	httpClient *http.Client
}

func NewFromEnv(log *logger.Logger) (Client, error) {
	apiKey := strings.TrimSpace(utils.GetEnv("SENDGRID_API_KEY", "", log))
	if apiKey == "" {
		return nil, fmt.Errorf("missing SENDGRID_API_KEY")
	}
	fromEmail := strings.TrimSpace(utils.GetEnv("SENDGRID_FROM_EMAIL", "", log))
	if fromEmail == "" {
		return nil, fmt.Errorf("missing SENDGRID_FROM_EMAIL")
	}

	baseURL := strings.TrimRight(utils.GetEnv("SENDGRID_BASE_URL", "https://api.sendgrid.com", log), "/")
	timeoutSec := utils.GetEnvAsInt("SENDGRID_TIMEOUT_SECONDS", 30, log)

	return &client{
		log:        log.With("client", "SendGridClient"),
		baseURL:    baseURL,
		apiKey:     apiKey,
		fromEmail:  fromEmail,
		fromName:   utils.GetEnv("SENDGRID_FROM_NAME", "Whiskertales", log),
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}, nil
}

type sgAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sgContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sgPayload struct {
	Personalizations []struct {
		To []sgAddress `json:"to"`
	} `json:"personalizations"`
	From    sgAddress   `json:"from"`
	Subject string      `json:"subject"`
	Content []sgContent `json:"content"`
}

func (c *client) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.ToEmail) == "" {
		return fmt.Errorf("sendgrid: recipient email required")
	}

	payload := sgPayload{
		From:    sgAddress{Email: c.fromEmail, Name: c.fromName},
		Subject: msg.Subject,
	}
	payload.Personalizations = append(payload.Personalizations, struct {
		To []sgAddress `json:"to"`
	}{To: []sgAddress{{Email: msg.ToEmail, Name: msg.ToName}}})

	if msg.TextBody != "" {
		payload.Content = append(payload.Content, sgContent{Type: "text/plain", Value: msg.TextBody})
	}
	if msg.HTMLBody != "" {
		payload.Content = append(payload.Content, sgContent{Type: "text/html", Value: msg.HTMLBody})
	}
	if len(payload.Content) == 0 {
		return fmt.Errorf("sendgrid: message body required")
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v3/mail/send", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("sendgrid http %d: %s", resp.StatusCode, string(raw))
	}
	return nil
}
