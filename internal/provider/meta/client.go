package meta

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	defaultGraphBaseURL = "https://graph.facebook.com"
	defaultGraphVersion = "v18.0"
	sendTimeout         = 30 * time.Second
)

// Credentials are the per-number settings for the Cloud API.
type Credentials struct {
	PhoneID     string
	AccessToken string
	GraphAPIURL string
	APIVersion  string
}

// CredentialsFromMap extracts Meta credentials from a service instance's
// stored credential document, filling Graph API defaults.
func CredentialsFromMap(m map[string]any) (Credentials, error) {
	c := Credentials{
		PhoneID:     stringField(m, "phoneId"),
		AccessToken: stringField(m, "accessToken"),
		GraphAPIURL: stringField(m, "graphApiUrl"),
		APIVersion:  stringField(m, "apiVersion"),
	}
	if c.PhoneID == "" || c.AccessToken == "" {
		return Credentials{}, errors.New("meta credentials incomplete: phoneId and accessToken are required")
	}
	if c.GraphAPIURL == "" {
		c.GraphAPIURL = defaultGraphBaseURL
	}
	if c.APIVersion == "" {
		c.APIVersion = defaultGraphVersion
	}
	c.GraphAPIURL = strings.TrimRight(c.GraphAPIURL, "/")
	c.APIVersion = strings.Trim(c.APIVersion, "/")
	return c, nil
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

// Client sends messages through the Graph API.
type Client struct {
	http *http.Client
	log  *slog.Logger
}

func NewClient(log *slog.Logger) *Client {
	return &Client{
		http: &http.Client{Timeout: sendTimeout},
		log:  log.With(slog.String("client", "meta")),
	}
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	MessageID string `json:"message_id"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// SendText delivers a text message and returns the provider message id.
// The phone must already be in digits-only international form.
func (c *Client) SendText(ctx context.Context, creds Credentials, phone, text string) (string, error) {
	url := fmt.Sprintf("%s/%s/%s/messages", creds.GraphAPIURL, creds.APIVersion, creds.PhoneID)
	body, err := json.Marshal(map[string]any{
		"messaging_product": "whatsapp",
		"to":                phone,
		"type":              "text",
		"text": map[string]any{
			"preview_url": false,
			"body":        text,
		},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("meta send: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var decoded sendResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("meta send: decode response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decoded.Error != nil {
			return "", fmt.Errorf("meta send: %s", decoded.Error.Message)
		}
		return "", fmt.Errorf("meta send: unexpected status %d", resp.StatusCode)
	}

	if len(decoded.Messages) > 0 && decoded.Messages[0].ID != "" {
		return decoded.Messages[0].ID, nil
	}
	if decoded.MessageID != "" {
		return decoded.MessageID, nil
	}
	return fmt.Sprintf("meta_%d", time.Now().UnixMilli()), nil
}
