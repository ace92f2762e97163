package evolution

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	sendTimeout   = 30 * time.Second
	base64Timeout = 20 * time.Second
)

// Credentials are the per-instance settings an Evolution deployment needs.
type Credentials struct {
	ServerURL    string
	APIToken     string
	InstanceName string
}

// CredentialsFromMap extracts Evolution credentials from a service
// instance's stored credential document.
func CredentialsFromMap(m map[string]any) (Credentials, error) {
	c := Credentials{
		ServerURL:    stringField(m, "serverUrl"),
		APIToken:     stringField(m, "apiToken"),
		InstanceName: stringField(m, "instanceName"),
	}
	if c.ServerURL == "" || c.APIToken == "" || c.InstanceName == "" {
		return Credentials{}, errors.New("evolution credentials incomplete: serverUrl, apiToken and instanceName are required")
	}
	c.ServerURL = strings.TrimRight(c.ServerURL, "/")
	return c, nil
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

// ResolveMediaURL turns a possibly relative media url from a webhook into
// an absolute one against the instance's server. Returns "" when neither
// side provides enough to build one.
func ResolveMediaURL(raw string, creds Credentials) string {
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	if creds.ServerURL == "" {
		return ""
	}
	return creds.ServerURL + "/" + strings.TrimLeft(raw, "/")
}

// Client talks to an Evolution API server. One client serves all
// instances; credentials are passed per call because each service instance
// points at its own deployment.
type Client struct {
	http *http.Client
	log  *slog.Logger
}

func NewClient(log *slog.Logger) *Client {
	return &Client{
		http: &http.Client{Timeout: sendTimeout},
		log:  log.With(slog.String("client", "evolution")),
	}
}

// SendResult is what Evolution reports back for a sent message.
type SendResult struct {
	ExternalID string
	Status     string
}

type sendResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
	ID     string `json:"id"`
	Status string `json:"status"`
}

// SendText delivers a text message. The phone must already be in
// digits-only international form.
func (c *Client) SendText(ctx context.Context, creds Credentials, phone, text string) (SendResult, error) {
	url := fmt.Sprintf("%s/message/sendText/%s", creds.ServerURL, creds.InstanceName)
	body, err := json.Marshal(map[string]string{
		"number": phone,
		"text":   text,
	})
	if err != nil {
		return SendResult{}, err
	}

	var resp sendResponse
	if err := c.doJSON(ctx, http.MethodPost, url, creds.APIToken, body, &resp); err != nil {
		return SendResult{}, fmt.Errorf("evolution send: %w", err)
	}

	result := SendResult{ExternalID: resp.Key.ID, Status: strings.ToLower(resp.Status)}
	if result.ExternalID == "" {
		result.ExternalID = resp.ID
	}
	if result.ExternalID == "" {
		result.ExternalID = fmt.Sprintf("evol_%d", time.Now().UnixMilli())
	}
	if result.Status == "" {
		result.Status = "sent"
	}
	return result, nil
}

// InstanceState reports the connection state of the instance ("open" when
// ready to send). Used for diagnostics before sending.
func (c *Client) InstanceState(ctx context.Context, creds Credentials) (string, error) {
	url := fmt.Sprintf("%s/instance/connect/%s", creds.ServerURL, creds.InstanceName)
	var resp struct {
		Instance struct {
			State string `json:"state"`
		} `json:"instance"`
	}
	if err := c.doJSON(ctx, http.MethodGet, url, creds.APIToken, nil, &resp); err != nil {
		return "", fmt.Errorf("evolution instance state: %w", err)
	}
	return resp.Instance.State, nil
}

// Download fetches a media URL with the instance's api key and returns
// the body and lowercased content type.
func (c *Client) Download(ctx context.Context, creds Credentials, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	if creds.APIToken != "" {
		req.Header.Set("apikey", creds.APIToken)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("evolution media download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("evolution media download: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	return body, strings.ToLower(resp.Header.Get("Content-Type")), nil
}

type base64Response struct {
	Base64   string `json:"base64"`
	Data     string `json:"data"`
	Mimetype string `json:"mimetype"`
	MimeType string `json:"mimeType"`
	Type     string `json:"type"`
	Result   struct {
		Base64 string `json:"base64"`
	} `json:"result"`
}

var dataURLPattern = regexp.MustCompile(`^data:([^;]+);base64,(.+)$`)

// FetchMediaBase64 asks the server to re-encode a message's media as
// base64, the fallback when the direct media url serves garbage. Returns
// the decoded bytes and the best known content type.
func (c *Client) FetchMediaBase64(ctx context.Context, creds Credentials, messageID string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, base64Timeout)
	defer cancel()

	url := fmt.Sprintf("%s/chat/getBase64FromMediaMessage/%s", creds.ServerURL, creds.InstanceName)
	body, err := json.Marshal(map[string]any{
		"message": map[string]any{
			"key": map[string]string{"id": messageID},
		},
	})
	if err != nil {
		return nil, "", err
	}

	var resp base64Response
	if err := c.doJSON(ctx, http.MethodPost, url, creds.APIToken, body, &resp); err != nil {
		return nil, "", fmt.Errorf("evolution base64 fetch: %w", err)
	}

	payload := resp.Base64
	if payload == "" {
		payload = resp.Data
	}
	if payload == "" {
		payload = resp.Result.Base64
	}
	if payload == "" {
		return nil, "", errors.New("evolution base64 fetch: response carries no base64 payload")
	}

	contentType := firstNonEmpty(resp.Mimetype, resp.MimeType, resp.Type)

	// Some server versions wrap the payload in a data url carrying its own
	// content type, which wins over the response fields.
	if m := dataURLPattern.FindStringSubmatch(payload); m != nil {
		contentType = strings.ToLower(m[1])
		payload = m[2]
	}

	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("evolution base64 fetch: decode payload: %w", err)
	}
	return decoded, strings.ToLower(contentType), nil
}

func (c *Client) doJSON(ctx context.Context, method, url, apiKey string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(raw, 200))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
