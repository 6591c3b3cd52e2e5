package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WhatsAppClient posts messages to a WhatsApp gateway HTTP API.
type WhatsAppClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewWhatsAppClient(baseURL, token string) *WhatsAppClient {
	return &WhatsAppClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 60 * time.Second, // 上限；实际超时由 WithTimeout 控制
		},
	}
}

type whatsAppMessage struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

func (c *WhatsAppClient) Send(ctx context.Context, address, body string) error {
	b, err := json.Marshal(whatsAppMessage{To: address, Text: body})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		msg := strings.TrimSpace(string(detail))
		if msg == "" {
			return fmt.Errorf("whatsapp API error: %s", resp.Status)
		}
		return fmt.Errorf("whatsapp API error: %s: %s", resp.Status, msg)
	}
	return nil
}
