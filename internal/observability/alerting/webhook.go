package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// WebhookSender 通过通用 Webhook 投递文本告警，兼容钉钉机器人的
// text 消息格式。
type WebhookSender struct {
	URL    string
	Client *http.Client
}

// NewWebhookSender 创建 Webhook 发送器。
func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Send 实现 DingTalkSender。
func (s *WebhookSender) Send(ctx context.Context, content string) error {
	if s == nil || s.URL == "" {
		return nil
	}
	payload, err := json.Marshal(map[string]any{
		"msgtype": "text",
		"text":    map[string]string{"content": content},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("webhook 返回 %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

var _ DingTalkSender = (*WebhookSender)(nil)
