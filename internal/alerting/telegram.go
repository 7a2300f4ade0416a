package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Telegram messages stay well below the 4096 character API limit.
const telegramMaxItems = 20

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, payload Payload) error {
	body, err := json.Marshal(map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(payload),
	})
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Int("count", payload.Count).Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(payload Payload) string {
	builder := strings.Builder{}
	builder.WriteString("[KPI Alert]\n")
	builder.WriteString(fmt.Sprintf("At: %s UTC\n", payload.At.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Anomalies: %d\n", payload.Count))

	for i, item := range payload.Items {
		if i == telegramMaxItems {
			builder.WriteString(fmt.Sprintf("... and %d more\n", len(payload.Items)-telegramMaxItems))
			break
		}
		builder.WriteString(fmt.Sprintf("- [%s] %s %s %s %s (score %s, %s)\n",
			strings.ToUpper(item.Severity),
			item.Date,
			item.Metric,
			arrow(item.Direction),
			formatNumber(item.Value, -1),
			formatNumber(item.Score, 2),
			item.Rule,
		))
	}
	return builder.String()
}

func arrow(direction string) string {
	if direction == "down" {
		return "↓"
	}
	return "↑"
}

var _ Notifier = (*TelegramNotifier)(nil)
