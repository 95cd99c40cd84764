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
	"github.com/shopspring/decimal"

	"p2p-market-watch/internal/book"
)

// Notification captures one deal alert: a freshly admitted order that
// crossed a configured premium threshold.
type Notification struct {
	Order     book.Order
	Rule      string
	Threshold decimal.Decimal
	Channels  []string
	SeenAt    time.Time
}

// Notifier delivers deal alerts.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes alerts through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
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

// Notify posts the rendered alert via the sendMessage API.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
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
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false")
	}

	n.logger.Info().
		Str("order", note.Order.LogicalID).
		Str("rule", note.Rule).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("deal alert sent")
	return nil
}

func renderMessage(note Notification) string {
	order := note.Order

	builder := strings.Builder{}
	builder.WriteString("[P2P Order Alert]\n")
	builder.WriteString(fmt.Sprintf("Side: %s\n", order.Side))
	builder.WriteString(fmt.Sprintf("Amount: %s %s\n", order.Amount, order.Currency))
	if order.Premium != nil {
		builder.WriteString(fmt.Sprintf("Premium: %s%% (rule: %s, threshold %s%%)\n",
			order.Premium.StringFixed(2), note.Rule, note.Threshold.StringFixed(2)))
	}
	if order.Price != "" {
		builder.WriteString(fmt.Sprintf("Price: %s\n", order.Price))
	}
	if order.PaymentMethods != "" && order.PaymentMethods != "-" {
		builder.WriteString(fmt.Sprintf("Payment: %s\n", order.PaymentMethods))
	}
	builder.WriteString(fmt.Sprintf("Source: %s\n", order.Source))
	if order.Link != "" && order.Link != "-" {
		builder.WriteString(fmt.Sprintf("Link: %s\n", order.Link))
	}
	builder.WriteString(fmt.Sprintf("Seen: %s UTC\n", note.SeenAt.UTC().Format(time.RFC3339)))
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
