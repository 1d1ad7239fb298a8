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
)

// Notification carries the outcome of one rebase invocation.
type Notification struct {
	RunAt           time.Time
	Status          string
	Stage           string
	Price           decimal.Decimal
	TargetPrice     decimal.Decimal
	PriceChangePct  decimal.Decimal
	SupplyChangePct decimal.Decimal
	Delta           string
	Epoch           string
	TxHash          string
	Error           string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier posts messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier.
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

// Notify calls sendMessage with a rendered summary.
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
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Time("run_at", note.RunAt).
		Str("status", note.Status).
		Msg("rebase notification sent")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[Rebase %s]\n", strings.ToUpper(note.Status)))
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.RunAt.UTC().Format(time.RFC3339)))
	if !note.Price.IsZero() {
		builder.WriteString(fmt.Sprintf("Price: %s (target %s)\n", note.Price.StringFixed(6), note.TargetPrice.StringFixed(6)))
		builder.WriteString(fmt.Sprintf("Supply change: %s%% (price by %s%%)\n", note.SupplyChangePct.StringFixed(2), note.PriceChangePct.StringFixed(2)))
	}
	if note.Delta != "" {
		builder.WriteString(fmt.Sprintf("Delta: %s\n", note.Delta))
	}
	if note.Epoch != "" {
		builder.WriteString(fmt.Sprintf("Epoch: %s\n", note.Epoch))
	}
	if note.TxHash != "" {
		builder.WriteString(fmt.Sprintf("Tx: %s\n", note.TxHash))
	}
	if note.Error != "" {
		builder.WriteString(fmt.Sprintf("Failed at %s: %s\n", note.Stage, note.Error))
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
