package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("path should contain sendMessage, got %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	note := Notification{
		RunAt:           time.Now(),
		Status:          "confirmed",
		Price:           decimal.RequireFromString("1.0"),
		TargetPrice:     decimal.RequireFromString("1.0954"),
		PriceChangePct:  decimal.RequireFromString("9.54"),
		SupplyChangePct: decimal.RequireFromString("-8.71"),
		Delta:           "-87129",
		Epoch:           "12",
		TxHash:          "0xabc",
	}

	if err := notifier.Notify(context.Background(), note); err != nil {
		t.Fatalf("Notify should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("unexpected chat_id: %#v", received)
	}
	text := received["text"]
	for _, want := range []string{"[Rebase CONFIRMED]", "Supply change: -8.71% (price by 9.54%)", "Epoch: 12", "Tx: 0xabc"} {
		if !strings.Contains(text, want) {
			t.Fatalf("message %q should contain %q", text, want)
		}
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	note := Notification{RunAt: time.Now(), Status: "failed", Stage: "submit", Error: "reverted"}

	if err := notifier.Notify(context.Background(), note); err == nil {
		t.Fatal("ok=false should fail")
	}
}

func TestRenderFailure(t *testing.T) {
	msg := renderMessage(Notification{RunAt: time.Unix(0, 0), Status: "failed", Stage: "oracle", Error: "rpc down"})
	if !strings.Contains(msg, "Failed at oracle: rpc down") {
		t.Fatalf("unexpected message %q", msg)
	}
	if strings.Contains(msg, "Price:") {
		t.Fatalf("failure without a price should not render one: %q", msg)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
