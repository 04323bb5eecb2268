package notify

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestDeliver_PostsJSONPayload(t *testing.T) {
	var got deliverPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("Method = %q, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("ペイロードのデコードに失敗: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewWebhookSink(&http.Client{Timeout: 5 * time.Second}, newTestLogger(), srv.URL)

	if err := sink.Deliver(context.Background(), "id-1", "【通知】[線形代数] 第3回レポート"); err != nil {
		t.Fatalf("Deliver がエラーを返した: %v", err)
	}

	if got.IdentityID != "id-1" {
		t.Errorf("IdentityID = %q, want %q", got.IdentityID, "id-1")
	}
	if got.Text != "【通知】[線形代数] 第3回レポート" {
		t.Errorf("Text = %q", got.Text)
	}
}

func TestDeliver_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewWebhookSink(&http.Client{Timeout: 5 * time.Second}, newTestLogger(), srv.URL)

	if err := sink.Deliver(context.Background(), "id-1", "text"); err == nil {
		t.Fatal("非2xx応答でエラーが返らなかった")
	}
}

func TestDeliver_ConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // 接続先を先に落とす

	sink := NewWebhookSink(&http.Client{Timeout: time.Second}, newTestLogger(), srv.URL)

	if err := sink.Deliver(context.Background(), "id-1", "text"); err == nil {
		t.Fatal("接続失敗でエラーが返らなかった")
	}
}
