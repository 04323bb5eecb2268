// Package notify は通知メッセージの配送を提供する。
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
)

// WebhookSink は設定されたWebhook URLへメッセージをJSON POSTする配送先。
// 配送失敗は同期パスに致命的ではない（呼び出し元がログして続行する）。
type WebhookSink struct {
	httpClient *http.Client
	logger     *slog.Logger
	webhookURL string
}

// NewWebhookSink はWebhookSinkの新しいインスタンスを生成する。
func NewWebhookSink(httpClient *http.Client, logger *slog.Logger, webhookURL string) *WebhookSink {
	return &WebhookSink{
		httpClient: httpClient,
		logger:     logger,
		webhookURL: webhookURL,
	}
}

// deliverPayload はWebhookへ送信するリクエストボディ。
type deliverPayload struct {
	IdentityID string `json:"identity_id"`
	Text       string `json:"text"`
}

// Deliver はメッセージを配送する。非2xx応答はエラーとして返す。
func (s *WebhookSink) Deliver(ctx context.Context, identityID, text string) error {
	payload, err := json.Marshal(deliverPayload{IdentityID: identityID, Text: text})
	if err != nil {
		return fmt.Errorf("配送ペイロードの生成に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("配送リクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Error("Webhookへの配送に失敗しました",
			slog.String("identity_id", identityID),
			slog.String("error", err.Error()),
		)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		s.logger.Error("Webhookがエラーステータスを返しました",
			slog.String("identity_id", identityID),
			slog.Int("http_status", resp.StatusCode),
		)
		return fmt.Errorf("Webhookがステータス %d を返しました: %s", resp.StatusCode, string(body))
	}

	return nil
}
