// Package model はドメインモデルを定義する。
package model

import "fmt"

// AuthenticationError は認証情報が拒否されたことを表す。
// このサイクルでは致命的であり、運用者にそのまま通知する。
type AuthenticationError struct {
	Username string
	Reason   string
}

// Error はerrorインターフェースを実装する。
func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("認証に失敗しました (user=%s): %s", e.Username, e.Reason)
}

// TransportError はネットワーク・HTTPレベルの障害を表す。
// このサイクルでは致命的だが、次回の定期実行で再試行される。
type TransportError struct {
	Op         string // 失敗した操作名
	StatusCode int    // HTTPステータス（ネットワーク障害時は0）
	Body       string // レスポンスボディの先頭（診断用）
	Err        error  // 下位のエラー
}

// Error はerrorインターフェースを実装する。
func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("通信エラー (%s): %v", e.Op, e.Err)
	}
	return fmt.Sprintf("通信エラー (%s): status=%d body=%s", e.Op, e.StatusCode, truncateBody(e.Body))
}

// Unwrap は下位のエラーを返す。
func (e *TransportError) Unwrap() error { return e.Err }

// DecryptionError は保存された秘密情報の復号失敗を表す。
// 鍵の不一致または保存値の破損であり、再設定されるまでそのidentityは利用不能となる。
type DecryptionError struct {
	Reason string
}

// Error はerrorインターフェースを実装する。
func (e *DecryptionError) Error() string {
	return fmt.Sprintf("復号に失敗しました: %s", e.Reason)
}

// FetchError はフィードまたは詳細ページの取得失敗を表す。
// フィード取得での発生はサイクルに致命的、詳細ページ取得での発生は該当項目の
// エンリッチのみを劣化させる。
type FetchError struct {
	Op         string
	StatusCode int
	Err        error
}

// Error はerrorインターフェースを実装する。
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("取得に失敗しました (%s): %v", e.Op, e.Err)
	}
	return fmt.Sprintf("取得に失敗しました (%s): status=%d", e.Op, e.StatusCode)
}

// Unwrap は下位のエラーを返す。
func (e *FetchError) Unwrap() error { return e.Err }

// PersistenceError はレコード1件の永続化失敗を表す。
// 失敗は該当レコードに閉じ、同一パス内の他レコードの処理を妨げない。
type PersistenceError struct {
	RemoteID string
	Err      error
}

// Error はerrorインターフェースを実装する。
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("レコードの永続化に失敗しました (remote_id=%s): %v", e.RemoteID, e.Err)
}

// Unwrap は下位のエラーを返す。
func (e *PersistenceError) Unwrap() error { return e.Err }

// truncateBody は診断ログ用にボディを短縮する。
func truncateBody(body string) string {
	const limit = 200
	if len(body) > limit {
		return body[:limit] + "..."
	}
	return body
}
