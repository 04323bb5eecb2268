// Package security は外部由来URLの検証機能を提供する。
//
// 通知エントリのリンク先URIはリモートのフィード本文に含まれて届くため、
// 信頼できない入力として扱う。DetailGuardServiceはプラットフォームの
// ホスト以外への到達とプライベートネットワークへの到達を防ぐ。
package security

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// DetailGuardService は詳細ページURLの検証機能のインターフェースを定義する。
type DetailGuardService interface {
	// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
	// safeurlライブラリにより、プライベートIP、ループバック、リンクローカル、
	// メタデータIPへのリクエストが自動的にブロックされる。
	// DNS再バインディング攻撃はDialerレベルの検証で防止される。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateURL はURLがプラットフォームの許可ホストを指しているかを事前検証する。
	// スキームはhttp/httpsのみ許可し、許可ホスト以外はエラーを返す。
	ValidateURL(rawURL string) error
}

// allowedSchemes は許可されるURLスキーム。
var allowedSchemes = []string{"http", "https"}

// detailGuard はDetailGuardServiceの実装。
// プラットフォームの許可ホスト一覧を保持する。
type detailGuard struct {
	allowedHosts []string
}

// NewDetailGuard はDetailGuardServiceの新しいインスタンスを生成する。
// platformURLsにはプラットフォームのベースURL群（データエンドポイントと
// SSOリダイレクト先のドメイン）を渡す。パースできないURLは無視される。
func NewDetailGuard(platformURLs ...string) *detailGuard {
	g := &detailGuard{}
	for _, raw := range platformURLs {
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Hostname() == "" {
			continue
		}
		g.allowedHosts = append(g.allowedHosts, strings.ToLower(parsed.Hostname()))
	}
	return g
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
func (g *detailGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		SetAllowedHosts(g.allowedHosts...).
		Build()

	wrappedClient := safeurl.Client(config)
	return wrappedClient.Client
}

// ValidateURL はURLがプラットフォームの許可ホストを指しているかを事前検証する。
// DNS解決を伴わない静的な検証であり、解決後のIP検証はNewSafeClientの
// クライアント側で行われる。
func (g *detailGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	scheme := strings.ToLower(parsed.Scheme)
	if !isAllowedScheme(scheme) {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", scheme, allowedSchemes)
	}

	host := strings.ToLower(parsed.Hostname())
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	for _, allowed := range g.allowedHosts {
		if host == allowed {
			return nil
		}
	}
	return fmt.Errorf("host not in platform allowlist: %s", host)
}

// isAllowedScheme はURLスキームが許可リストに含まれるかを検証する。
func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}
