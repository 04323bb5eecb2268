// Package session はプラットフォームへの認証済みセッションを提供する。
//
// 2段階のログインハンドシェイク（IDプロバイダ → SSO検証）と、認証後の
// フィード・詳細ページ取得を担う。IDプロバイダ、SSOリダイレクト先、
// データエンドポイントは異なるドメインに分かれており、下位のHTTPトランスポートは
// ドメインをまたいだCookieの持ち回りを行わないため、各リクエストで
// 明示的にCookie状態を付け直す。
package session

import (
	"net/http"
	"strings"
	"sync"
)

// State は認証ハンドシェイクと以降の全呼び出しで持ち回る、
// ドメインごとのCookie状態の値オブジェクト。
// 各SessionインスタンスがそれぞれのStateを所有し、プロセス全体で共有される
// 可変状態は存在しない。将来identityごとの並列実行が必要になっても安全である。
type State struct {
	mu      sync.Mutex
	cookies map[string][]*http.Cookie // host（小文字） -> cookies
}

// NewState は空のCookie状態を生成する。
func NewState() *State {
	return &State{cookies: make(map[string][]*http.Cookie)}
}

// Absorb はレスポンスのSet-Cookieを取り込む。
// 同名のCookieは新しい値で置き換える。リクエスト情報のないレスポンスは無視する。
func (s *State) Absorb(resp *http.Response) {
	if resp == nil || resp.Request == nil || resp.Request.URL == nil {
		return
	}
	received := resp.Cookies()
	if len(received) == 0 {
		return
	}

	host := strings.ToLower(resp.Request.URL.Hostname())

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.cookies[host]
	for _, c := range received {
		replaced := false
		for i, old := range existing {
			if old.Name == c.Name {
				existing[i] = c
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, c)
		}
	}
	s.cookies[host] = existing
}

// Attach はリクエスト先ホストに対応するCookieをリクエストへ付け直す。
func (s *State) Attach(req *http.Request) {
	if req == nil || req.URL == nil {
		return
	}
	host := strings.ToLower(req.URL.Hostname())

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.cookies[host] {
		req.AddCookie(c)
	}
}

// CookiesFor は指定ホストに保持しているCookieを返す。
func (s *State) CookiesFor(host string) []*http.Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cookies[strings.ToLower(host)]
}
