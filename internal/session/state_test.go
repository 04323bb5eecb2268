package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// responseWithCookies はテスト用にSet-Cookie付きレスポンスを組み立てる。
func responseWithCookies(t *testing.T, rawURL string, cookies ...*http.Cookie) *http.Response {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, rawURL, nil)
	rec := httptest.NewRecorder()
	for _, c := range cookies {
		http.SetCookie(rec, c)
	}
	resp := rec.Result()
	resp.Request = req
	return resp
}

func TestState_AbsorbAndAttach(t *testing.T) {
	state := NewState()

	resp := responseWithCookies(t, "https://platform.example/sso/validate",
		&http.Cookie{Name: "session_token", Value: "tok-1"},
	)
	state.Absorb(resp)

	req := httptest.NewRequest(http.MethodGet, "https://platform.example/stream/view", nil)
	state.Attach(req)

	cookie, err := req.Cookie("session_token")
	if err != nil {
		t.Fatalf("Cookieが付与されていない: %v", err)
	}
	if cookie.Value != "tok-1" {
		t.Errorf("cookie.Value = %q, want %q", cookie.Value, "tok-1")
	}
}

func TestState_AbsorbReplacesSameName(t *testing.T) {
	state := NewState()

	state.Absorb(responseWithCookies(t, "https://platform.example/a",
		&http.Cookie{Name: "session_token", Value: "old"},
	))
	state.Absorb(responseWithCookies(t, "https://platform.example/b",
		&http.Cookie{Name: "session_token", Value: "new"},
	))

	cookies := state.CookiesFor("platform.example")
	if len(cookies) != 1 {
		t.Fatalf("len(cookies) = %d, want 1", len(cookies))
	}
	if cookies[0].Value != "new" {
		t.Errorf("cookies[0].Value = %q, want %q", cookies[0].Value, "new")
	}
}

func TestState_SeparatesHosts(t *testing.T) {
	state := NewState()

	state.Absorb(responseWithCookies(t, "https://idp.example/login",
		&http.Cookie{Name: "idp_session", Value: "idp-1"},
	))
	state.Absorb(responseWithCookies(t, "https://platform.example/sso/validate",
		&http.Cookie{Name: "session_token", Value: "tok-1"},
	))

	// プラットフォーム向けリクエストにIdPのCookieが混ざってはならない
	req := httptest.NewRequest(http.MethodGet, "https://platform.example/stream/view", nil)
	state.Attach(req)

	if _, err := req.Cookie("idp_session"); err == nil {
		t.Error("別ホストのCookieが付与された")
	}
	if _, err := req.Cookie("session_token"); err != nil {
		t.Errorf("自ホストのCookieが付与されていない: %v", err)
	}
}

func TestState_CookiesForIsCaseInsensitive(t *testing.T) {
	state := NewState()

	state.Absorb(responseWithCookies(t, "https://Platform.Example/a",
		&http.Cookie{Name: "session_token", Value: "tok-1"},
	))

	if len(state.CookiesFor("platform.example")) != 1 {
		t.Error("ホスト名の大文字小文字が区別されている")
	}
}
