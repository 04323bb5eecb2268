package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/classwatch/internal/model"
	"github.com/hitoshi/classwatch/internal/security"
)

// AuthState はセッションの認証状態を表す。
type AuthState int

const (
	// StateUnauthenticated は未認証状態。
	StateUnauthenticated AuthState = iota
	// StateIdentityVerified はIDプロバイダの認証のみ完了した状態。
	StateIdentityVerified
	// StatePlatformAuthenticated はプラットフォームのセッショントークンを取得した状態。
	// データ操作はこの状態でのみ許可される。
	StatePlatformAuthenticated
)

const (
	defaultSSOValidatePath = "/sso/validate"
	defaultStreamPath      = "/stream/view"
	defaultCalendarPath    = "/calendar/events"
	defaultAttemptPath     = "/assignment/attempt"

	// calendarLookbackHours はカレンダー照会ウィンドウの過去側の幅（時間）。
	calendarLookbackHours = 3

	// maxBodySize は読み込むレスポンスボディの上限。
	maxBodySize = 5 << 20
)

// Config はSessionの設定。
type Config struct {
	IdPLoginURL     string
	PlatformBaseURL string

	// テスト用にオーバーライド可能なパス
	SSOValidatePath string
	StreamPath      string
	CalendarPath    string
	AttemptPath     string

	Timeout time.Duration
	// SettleDelay は通知ストリームの2回の呼び出しの間に必ず挟む待機時間。
	// サーバ側の部分データ応答を避けるために必要であり、省略してはならない。
	SettleDelay time.Duration
	// RequestsPerSecond はプラットフォームへのリクエストレート上限。
	RequestsPerSecond float64
}

// Session はプラットフォームへの認証済みセッションを表す。
// 各インスタンスが自身のCookie状態を所有し、identity間で共有されない。
type Session struct {
	cfg          Config
	state        *State
	authState    AuthState
	client       *http.Client
	detailClient *http.Client
	guard        security.DetailGuardService
	limiter      *rate.Limiter
	logger       *slog.Logger
	now          func() time.Time // テスト用に差し替え可能
}

// New はSessionの新しいインスタンスを生成する。
// リダイレクトは自動追従しない。ドメインをまたぐCookieの持ち回りを
// State経由で明示的に行うためである。
func New(cfg Config, guard security.DetailGuardService, logger *slog.Logger) *Session {
	if cfg.SSOValidatePath == "" {
		cfg.SSOValidatePath = defaultSSOValidatePath
	}
	if cfg.StreamPath == "" {
		cfg.StreamPath = defaultStreamPath
	}
	if cfg.CalendarPath == "" {
		cfg.CalendarPath = defaultCalendarPath
	}
	if cfg.AttemptPath == "" {
		cfg.AttemptPath = defaultAttemptPath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 3 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 2
	}

	return &Session{
		cfg:   cfg,
		state: NewState(),
		client: &http.Client{
			Timeout: cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		detailClient: guard.NewSafeClient(cfg.Timeout),
		guard:        guard,
		limiter:      rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		logger:       logger,
		now:          time.Now,
	}
}

// AuthState は現在の認証状態を返す。
func (s *Session) AuthState() AuthState { return s.authState }

// Login は2段階のログインハンドシェイクを実行する。
//
//  1. IDプロバイダへ認証情報をフォーム送信する。拒否された場合は
//     AuthenticationErrorを返し、状態はUnauthenticatedのまま変わらない。
//  2. 受理されるとワンタイムチケットを受け取り、プラットフォームの
//     SSO検証エンドポイントと交換してセッショントークンを得る。
//
// トランスポート障害はTransportErrorを返し、状態は変更しない。
// 部分状態からの再開はサポートせず、呼び出し元は最初からLoginをやり直す。
func (s *Session) Login(ctx context.Context, username, secret string) error {
	ticket, err := s.verifyIdentity(ctx, username, secret)
	if err != nil {
		return err
	}
	s.authState = StateIdentityVerified

	if err := s.validateSSO(ctx, ticket); err != nil {
		return err
	}
	s.authState = StatePlatformAuthenticated

	s.logger.Info("ログインが完了しました",
		slog.String("user", username),
	)
	return nil
}

// verifyIdentity はIDプロバイダへ認証情報を送信し、ワンタイムチケットを取り出す。
// IDプロバイダは成功時に302でチケット付きのリダイレクトを返し、
// 認証情報の拒否時はログインフォームを200で再表示する。
func (s *Session) verifyIdentity(ctx context.Context, username, secret string) (string, error) {
	form := url.Values{
		"username": {username},
		"password": {secret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.IdPLoginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &model.TransportError{Op: "idp_login", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.do(ctx, s.client, req)
	if err != nil {
		return "", &model.TransportError{Op: "idp_login", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))

	switch {
	case resp.StatusCode == http.StatusFound || resp.StatusCode == http.StatusSeeOther:
		// 認証成功: Locationにワンタイムチケットが含まれる
	case resp.StatusCode == http.StatusOK:
		return "", &model.AuthenticationError{
			Username: username,
			Reason:   "IDプロバイダが認証情報を拒否しました",
		}
	default:
		return "", &model.TransportError{
			Op:         "idp_login",
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	location := resp.Header.Get("Location")
	redirect, err := url.Parse(location)
	if err != nil || redirect.Query().Get("ticket") == "" {
		return "", &model.TransportError{
			Op:  "idp_login",
			Err: fmt.Errorf("リダイレクト応答にチケットが含まれていません: %q", location),
		}
	}

	return redirect.Query().Get("ticket"), nil
}

// validateSSO はワンタイムチケットをプラットフォームのSSO検証エンドポイントと交換する。
// 成功するとプラットフォームのセッショントークンがCookieとして発行される。
func (s *Session) validateSSO(ctx context.Context, ticket string) error {
	validateURL := s.cfg.PlatformBaseURL + s.cfg.SSOValidatePath + "?ticket=" + url.QueryEscape(ticket)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, validateURL, nil)
	if err != nil {
		return &model.TransportError{Op: "sso_validate", Err: err}
	}

	resp, err := s.do(ctx, s.client, req)
	if err != nil {
		return &model.TransportError{Op: "sso_validate", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))

	if resp.StatusCode >= http.StatusBadRequest {
		return &model.TransportError{
			Op:         "sso_validate",
			StatusCode: resp.StatusCode,
			Body:       string(body),
		}
	}

	platformHost, err := hostOf(s.cfg.PlatformBaseURL)
	if err != nil {
		return &model.TransportError{Op: "sso_validate", Err: err}
	}
	if len(s.state.CookiesFor(platformHost)) == 0 {
		return &model.TransportError{
			Op:  "sso_validate",
			Err: errors.New("プラットフォームのセッショントークンが発行されませんでした"),
		}
	}

	return nil
}

// FetchNoticeFeed は通知ストリームを取得する。
// ビューアセッションの確立とストリーム読み込みの2回の呼び出しからなり、
// 間に必須の待機時間を挟む。待機を省くとサーバが部分データを返すことがある。
func (s *Session) FetchNoticeFeed(ctx context.Context) (*model.NoticeFeed, error) {
	if err := s.requireAuthenticated("notice_feed"); err != nil {
		return nil, err
	}

	streamURL := s.cfg.PlatformBaseURL + s.cfg.StreamPath

	// 1回目: ビューアセッションの確立
	if _, err := s.postForm(ctx, "stream_establish", streamURL, url.Values{"cmd": {"establish"}}); err != nil {
		return nil, err
	}

	// 必須の待機（サーバ側の部分データ応答を避ける）
	select {
	case <-ctx.Done():
		return nil, &model.FetchError{Op: "notice_feed", Err: ctx.Err()}
	case <-time.After(s.cfg.SettleDelay):
	}

	// 2回目: ストリームの読み込み
	body, err := s.postForm(ctx, "stream_load", streamURL, url.Values{"cmd": {"load"}})
	if err != nil {
		return nil, err
	}

	feed := &model.NoticeFeed{}
	if err := json.Unmarshal(body, feed); err != nil {
		return nil, &model.FetchError{Op: "stream_load", Err: fmt.Errorf("ストリーム応答のパースに失敗しました: %w", err)}
	}

	return feed, nil
}

// FetchCalendarFeed はカレンダーフィードを取得する。
// 照会ウィンドウは(now − 3h)から(now + lookaheadHours)まで。
// サーバが過剰に広い結果を返す場合に備え、各エントリの締切時刻が
// 要求ウィンドウに収まっていることをクライアント側でも再検証する。
func (s *Session) FetchCalendarFeed(ctx context.Context, lookaheadHours int) ([]model.CalendarEntry, error) {
	if err := s.requireAuthenticated("calendar_feed"); err != nil {
		return nil, err
	}

	hours := model.ClampLookahead(lookaheadHours)
	now := s.now()
	windowStart := now.Add(-calendarLookbackHours * time.Hour)
	windowEnd := now.Add(time.Duration(hours) * time.Hour)

	calendarURL := s.cfg.PlatformBaseURL + s.cfg.CalendarPath +
		"?start=" + strconv.FormatInt(windowStart.UnixMilli(), 10) +
		"&end=" + strconv.FormatInt(windowEnd.UnixMilli(), 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, calendarURL, nil)
	if err != nil {
		return nil, &model.FetchError{Op: "calendar_feed", Err: err}
	}

	resp, err := s.do(ctx, s.client, req)
	if err != nil {
		return nil, &model.FetchError{Op: "calendar_feed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &model.FetchError{Op: "calendar_feed", StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &model.FetchError{Op: "calendar_feed", Err: err}
	}

	var entries []model.CalendarEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, &model.FetchError{Op: "calendar_feed", Err: fmt.Errorf("カレンダー応答のパースに失敗しました: %w", err)}
	}

	// ウィンドウ外エントリの除外（サーバ応答の再検証）
	filtered := make([]model.CalendarEntry, 0, len(entries))
	for _, e := range entries {
		end := e.End()
		if end.Before(windowStart) || end.After(windowEnd) {
			continue
		}
		filtered = append(filtered, e)
	}

	return filtered, nil
}

// FetchDetailPage は項目の詳細ページを取得する。
// URI参照は通知エントリのリンク先ページ、数値ID参照はカレンダーエントリの
// 提出・受験ページを指す。URI参照はフィード本文由来のため、プラットフォームの
// 許可ホスト検証とSSRF防止付きクライアントを通す。
func (s *Session) FetchDetailPage(ctx context.Context, ref model.DetailRef) (string, error) {
	if err := s.requireAuthenticated("detail_page"); err != nil {
		return "", err
	}
	if ref.IsZero() {
		return "", &model.FetchError{Op: "detail_page", Err: errors.New("詳細ページ参照が空です")}
	}

	var pageURL string
	client := s.client

	switch ref.Kind {
	case model.DetailRefURI:
		resolved, err := s.resolveDetailURI(ref.Value)
		if err != nil {
			return "", &model.FetchError{Op: "detail_page", Err: err}
		}
		pageURL = resolved
		client = s.detailClient
	case model.DetailRefAttempt:
		pageURL = s.cfg.PlatformBaseURL + s.cfg.AttemptPath + "?content_id=" + url.QueryEscape(ref.Value)
	default:
		return "", &model.FetchError{Op: "detail_page", Err: fmt.Errorf("未知の参照種別です: %s", ref.Kind)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", &model.FetchError{Op: "detail_page", Err: err}
	}

	resp, err := s.do(ctx, client, req)
	if err != nil {
		return "", &model.FetchError{Op: "detail_page", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &model.FetchError{Op: "detail_page", StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", &model.FetchError{Op: "detail_page", Err: err}
	}

	return string(body), nil
}

// resolveDetailURI は通知エントリのURI参照をベースURLに対して解決し、
// 許可ホスト検証を行う。
func (s *Session) resolveDetailURI(rawURI string) (string, error) {
	base, err := url.Parse(s.cfg.PlatformBaseURL)
	if err != nil {
		return "", err
	}
	rel, err := url.Parse(rawURI)
	if err != nil {
		return "", fmt.Errorf("詳細ページURIが不正です: %w", err)
	}
	resolved := base.ResolveReference(rel).String()

	if err := s.guard.ValidateURL(resolved); err != nil {
		return "", fmt.Errorf("詳細ページURIの検証に失敗しました: %w", err)
	}
	return resolved, nil
}

// postForm はフォームPOSTを実行し、成功時のボディを返す。
// 非2xxはFetchErrorとする。
func (s *Session) postForm(ctx context.Context, op, targetURL string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, targetURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &model.FetchError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.do(ctx, s.client, req)
	if err != nil {
		return nil, &model.FetchError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &model.FetchError{Op: op, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &model.FetchError{Op: op, Err: err}
	}
	return body, nil
}

// do はレート制限とCookie状態の付け直し・取り込みを行ってリクエストを実行する。
func (s *Session) do(ctx context.Context, client *http.Client, req *http.Request) (*http.Response, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	s.state.Attach(req)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	s.state.Absorb(resp)
	return resp, nil
}

// requireAuthenticated はデータ操作の前提条件（PlatformAuthenticated）を検査する。
func (s *Session) requireAuthenticated(op string) error {
	if s.authState != StatePlatformAuthenticated {
		return &model.FetchError{Op: op, Err: errors.New("プラットフォーム認証が完了していません")}
	}
	return nil
}

// hostOf はURLからホスト名を取り出す。
func hostOf(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return parsed.Hostname(), nil
}
