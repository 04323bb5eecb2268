package check

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/classwatch/internal/model"
	"github.com/hitoshi/classwatch/internal/vault"
)

// --- モック定義 ---

// mockIdentityRepo はIdentityRepositoryのテスト用モック。
type mockIdentityRepo struct {
	listIdentitiesFunc func(ctx context.Context) ([]*model.Identity, error)
	findCredentialFunc func(ctx context.Context, identityID string) (*model.Credential, error)
	findPolicyFunc     func(ctx context.Context, identityID string) (*model.NotificationPolicy, error)
}

func (m *mockIdentityRepo) ListIdentities(ctx context.Context) ([]*model.Identity, error) {
	if m.listIdentitiesFunc != nil {
		return m.listIdentitiesFunc(ctx)
	}
	return nil, nil
}

func (m *mockIdentityRepo) FindCredential(ctx context.Context, identityID string) (*model.Credential, error) {
	if m.findCredentialFunc != nil {
		return m.findCredentialFunc(ctx, identityID)
	}
	return nil, nil
}

func (m *mockIdentityRepo) FindPolicy(ctx context.Context, identityID string) (*model.NotificationPolicy, error) {
	if m.findPolicyFunc != nil {
		return m.findPolicyFunc(ctx, identityID)
	}
	return nil, nil
}

// mockRecordRepo はRecordRepositoryのテスト用モック。
type mockRecordRepo struct {
	created []*model.Record
}

func (m *mockRecordRepo) ListRemoteIDs(ctx context.Context, identityID string, kind model.FeedKind) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

func (m *mockRecordRepo) Create(ctx context.Context, record *model.Record) error {
	m.created = append(m.created, record)
	return nil
}

func (m *mockRecordRepo) IsInitialized(ctx context.Context, identityID string, kind model.FeedKind) (bool, error) {
	return true, nil
}

func (m *mockRecordRepo) MarkInitialized(ctx context.Context, identityID string, kind model.FeedKind) error {
	return nil
}

// mockSink はMessageSinkのテスト用モック。
type mockSink struct {
	delivered []string
}

func (m *mockSink) Deliver(ctx context.Context, identityID, text string) error {
	m.delivered = append(m.delivered, text)
	return nil
}

// mockMetrics はMetricsCollectorのテスト用モック。
type mockMetrics struct {
	successes      int
	failureReasons []string
}

func (m *mockMetrics) RecordCheckSuccess(identityID string) { m.successes++ }
func (m *mockMetrics) RecordCheckFailure(identityID string, reason string) {
	m.failureReasons = append(m.failureReasons, reason)
}
func (m *mockMetrics) RecordFeedFetchFailure(kind string)        {}
func (m *mockMetrics) RecordEnrichmentFailure()                  {}
func (m *mockMetrics) RecordNotificationDelivered()              {}
func (m *mockMetrics) RecordCheckLatency(duration time.Duration) {}

// mockSession はPlatformSessionのテスト用モック。
type mockSession struct {
	loginFunc        func(ctx context.Context, username, secret string) error
	noticeFeedFunc   func(ctx context.Context) (*model.NoticeFeed, error)
	calendarFeedFunc func(ctx context.Context, lookaheadHours int) ([]model.CalendarEntry, error)
}

func (m *mockSession) Login(ctx context.Context, username, secret string) error {
	if m.loginFunc != nil {
		return m.loginFunc(ctx, username, secret)
	}
	return nil
}

func (m *mockSession) FetchNoticeFeed(ctx context.Context) (*model.NoticeFeed, error) {
	if m.noticeFeedFunc != nil {
		return m.noticeFeedFunc(ctx)
	}
	return &model.NoticeFeed{}, nil
}

func (m *mockSession) FetchCalendarFeed(ctx context.Context, lookaheadHours int) ([]model.CalendarEntry, error) {
	if m.calendarFeedFunc != nil {
		return m.calendarFeedFunc(ctx, lookaheadHours)
	}
	return nil, nil
}

func (m *mockSession) FetchDetailPage(ctx context.Context, ref model.DetailRef) (string, error) {
	return "", nil
}

// --- テストヘルパー ---

const testVaultKey = "test-vault-key"

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func encryptedCredential(t *testing.T, identityID, username, secret string) *model.Credential {
	t.Helper()
	enc, err := vault.Encrypt(secret, testVaultKey)
	if err != nil {
		t.Fatalf("認証情報の暗号化に失敗: %v", err)
	}
	return &model.Credential{IdentityID: identityID, Username: username, SecretEnc: enc}
}

func newTestChecker(identityRepo *mockIdentityRepo, sess *mockSession) (*Checker, *mockSink, *mockMetrics) {
	sink := &mockSink{}
	collector := &mockMetrics{}
	checker := NewChecker(
		identityRepo,
		&mockRecordRepo{},
		sink,
		collector,
		func() PlatformSession { return sess },
		testVaultKey,
		newTestLogger(),
	)
	return checker, sink, collector
}

// --- チェッカーのテスト ---

func TestCheckIdentity_Success(t *testing.T) {
	identity := &model.Identity{ID: "id-1"}
	var gotUsername, gotSecret string

	identityRepo := &mockIdentityRepo{
		findCredentialFunc: func(ctx context.Context, identityID string) (*model.Credential, error) {
			return encryptedCredential(t, identityID, "alice", "s3cret"), nil
		},
	}
	sess := &mockSession{
		loginFunc: func(ctx context.Context, username, secret string) error {
			gotUsername, gotSecret = username, secret
			return nil
		},
	}
	checker, sink, collector := newTestChecker(identityRepo, sess)

	if err := checker.CheckIdentity(context.Background(), identity); err != nil {
		t.Fatalf("CheckIdentity がエラーを返した: %v", err)
	}

	if gotUsername != "alice" || gotSecret != "s3cret" {
		t.Errorf("Login(%q, %q), want (%q, %q)", gotUsername, gotSecret, "alice", "s3cret")
	}
	if len(sink.delivered) != 0 {
		t.Errorf("len(delivered) = %d, want 0", len(sink.delivered))
	}
	if collector.successes != 1 {
		t.Errorf("successes = %d, want 1", collector.successes)
	}
}

func TestCheckIdentity_NoCredentialSkips(t *testing.T) {
	identity := &model.Identity{ID: "id-1"}
	loginCalled := false

	identityRepo := &mockIdentityRepo{}
	sess := &mockSession{
		loginFunc: func(ctx context.Context, username, secret string) error {
			loginCalled = true
			return nil
		},
	}
	checker, sink, _ := newTestChecker(identityRepo, sess)

	if err := checker.CheckIdentity(context.Background(), identity); err != nil {
		t.Fatalf("CheckIdentity がエラーを返した: %v", err)
	}
	if loginCalled {
		t.Error("認証情報なしでログインが試行された")
	}
	if len(sink.delivered) != 0 {
		t.Errorf("len(delivered) = %d, want 0", len(sink.delivered))
	}
}

func TestCheckIdentity_DecryptFailureAlertsUser(t *testing.T) {
	identity := &model.Identity{ID: "id-1"}

	identityRepo := &mockIdentityRepo{
		findCredentialFunc: func(ctx context.Context, identityID string) (*model.Credential, error) {
			return &model.Credential{IdentityID: identityID, Username: "alice", SecretEnc: "broken"}, nil
		},
	}
	checker, sink, collector := newTestChecker(identityRepo, &mockSession{})

	if err := checker.CheckIdentity(context.Background(), identity); err == nil {
		t.Fatal("復号失敗でエラーが返らなかった")
	}

	if len(sink.delivered) != 1 {
		t.Fatalf("len(delivered) = %d, want 1", len(sink.delivered))
	}
	if !strings.Contains(sink.delivered[0], "復号") {
		t.Errorf("復号失敗の通知ではない: %q", sink.delivered[0])
	}
	if len(collector.failureReasons) != 1 || collector.failureReasons[0] != "decrypt" {
		t.Errorf("failureReasons = %v, want [decrypt]", collector.failureReasons)
	}
}

func TestCheckIdentity_AuthRejectionAlertsUser(t *testing.T) {
	identity := &model.Identity{ID: "id-1"}

	identityRepo := &mockIdentityRepo{
		findCredentialFunc: func(ctx context.Context, identityID string) (*model.Credential, error) {
			return encryptedCredential(t, identityID, "alice", "stale-password"), nil
		},
	}
	sess := &mockSession{
		loginFunc: func(ctx context.Context, username, secret string) error {
			return &model.AuthenticationError{Username: username, Reason: "認証情報が拒否されました"}
		},
	}
	checker, sink, collector := newTestChecker(identityRepo, sess)

	if err := checker.CheckIdentity(context.Background(), identity); err == nil {
		t.Fatal("認証拒否でエラーが返らなかった")
	}

	if len(sink.delivered) != 1 {
		t.Fatalf("len(delivered) = %d, want 1", len(sink.delivered))
	}
	if !strings.Contains(sink.delivered[0], "ログイン") {
		t.Errorf("ログイン失敗の通知ではない: %q", sink.delivered[0])
	}
	if len(collector.failureReasons) != 1 || collector.failureReasons[0] != "auth" {
		t.Errorf("failureReasons = %v, want [auth]", collector.failureReasons)
	}
}

func TestCheckIdentity_TransportFailureDoesNotAlert(t *testing.T) {
	identity := &model.Identity{ID: "id-1"}

	identityRepo := &mockIdentityRepo{
		findCredentialFunc: func(ctx context.Context, identityID string) (*model.Credential, error) {
			return encryptedCredential(t, identityID, "alice", "s3cret"), nil
		},
	}
	sess := &mockSession{
		loginFunc: func(ctx context.Context, username, secret string) error {
			return &model.TransportError{Op: "idp_login", Err: errors.New("connection refused")}
		},
	}
	checker, sink, collector := newTestChecker(identityRepo, sess)

	if err := checker.CheckIdentity(context.Background(), identity); err == nil {
		t.Fatal("トランスポート障害でエラーが返らなかった")
	}

	// 一時的な障害は本人に通知しない
	if len(sink.delivered) != 0 {
		t.Errorf("len(delivered) = %d, want 0", len(sink.delivered))
	}
	if len(collector.failureReasons) != 1 || collector.failureReasons[0] != "transport" {
		t.Errorf("failureReasons = %v, want [transport]", collector.failureReasons)
	}
}

func TestCheckIdentity_FeedFailuresAreIndependent(t *testing.T) {
	identity := &model.Identity{ID: "id-1"}
	calendarCalled := false

	identityRepo := &mockIdentityRepo{
		findCredentialFunc: func(ctx context.Context, identityID string) (*model.Credential, error) {
			return encryptedCredential(t, identityID, "alice", "s3cret"), nil
		},
	}
	sess := &mockSession{
		noticeFeedFunc: func(ctx context.Context) (*model.NoticeFeed, error) {
			return nil, &model.FetchError{Op: "stream_load", StatusCode: 502}
		},
		calendarFeedFunc: func(ctx context.Context, lookaheadHours int) ([]model.CalendarEntry, error) {
			calendarCalled = true
			return nil, nil
		},
	}
	checker, _, _ := newTestChecker(identityRepo, sess)

	if err := checker.CheckIdentity(context.Background(), identity); err == nil {
		t.Fatal("通知ストリームの失敗でエラーが返らなかった")
	}
	if !calendarCalled {
		t.Error("通知ストリームの失敗がカレンダー同期を妨げた")
	}
}

func TestCheckIdentity_UsesDefaultPolicyWhenMissing(t *testing.T) {
	identity := &model.Identity{ID: "id-1"}

	identityRepo := &mockIdentityRepo{
		findCredentialFunc: func(ctx context.Context, identityID string) (*model.Credential, error) {
			return encryptedCredential(t, identityID, "alice", "s3cret"), nil
		},
	}
	var gotLookahead int
	sess := &mockSession{
		calendarFeedFunc: func(ctx context.Context, lookaheadHours int) ([]model.CalendarEntry, error) {
			gotLookahead = lookaheadHours
			return nil, nil
		},
	}
	checker, _, _ := newTestChecker(identityRepo, sess)

	if err := checker.CheckIdentity(context.Background(), identity); err != nil {
		t.Fatalf("CheckIdentity がエラーを返した: %v", err)
	}
	if gotLookahead != model.DefaultLookaheadHours {
		t.Errorf("lookaheadHours = %d, want %d", gotLookahead, model.DefaultLookaheadHours)
	}
}
