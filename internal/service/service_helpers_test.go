package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"cardlink/internal/activity"
	"cardlink/internal/entity"
	"cardlink/internal/geoip"
	"cardlink/internal/repository"
	"cardlink/internal/testutil"
	"cardlink/internal/utils"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const testPassword = "correct horse battery"

var (
	testStart = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	testMeta  = activity.RequestMeta{
		RemoteAddr: "203.0.113.10:51000",
		UserAgent:  "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}
)

type unknownResolver struct{}

func (unknownResolver) Resolve(_ context.Context, ip string) geoip.Location {
	return geoip.Location{Country: geoip.Unknown, City: geoip.Unknown, IP: ip}
}

type sentEmail struct {
	kind string
	to   string
	link string
}

type captureEmail struct {
	mu   sync.Mutex
	sent []sentEmail
	err  error
}

func (c *captureEmail) add(kind, to, link string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, sentEmail{kind: kind, to: to, link: link})
	return c.err
}

func (c *captureEmail) SendVerificationEmail(_ context.Context, to, _ string, link string) error {
	return c.add("verify", to, link)
}

func (c *captureEmail) SendResetPasswordEmail(_ context.Context, to, _ string, link string) error {
	return c.add("reset", to, link)
}

func (c *captureEmail) SendAccountCreationEmail(_ context.Context, to, _ string, link string) error {
	return c.add("created", to, link)
}

func (c *captureEmail) last(t *testing.T, kind string) sentEmail {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.sent) - 1; i >= 0; i-- {
		if c.sent[i].kind == kind {
			return c.sent[i]
		}
	}
	t.Fatalf("no %s email sent", kind)
	return sentEmail{}
}

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	parsed, err := url.Parse(link)
	require.NoError(t, err)
	token := parsed.Query().Get("token")
	require.NotEmpty(t, token)
	return token
}

type notification struct {
	kind    string
	userID  uint
	enabled bool
}

type captureNotifier struct {
	mu     sync.Mutex
	events []notification
	err    error
}

func (n *captureNotifier) NotifyPasswordChanged(_ context.Context, userID uint) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notification{kind: "password", userID: userID})
	return n.err
}

func (n *captureNotifier) NotifyTwoFactorToggled(_ context.Context, userID uint, enabled bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, notification{kind: "2fa", userID: userID, enabled: enabled})
	return n.err
}

func (n *captureNotifier) snapshot() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.events...)
}

type harness struct {
	svc      *AuthService
	db       *gorm.DB
	accounts repository.AccountRepository
	logs     repository.ActivityLogRepository
	clock    *testutil.Clock
	email    *captureEmail
	notifier *captureNotifier
	totp     *TOTPAuthenticator
	sessions *utils.JWTManager
	pending  PendingTokenIssuerJWT
	hasher   BcryptPasswordHasher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := testutil.OpenDB(t)
	clock := testutil.NewClock(testStart)
	logger, _ := test.NewNullLogger()
	secret := []byte(strings.Repeat("s", utils.MinSigningKeyLength))

	h := &harness{
		db:       db,
		accounts: repository.NewAccountRepository(db),
		logs:     repository.NewActivityLogRepository(db),
		clock:    clock,
		email:    &captureEmail{},
		notifier: &captureNotifier{},
		totp:     NewTOTPAuthenticator("Cardlink", clock),
		sessions: &utils.JWTManager{Secret: secret, Issuer: "cardlink", Now: clock.Now},
		pending:  PendingTokenIssuerJWT{Secret: secret, Issuer: "cardlink", Clock: clock},
		hasher:   BcryptPasswordHasher{Cost: bcrypt.MinCost, Timeout: 5 * time.Second},
	}
	recorder := activity.NewLogRecorder(h.logs, unknownResolver{}, logger).WithClock(clock.Now)
	h.svc = NewAuthService(
		h.accounts,
		h.logs,
		recorder,
		h.email,
		h.notifier,
		h.hasher,
		JWTSessionIssuer{Manager: h.sessions},
		h.pending,
		h.totp,
		clock,
		AuthConfig{AppBaseURL: "https://app.example.com", VerifyPath: "/verify-email", ResetPath: "/reset-password", LoginPath: "/login"},
		logger,
	)
	return h
}

type accountOption func(*entity.Account)

func unverified(a *entity.Account) { a.IsVerified = false }
func deactivated(a *entity.Account) { a.IsActive = false }

func withRole(role entity.AccountRole) accountOption {
	return func(a *entity.Account) { a.Role = role }
}

func (h *harness) createAccount(t *testing.T, email string, options ...accountOption) *entity.Account {
	t.Helper()
	hash, err := h.hasher.Hash(context.Background(), testPassword)
	require.NoError(t, err)
	account := &entity.Account{
		Name:         "Test User",
		Email:        &email,
		PasswordHash: &hash,
		Role:         entity.AccountRoleUser,
		IsActive:     true,
		IsVerified:   true,
	}
	for _, option := range options {
		option(account)
	}
	require.NoError(t, h.accounts.Create(context.Background(), account))
	return account
}

// enableTwoFactor drives setup and confirmation and returns the secret and
// recovery codes.
func (h *harness) enableTwoFactor(t *testing.T, account *entity.Account) (string, []string) {
	t.Helper()
	ctx := context.Background()
	setup, err := h.svc.SetupTwoFactor(ctx, account.ID)
	require.NoError(t, err)
	code, err := h.totp.CodeAt(setup.Secret, h.clock.Now())
	require.NoError(t, err)
	codes, err := h.svc.EnableTwoFactor(ctx, account.ID, code, testMeta)
	require.NoError(t, err)
	return setup.Secret, codes
}

func (h *harness) reload(t *testing.T, id uint) *entity.Account {
	t.Helper()
	account, err := h.accounts.FindByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, account)
	return account
}

func (h *harness) activities(t *testing.T, userID uint) []entity.ActivityLog {
	t.Helper()
	logs, err := h.logs.List(context.Background(), repository.ActivityFilter{UserID: userID})
	require.NoError(t, err)
	return logs
}

func (h *harness) anonymousActivities(t *testing.T) []entity.ActivityLog {
	t.Helper()
	var logs []entity.ActivityLog
	require.NoError(t, h.db.Where("user_id IS NULL").Order("created_at DESC").Find(&logs).Error)
	return logs
}

func countActivity(logs []entity.ActivityLog, activityType entity.ActivityType) int {
	count := 0
	for _, log := range logs {
		if log.Activity == activityType {
			count++
		}
	}
	return count
}

func detail(t *testing.T, log entity.ActivityLog, key string) any {
	t.Helper()
	var details map[string]any
	require.NoError(t, json.Unmarshal(log.Metadata, &details))
	return details[key]
}

var errBoom = errors.New("boom")
