package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	accountdomain "account-lifecycle/internal/account/domain"
	"account-lifecycle/internal/audit"
	"account-lifecycle/internal/lockout"
	"account-lifecycle/internal/platform/apperr"
	"account-lifecycle/internal/security"
	"account-lifecycle/internal/store"
	"account-lifecycle/internal/store/memstore"
)

const testPassword = "Correct-Horse-42"

func newTestAuth(t *testing.T) (*AuthService, *store.Backend) {
	t.Helper()
	b := memstore.New().Backend()
	hasher := security.NewHasher(4)
	hash, err := hasher.Hash([]byte(testPassword))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	ctx := context.Background()
	for _, a := range []*accountdomain.Account{
		{ID: "u1", Email: "user@example.com", PasswordHash: hash},
		{ID: "u2", Email: "suspended@example.com", PasswordHash: hash, Status: accountdomain.StatusSuspended},
		{ID: "u3", Email: "banned@example.com", PasswordHash: hash, BanState: accountdomain.BanSoftbanned},
	} {
		if err := b.Accounts.Create(ctx, a); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	auditLogger := audit.NewLogger(b.Audit, zerolog.Nop())
	tracker := lockout.NewTracker(b.Accounts, auditLogger, zerolog.Nop(), 3, 15*time.Minute)
	svc := NewAuthService(b.Accounts, b.Sessions, tracker, hasher, tokens, auditLogger, zerolog.Nop(), time.Hour)
	return svc, b
}

func TestSignIn_Success(t *testing.T) {
	svc, b := newTestAuth(t)
	ctx := audit.WithIP(context.Background(), "203.0.113.7")

	res, err := svc.SignIn(ctx, " USER@example.com ", testPassword)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if res.AccessToken == "" || res.SessionID == "" {
		t.Fatalf("empty token or session: %+v", res)
	}
	if res.Account.ID != "u1" {
		t.Errorf("account = %q, want u1", res.Account.ID)
	}
	sess, err := b.Sessions.GetByID(ctx, res.SessionID)
	if err != nil || sess == nil {
		t.Fatalf("session not stored: %v", err)
	}
	if sess.IPAddress != "203.0.113.7" {
		t.Errorf("IPAddress = %q", sess.IPAddress)
	}
	sid, aid, err := svc.tokens.ValidateAccess(res.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if sid != res.SessionID || aid != "u1" {
		t.Errorf("token names (%q, %q)", sid, aid)
	}
	entries, _ := b.Audit.ListByAccount(ctx, "u1", 10, 0)
	if len(entries) != 1 || entries[0].Action != audit.ActionSignIn {
		t.Errorf("audit entries = %+v", entries)
	}
}

func TestSignIn_RejectsWithoutRevealingAccount(t *testing.T) {
	svc, _ := newTestAuth(t)
	ctx := context.Background()
	for _, tc := range []struct {
		name, email, password string
	}{
		{"unknown email", "nobody@example.com", testPassword},
		{"soft-banned", "banned@example.com", testPassword},
		{"wrong password", "user@example.com", "Wrong-Horse-42"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SignIn(ctx, tc.email, tc.password)
			if !errors.Is(err, apperr.ErrInvalidCredential) {
				t.Fatalf("err = %v, want ErrInvalidCredential", err)
			}
			if e, _ := apperr.As(err); e.Message != "invalid email or password" {
				t.Errorf("message = %q", e.Message)
			}
		})
	}
}

func TestSignIn_Suspended(t *testing.T) {
	svc, _ := newTestAuth(t)
	_, err := svc.SignIn(context.Background(), "suspended@example.com", testPassword)
	if !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestSignIn_LockoutAfterThreshold(t *testing.T) {
	svc, b := newTestAuth(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := svc.SignIn(ctx, "user@example.com", "nope"); !errors.Is(err, apperr.ErrInvalidCredential) {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	_, err := svc.SignIn(ctx, "user@example.com", "nope")
	if !errors.Is(err, apperr.ErrUnauthorized) || !strings.Contains(err.Error(), "locked: ~15 minutes remaining") {
		t.Fatalf("third failure err = %v, want lockout", err)
	}
	// The right password is refused while locked.
	if _, err := svc.SignIn(ctx, "user@example.com", testPassword); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("locked sign-in err = %v", err)
	}
	a, _ := b.Accounts.GetByID(ctx, "u1")
	if a.LockoutUntil == nil || a.FailedLoginCount != 0 {
		t.Errorf("login state = (%d, %v)", a.FailedLoginCount, a.LockoutUntil)
	}
}

func TestSignIn_SuccessResetsCounter(t *testing.T) {
	svc, b := newTestAuth(t)
	ctx := context.Background()
	if _, err := svc.SignIn(ctx, "user@example.com", "nope"); err == nil {
		t.Fatal("expected failure")
	}
	if _, err := svc.SignIn(ctx, "user@example.com", testPassword); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	a, _ := b.Accounts.GetByID(ctx, "u1")
	if a.FailedLoginCount != 0 {
		t.Errorf("FailedLoginCount = %d, want 0", a.FailedLoginCount)
	}
}

func TestSignIn_MissingFields(t *testing.T) {
	svc, _ := newTestAuth(t)
	if _, err := svc.SignIn(context.Background(), "", ""); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestSignOut_RevokesOnlyCurrentSession(t *testing.T) {
	svc, b := newTestAuth(t)
	ctx := context.Background()
	first, err := svc.SignIn(ctx, "user@example.com", testPassword)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	second, err := svc.SignIn(ctx, "user@example.com", testPassword)
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	if err := svc.SignOut(ctx, accountdomain.Actor{ID: "u1", SessionID: first.SessionID}); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	now := time.Now()
	s1, _ := b.Sessions.GetByID(ctx, first.SessionID)
	s2, _ := b.Sessions.GetByID(ctx, second.SessionID)
	if s1.Active(now) {
		t.Error("signed-out session still active")
	}
	if !s2.Active(now) {
		t.Error("other session was revoked")
	}
	if err := svc.SignOut(ctx, accountdomain.Actor{ID: "u1"}); err != nil {
		t.Errorf("SignOut without session: %v", err)
	}
}

func TestSignIn_ParallelWrongPasswordsLock(t *testing.T) {
	svc, b := newTestAuth(t)
	ctx := context.Background()

	const attempts = 40
	var (
		wg     sync.WaitGroup
		start  = make(chan struct{})
		errsMu sync.Mutex
		locked int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.SignIn(ctx, "user@example.com", "wrong-password")
			if err == nil {
				t.Error("wrong password signed in")
				return
			}
			if strings.Contains(err.Error(), "remaining") {
				errsMu.Lock()
				locked++
				errsMu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	a, err := b.Accounts.GetByID(ctx, "u1")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if a.LockoutUntil == nil || !a.Locked(time.Now().UTC()) {
		t.Fatalf("account not locked after %d parallel failures", attempts)
	}
	// At most threshold-1 failures can be answered with plain invalid credentials.
	if locked < attempts-2 {
		t.Errorf("locked answers = %d, want at least %d", locked, attempts-2)
	}
	if _, err := svc.SignIn(ctx, "user@example.com", testPassword); err == nil {
		t.Error("correct password accepted while locked")
	}
}
