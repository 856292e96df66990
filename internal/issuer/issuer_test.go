// ABOUTME: Tests for the issuance coordinator
// ABOUTME: Covers claim-to-ledger flow, failure recovery, resolution, and audit emission

package issuer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/keydrop/internal/audit"
	"github.com/2389/keydrop/internal/auth"
	"github.com/2389/keydrop/internal/keygen"
	"github.com/2389/keydrop/internal/store"
)

const (
	adminID = "@ops:example.com"
	userID  = "@alice:example.com"
)

// recordingSink captures emitted audit events for assertions.
type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingSink) Emit(_ context.Context, ev audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) byAction(action store.AuditAction) []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Event
	for _, ev := range r.events {
		if ev.Action == action {
			out = append(out, ev)
		}
	}
	return out
}

type testEnv struct {
	svc   *Service
	store *store.MockStore
	sink  *recordingSink
}

func newTestService(t *testing.T, opts ...func(*Config)) *testEnv {
	t.Helper()
	env := &testEnv{
		store: store.NewMockStore(),
		sink:  &recordingSink{},
	}
	cfg := Config{
		Store:       env.store,
		Keygen:      keygen.New(keygen.DefaultLength),
		Audit:       env.sink,
		Admins:      auth.NewAllowlist([]string{adminID}),
		SiteBaseURL: "https://account.example.com",
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	env.svc = New(cfg)
	return env
}

func seedPool(t *testing.T, env *testEnv, values ...string) {
	t.Helper()
	n, err := env.store.EnqueueEntries(context.Background(), values, "seed")
	require.NoError(t, err)
	require.Equal(t, len(values), n)
}

func TestIssue(t *testing.T) {
	env := newTestService(t)
	seedPool(t, env, "alice@example.com:hunter2")

	issued, err := env.svc.Issue(context.Background(), Actor{ID: userID, Handle: "alice"})
	require.NoError(t, err)

	assert.Len(t, issued.Token.Token, keygen.DefaultLength)
	assert.Equal(t, "alice@example.com", issued.Token.Login)
	assert.Equal(t, "hunter2", issued.Token.Secret)
	assert.Equal(t, userID, issued.Token.OwnerID)
	assert.Equal(t, "alice", issued.Token.OwnerHandle)
	assert.Equal(t, "https://account.example.com/"+issued.Token.Token, issued.Link)

	// Ledger has the record
	stored, err := env.store.GetToken(context.Background(), issued.Token.Token)
	require.NoError(t, err)
	assert.True(t, stored.Active())

	// Pool is drained
	count, err := env.store.CountUnclaimed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	// Audit trail records the issuance
	events := env.sink.byAction(store.AuditIssued)
	require.Len(t, events, 1)
	assert.Equal(t, userID, events[0].ActorID)
	assert.Equal(t, issued.Token.Token, events[0].TargetID)
}

func TestIssue_EmptyPool(t *testing.T) {
	env := newTestService(t)

	_, err := env.svc.Issue(context.Background(), Actor{ID: userID})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNoEntries)

	// Nothing reached the ledger
	tokens, err := env.store.ListTokens(context.Background(), 10, false)
	require.NoError(t, err)
	assert.Empty(t, tokens)

	// The empty-pool hit is audited
	assert.Len(t, env.sink.byAction(store.AuditPoolEmpty), 1)
}

func TestIssue_FIFO(t *testing.T) {
	env := newTestService(t)
	seedPool(t, env, "first:s1", "second:s2", "third:s3")

	for _, wantLogin := range []string{"first", "second", "third"} {
		issued, err := env.svc.Issue(context.Background(), Actor{ID: userID})
		require.NoError(t, err)
		assert.Equal(t, wantLogin, issued.Token.Login)
	}
}

func TestIssue_NoSeparator(t *testing.T) {
	env := newTestService(t)
	seedPool(t, env, "bare-secret-value")

	issued, err := env.svc.Issue(context.Background(), Actor{ID: userID})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(issued.Token.Login, "user-"), "login should be synthesized")
	assert.Equal(t, "bare-secret-value", issued.Token.Secret)
}

func TestIssue_SecretKeepsColons(t *testing.T) {
	env := newTestService(t)
	seedPool(t, env, "login:sec:ret")

	issued, err := env.svc.Issue(context.Background(), Actor{ID: userID})
	require.NoError(t, err)

	assert.Equal(t, "login", issued.Token.Login)
	assert.Equal(t, "sec:ret", issued.Token.Secret)
}

// failingLedger makes InsertToken fail a fixed number of times.
type failingLedger struct {
	*store.MockStore
	failures int
	err      error
}

func (f *failingLedger) InsertToken(ctx context.Context, tok *store.Token) error {
	if f.failures > 0 {
		f.failures--
		return f.err
	}
	return f.MockStore.InsertToken(ctx, tok)
}

func TestIssue_LedgerFailureRequeuesEntry(t *testing.T) {
	env := newTestService(t)
	ledger := &failingLedger{
		MockStore: env.store,
		failures:  insertRetryAttempts,
		err:       errors.New("disk full"),
	}
	env.svc.store = ledger

	seedPool(t, env, "alice:hunter2")

	_, err := env.svc.Issue(context.Background(), Actor{ID: userID})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	// The claimed credential went back to the pool
	count, err := env.store.CountUnclaimed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count, "failed issuance should re-enqueue the credential")

	// The returned entry is claimable again
	entry, err := env.store.ClaimEntry(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "alice:hunter2", entry.Value)

	// Failure is audited with the requeue outcome
	events := env.sink.byAction(store.AuditIssueFailed)
	require.Len(t, events, 1)
	assert.Equal(t, true, events[0].Detail["requeued"])
}

func TestIssue_TokenCollisionRegenerates(t *testing.T) {
	env := newTestService(t)
	ledger := &failingLedger{
		MockStore: env.store,
		failures:  1,
		err:       store.ErrTokenExists,
	}
	env.svc.store = ledger

	seedPool(t, env, "alice:hunter2")

	issued, err := env.svc.Issue(context.Background(), Actor{ID: userID})
	require.NoError(t, err, "a single collision should be absorbed by regeneration")
	assert.Equal(t, "alice", issued.Token.Login)

	assert.Empty(t, env.sink.byAction(store.AuditIssueFailed))
}

func TestIssue_NoAuditSink(t *testing.T) {
	env := newTestService(t, func(cfg *Config) { cfg.Audit = nil })
	seedPool(t, env, "alice:hunter2")

	_, err := env.svc.Issue(context.Background(), Actor{ID: userID})
	require.NoError(t, err, "issuance must work without an audit sink")
}

func TestIssue_ConcurrentAtMostOnce(t *testing.T) {
	env := newTestService(t)
	seedPool(t, env, "a:1", "b:2", "c:3", "d:4")

	const claimants = 10
	results := make(chan error, claimants)
	logins := make(chan string, claimants)

	var wg sync.WaitGroup
	wg.Add(claimants)
	for i := 0; i < claimants; i++ {
		go func(n int) {
			defer wg.Done()
			issued, err := env.svc.Issue(context.Background(), Actor{ID: userID})
			results <- err
			if err == nil {
				logins <- issued.Token.Login
			}
		}(i)
	}
	wg.Wait()
	close(results)
	close(logins)

	var succeeded, exhausted int
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrNoEntries):
			exhausted++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 4, succeeded, "every pool entry should be issued exactly once")
	assert.Equal(t, claimants-4, exhausted)

	// No credential was handed out twice
	seen := make(map[string]bool)
	for login := range logins {
		assert.False(t, seen[login], "login %q issued twice", login)
		seen[login] = true
	}
}

func TestResolve(t *testing.T) {
	env := newTestService(t)
	seedPool(t, env, "alice:hunter2")

	issued, err := env.svc.Issue(context.Background(), Actor{ID: userID})
	require.NoError(t, err)

	tok, err := env.svc.Resolve(context.Background(), issued.Token.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(1), tok.AccessCount)
	require.NotNil(t, tok.LastAccessAt)

	tok, err = env.svc.Resolve(context.Background(), issued.Token.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(2), tok.AccessCount)

	assert.Len(t, env.sink.byAction(store.AuditResolved), 2)
}

func TestResolve_Revoked(t *testing.T) {
	env := newTestService(t)
	seedPool(t, env, "alice:hunter2")

	issued, err := env.svc.Issue(context.Background(), Actor{ID: userID})
	require.NoError(t, err)

	_, err = env.svc.Revoke(context.Background(), Actor{ID: adminID}, issued.Token.Token)
	require.NoError(t, err)

	_, err = env.svc.Resolve(context.Background(), issued.Token.Token)
	assert.ErrorIs(t, err, store.ErrTokenRevoked)

	// Revoked resolution attempts leave the counters alone
	tok, err := env.store.GetToken(context.Background(), issued.Token.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(0), tok.AccessCount)
}

func TestResolve_NotFound(t *testing.T) {
	env := newTestService(t)

	_, err := env.svc.Resolve(context.Background(), "missing-token")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
