// ABOUTME: Tests for the allow-list gated admin operations
// ABOUTME: Covers upload, revoke, info, list, search, stock, and permission denials

package issuer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/keydrop/internal/store"
)

func TestUpload(t *testing.T) {
	env := newTestService(t)

	text := "alice:s1\n\nbob:s2\n   \ncarol:s3\n"
	n, err := env.svc.Upload(context.Background(), Actor{ID: adminID, Handle: "ops"}, text)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "blank lines should be discarded")

	count, err := env.store.CountUnclaimed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	events := env.sink.byAction(store.AuditUploaded)
	require.Len(t, events, 1)
	assert.Equal(t, adminID, events[0].ActorID)
	assert.NotEmpty(t, events[0].TargetID, "upload audit should carry the batch id")
	assert.EqualValues(t, 3, events[0].Detail["count"])
}

func TestUpload_WindowsLineEndings(t *testing.T) {
	env := newTestService(t)

	n, err := env.svc.Upload(context.Background(), Actor{ID: adminID}, "alice:s1\r\nbob:s2\r\n")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	entry, err := env.store.ClaimEntry(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, "alice:s1", entry.Value, "carriage returns should be stripped")
}

func TestUpload_NotAdmin(t *testing.T) {
	env := newTestService(t)

	_, err := env.svc.Upload(context.Background(), Actor{ID: userID}, "alice:s1\n")
	assert.ErrorIs(t, err, ErrPermissionDenied)

	count, err := env.store.CountUnclaimed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count, "denied upload must not touch the pool")
}

func TestUpload_NoUsableLines(t *testing.T) {
	env := newTestService(t)

	for _, text := range []string{"", "\n\n\n", "   \n\t\n"} {
		n, err := env.svc.Upload(context.Background(), Actor{ID: adminID}, text)
		assert.ErrorIs(t, err, ErrMalformedUpload)
		assert.Equal(t, 0, n)
	}

	count, err := env.store.CountUnclaimed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count, "rejected upload must not touch the pool")
}

func TestRevoke(t *testing.T) {
	env := newTestService(t)
	seedPool(t, env, "alice:hunter2")

	issued, err := env.svc.Issue(context.Background(), Actor{ID: userID})
	require.NoError(t, err)

	tok, err := env.svc.Revoke(context.Background(), Actor{ID: adminID}, issued.Token.Token)
	require.NoError(t, err)
	assert.Equal(t, store.TokenStatusRevoked, tok.Status)
	assert.Equal(t, adminID, tok.RevokedBy)
	require.NotNil(t, tok.RevokedAt)

	assert.Len(t, env.sink.byAction(store.AuditRevoked), 1)
}

func TestRevoke_Idempotent(t *testing.T) {
	env := newTestService(t)
	seedPool(t, env, "alice:hunter2")

	issued, err := env.svc.Issue(context.Background(), Actor{ID: userID})
	require.NoError(t, err)

	first, err := env.svc.Revoke(context.Background(), Actor{ID: adminID}, issued.Token.Token)
	require.NoError(t, err)

	// A second revocation succeeds but keeps the original revocation record
	second, err := env.svc.Revoke(context.Background(), Actor{ID: adminID}, issued.Token.Token)
	require.NoError(t, err)
	assert.Equal(t, first.RevokedBy, second.RevokedBy)
	assert.True(t, first.RevokedAt.Equal(*second.RevokedAt))
}

func TestRevoke_NotAdmin(t *testing.T) {
	env := newTestService(t)
	seedPool(t, env, "alice:hunter2")

	issued, err := env.svc.Issue(context.Background(), Actor{ID: userID})
	require.NoError(t, err)

	_, err = env.svc.Revoke(context.Background(), Actor{ID: userID}, issued.Token.Token)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	tok, err := env.store.GetToken(context.Background(), issued.Token.Token)
	require.NoError(t, err)
	assert.True(t, tok.Active(), "denied revoke must not change the token")
}

func TestRevoke_NotFound(t *testing.T) {
	env := newTestService(t)

	_, err := env.svc.Revoke(context.Background(), Actor{ID: adminID}, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestInfo(t *testing.T) {
	env := newTestService(t)
	seedPool(t, env, "alice@example.com:hunter2")

	issued, err := env.svc.Issue(context.Background(), Actor{ID: userID, Handle: "alice"})
	require.NoError(t, err)

	tok, err := env.svc.Info(context.Background(), Actor{ID: adminID}, issued.Token.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", tok.Login)
	assert.Equal(t, "alice", tok.OwnerHandle)
}

func TestInfo_NotAdmin(t *testing.T) {
	env := newTestService(t)

	_, err := env.svc.Info(context.Background(), Actor{ID: userID}, "whatever")
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestList(t *testing.T) {
	env := newTestService(t)
	seedPool(t, env, "a:1", "b:2", "c:3")

	for i := 0; i < 3; i++ {
		_, err := env.svc.Issue(context.Background(), Actor{ID: userID})
		require.NoError(t, err)
	}

	tokens, err := env.svc.List(context.Background(), Actor{ID: adminID}, 2, false)
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, "c", tokens[0].Login, "newest token should come first")
	assert.Equal(t, "b", tokens[1].Login)
}

func TestList_NotAdmin(t *testing.T) {
	env := newTestService(t)

	_, err := env.svc.List(context.Background(), Actor{ID: userID}, 10, false)
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestSearch(t *testing.T) {
	env := newTestService(t)
	seedPool(t, env, "a:1", "b:2")

	_, err := env.svc.Issue(context.Background(), Actor{ID: "@alice:example.com", Handle: "alice"})
	require.NoError(t, err)
	_, err = env.svc.Issue(context.Background(), Actor{ID: "@bob:example.com", Handle: "bob"})
	require.NoError(t, err)

	tokens, err := env.svc.Search(context.Background(), Actor{ID: adminID}, "alice")
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, "@alice:example.com", tokens[0].OwnerID)
}

func TestSearch_NotAdmin(t *testing.T) {
	env := newTestService(t)

	_, err := env.svc.Search(context.Background(), Actor{ID: userID}, "alice")
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestStock_AdminOnlyByDefault(t *testing.T) {
	env := newTestService(t)
	seedPool(t, env, "a:1", "b:2")

	_, err := env.svc.Stock(context.Background(), Actor{ID: userID})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	count, err := env.svc.Stock(context.Background(), Actor{ID: adminID})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestStock_Public(t *testing.T) {
	env := newTestService(t, func(cfg *Config) { cfg.StockPublic = true })
	seedPool(t, env, "a:1", "b:2")

	count, err := env.svc.Stock(context.Background(), Actor{ID: userID})
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}
