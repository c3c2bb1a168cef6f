package resource

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokensJSON(entries ...[3]string) string {
	s := "["
	for i, e := range entries {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf(`{"tokenType":"Bearer","accessToken":%q,"_authority":%q,"expiresOn":%q}`, e[0], e[1], e[2])
	}
	return s + "]"
}

func localStamp(t time.Time) string {
	return t.In(time.Local).Format("2006-01-02 15:04:05.000000")
}

func TestLoginWatcherLookup(t *testing.T) {
	dir := t.TempDir()
	future := localStamp(time.Now().Add(time.Hour))
	past := localStamp(time.Now().Add(-time.Hour))
	writeFile(t, filepath.Join(dir, "accessTokens.json"), "\ufeff"+tokensJSON(
		[3]string{"tok-1", "https://login.microsoftonline.com/tenant-1", future},
		[3]string{"tok-2", "https://login.microsoftonline.com/tenant-2", past},
	))

	w := NewLoginWatcher(dir, LoginOptions{WatchOptions: WatchOptions{Debounce: time.Hour}})
	defer w.Close()

	cred, err := w.Lookup(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", cred.Token)

	_, err = w.Lookup(context.Background(), "tenant-2")
	assert.True(t, errors.Is(err, ErrNotLoggedIn))
}

func TestLoginWatcherAuthority(t *testing.T) {
	w := NewLoginWatcher(t.TempDir(), LoginOptions{AuthorityHost: "https://login.example/"})
	defer w.Close()
	assert.Equal(t, "https://login.example/t1", w.Authority("t1"))
}

func TestLoginWatcherFallback(t *testing.T) {
	var calls atomic.Int32
	w := NewLoginWatcher(t.TempDir(), LoginOptions{
		Fallback: func(ctx context.Context, tenant string) (Credential, error) {
			calls.Add(1)
			return Credential{Token: "cli-" + tenant, ExpiresOn: time.Now().Add(time.Hour)}, nil
		},
	})
	defer w.Close()

	for i := 0; i < 3; i++ {
		cred, err := w.Lookup(context.Background(), "tenant-9")
		require.NoError(t, err)
		assert.Equal(t, "cli-tenant-9", cred.Token)
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestLoginWatcherFallbackFailure(t *testing.T) {
	w := NewLoginWatcher(t.TempDir(), LoginOptions{
		Fallback: func(context.Context, string) (Credential, error) {
			return Credential{}, errors.New("Please run 'az login' to setup account.")
		},
	})
	defer w.Close()

	_, err := w.Lookup(context.Background(), "tenant-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotLoggedIn), "fallback failure should mark the error as not logged in")
	assert.Equal(t, loginHint, UserMessage(err))
}

func TestLoginWatcherNearExpiryNotCached(t *testing.T) {
	var calls atomic.Int32
	w := NewLoginWatcher(t.TempDir(), LoginOptions{
		Fallback: func(context.Context, string) (Credential, error) {
			calls.Add(1)
			return Credential{Token: "short", ExpiresOn: time.Now().Add(30 * time.Second)}, nil
		},
	})
	defer w.Close()

	_, err := w.Lookup(context.Background(), "t")
	require.NoError(t, err)
	_, err = w.Lookup(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLoginWatcherReloadReplacesTokens(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "accessTokens.json")
	future := localStamp(time.Now().Add(time.Hour))
	writeFile(t, path, tokensJSON([3]string{"old", "https://login.microsoftonline.com/t", future}))

	w := NewLoginWatcher(dir, LoginOptions{WatchOptions: WatchOptions{Debounce: time.Hour}})
	defer w.Close()

	writeFile(t, path, tokensJSON([3]string{"new", "https://login.microsoftonline.com/t", future}))
	require.NoError(t, w.Reload())

	cred, err := w.Lookup(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, "new", cred.Token)
}

func TestParseExpiry(t *testing.T) {
	for _, s := range []string{
		"2026-10-16 12:30:00.123456",
		"2026-10-16 12:30:00",
		"2026-10-16T12:30:00Z",
	} {
		_, err := parseExpiry(s)
		assert.NoError(t, err, s)
	}
	_, err := parseExpiry("tomorrow")
	assert.Error(t, err)
}

func TestParseCLIToken(t *testing.T) {
	cred, err := parseCLIToken([]byte(`{"accessToken":"abc","expiresOn":"2026-10-16 12:30:00.000000","expires_on":1792153800}`))
	require.NoError(t, err)
	assert.Equal(t, "abc", cred.Token)
	assert.Equal(t, int64(1792153800), cred.ExpiresOn.Unix())

	cred, err = parseCLIToken([]byte(`{"accessToken":"abc","expiresOn":"2026-10-16 12:30:00.000000"}`))
	require.NoError(t, err)
	assert.Equal(t, 12, cred.ExpiresOn.Hour())

	_, err = parseCLIToken([]byte(`{"expiresOn":"2026-10-16 12:30:00"}`))
	assert.Error(t, err)
}
