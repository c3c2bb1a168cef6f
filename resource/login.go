package resource

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jellydator/ttlcache/v3"
)

// DefaultAuthorityHost prefixes tenant ids to form token authorities.
const DefaultAuthorityHost = "https://login.microsoftonline.com"

// expiryMargin is subtracted from token lifetimes so a credential is never
// handed out moments before it lapses.
const expiryMargin = time.Minute

// Credential is a bearer token for ARM requests.
type Credential struct {
	Token     string
	ExpiresOn time.Time
}

type accessToken struct {
	AccessToken string `json:"accessToken"`
	Authority   string `json:"_authority"`
	ExpiresOn   string `json:"expiresOn"`
}

// TokenSource obtains a token for a tenant when none is cached.
type TokenSource func(ctx context.Context, tenantID string) (Credential, error)

// LoginOptions configures a LoginWatcher.
type LoginOptions struct {
	WatchOptions
	// AuthorityHost defaults to DefaultAuthorityHost.
	AuthorityHost string
	// Fallback is consulted on a cache miss. Nil disables it.
	Fallback TokenSource
}

// LoginWatcher keeps bearer tokens keyed by authority. Tokens come from
// accessTokens.json and, for newer az releases that no longer write it, from
// the Fallback source; each entry expires with its token.
type LoginWatcher struct {
	path          string
	authorityHost string
	fallback      TokenSource
	log           *slog.Logger
	fw            *fileWatcher

	creds *ttlcache.Cache[string, Credential]

	mu     sync.Mutex
	tokens []accessToken
}

// NewLoginWatcher loads <azureDir>/accessTokens.json and watches it.
func NewLoginWatcher(azureDir string, opts LoginOptions) *LoginWatcher {
	opts.setDefaults()
	if opts.AuthorityHost == "" {
		opts.AuthorityHost = DefaultAuthorityHost
	}
	w := &LoginWatcher{
		path:          filepath.Join(azureDir, "accessTokens.json"),
		authorityHost: strings.TrimRight(opts.AuthorityHost, "/"),
		fallback:      opts.Fallback,
		log:           opts.Logger.With("component", "login"),
		creds: ttlcache.New[string, Credential](
			ttlcache.WithDisableTouchOnHit[string, Credential](),
		),
	}
	go w.creds.Start()

	if err := w.Reload(); err != nil {
		w.log.Warn("failed to load tokens", "path", w.path, "error", err)
	}
	w.fw = watchFile(w.path, opts.Debounce, opts.PollInterval, w.log, func() {
		if err := w.Reload(); err != nil {
			w.log.Warn("failed to reload tokens", "path", w.path, "error", err)
		}
	})
	return w
}

// Authority returns the authority URL for a tenant.
func (w *LoginWatcher) Authority(tenantID string) string {
	return w.authorityHost + "/" + tenantID
}

// Lookup returns an unexpired credential for tenantID.
func (w *LoginWatcher) Lookup(ctx context.Context, tenantID string) (Credential, error) {
	key := w.Authority(tenantID)
	if item := w.creds.Get(key); item != nil {
		return item.Value(), nil
	}
	if w.fallback == nil {
		return Credential{}, ErrNotLoggedIn
	}
	cred, err := w.fallback(ctx, tenantID)
	if err != nil {
		w.log.Debug("token fallback failed", "tenant", tenantID, "error", err)
		return Credential{}, errors.Mark(errors.Wrap(err, "acquire token"), ErrNotLoggedIn)
	}
	w.store(key, cred)
	return cred, nil
}

// Reload rereads accessTokens.json. The credential table is rebuilt only
// when the token list changed.
func (w *LoginWatcher) Reload() error {
	tokens, err := loadTokens(w.path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.tokens != nil && reflect.DeepEqual(w.tokens, tokens) {
		return nil
	}
	w.tokens = tokens

	w.creds.DeleteAll()
	for _, t := range tokens {
		expires, err := parseExpiry(t.ExpiresOn)
		if err != nil {
			w.log.Debug("skipping token with unreadable expiry", "authority", t.Authority, "error", err)
			continue
		}
		w.store(strings.TrimRight(t.Authority, "/"), Credential{Token: t.AccessToken, ExpiresOn: expires})
	}
	w.log.Debug("tokens reloaded", "count", len(tokens))
	return nil
}

// Close stops watching and expiring entries.
func (w *LoginWatcher) Close() {
	w.fw.close()
	w.creds.Stop()
}

func (w *LoginWatcher) store(key string, cred Credential) {
	ttl := time.Until(cred.ExpiresOn) - expiryMargin
	if ttl <= 0 {
		return
	}
	w.creds.Set(key, cred, ttl)
}

func loadTokens(path string) ([]accessToken, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []accessToken{}, nil
		}
		return nil, errors.Wrap(err, "read tokens")
	}
	var tokens []accessToken
	if err := json.Unmarshal(bytes.TrimPrefix(data, utf8BOM), &tokens); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if tokens == nil {
		tokens = []accessToken{}
	}
	return tokens, nil
}

var expiryLayouts = []string{
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

// parseExpiry reads the local-time timestamps az writes for token expiry.
func parseExpiry(s string) (time.Time, error) {
	for _, layout := range expiryLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.Newf("unrecognized expiry %q", s)
}

// CLITokenSource asks the az executable for a management token.
func CLITokenSource(tool string) TokenSource {
	return func(ctx context.Context, tenantID string) (Credential, error) {
		args := []string{"account", "get-access-token", "--output", "json"}
		if tenantID != "" {
			args = append(args, "--tenant", tenantID)
		}
		var stderr bytes.Buffer
		cmd := exec.CommandContext(ctx, tool, args...)
		cmd.Stderr = &stderr
		out, err := cmd.Output()
		if err != nil {
			return Credential{}, errors.WithDetail(errors.Wrap(err, "az account get-access-token"), strings.TrimSpace(stderr.String()))
		}
		return parseCLIToken(out)
	}
}

func parseCLIToken(data []byte) (Credential, error) {
	var tok struct {
		AccessToken string `json:"accessToken"`
		ExpiresOn   string `json:"expiresOn"`
		ExpiresAt   int64  `json:"expires_on"`
	}
	if err := json.Unmarshal(data, &tok); err != nil {
		return Credential{}, errors.Wrap(err, "parse token")
	}
	if tok.AccessToken == "" {
		return Credential{}, errors.New("empty access token")
	}
	cred := Credential{Token: tok.AccessToken}
	if tok.ExpiresAt > 0 {
		cred.ExpiresOn = time.Unix(tok.ExpiresAt, 0)
		return cred, nil
	}
	expires, err := parseExpiry(tok.ExpiresOn)
	if err != nil {
		return Credential{}, err
	}
	cred.ExpiresOn = expires
	return cred, nil
}
