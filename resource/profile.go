package resource

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// Subscription is an entry of the az profile.
type Subscription struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	TenantID  string `json:"tenantId"`
	IsDefault bool   `json:"isDefault"`
	State     string `json:"state,omitempty"`
}

type profile struct {
	Subscriptions []Subscription `json:"subscriptions"`
}

var utf8BOM = []byte("\ufeff")

// WatchOptions tunes file watching.
type WatchOptions struct {
	// Debounce delays reloads after a burst of file events. Default 100ms.
	Debounce time.Duration
	// PollInterval is used when the directory cannot be watched. Default 1s.
	PollInterval time.Duration
	Logger       *slog.Logger
}

func (o *WatchOptions) setDefaults() {
	if o.Debounce <= 0 {
		o.Debounce = 100 * time.Millisecond
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// SubscriptionWatcher tracks the subscriptions in azureProfile.json.
type SubscriptionWatcher struct {
	path string
	log  *slog.Logger
	fw   *fileWatcher

	mu        sync.RWMutex
	subs      []Subscription
	listeners []func()
}

// NewSubscriptionWatcher loads <azureDir>/azureProfile.json and watches it.
// A missing file means no subscriptions.
func NewSubscriptionWatcher(azureDir string, opts WatchOptions) *SubscriptionWatcher {
	opts.setDefaults()
	w := &SubscriptionWatcher{
		path: filepath.Join(azureDir, "azureProfile.json"),
		log:  opts.Logger.With("component", "subscriptions"),
	}
	if err := w.Reload(); err != nil {
		w.log.Warn("failed to load profile", "path", w.path, "error", err)
	}
	w.fw = watchFile(w.path, opts.Debounce, opts.PollInterval, w.log, func() {
		if err := w.Reload(); err != nil {
			w.log.Warn("failed to reload profile", "path", w.path, "error", err)
		}
	})
	return w
}

// Subscriptions returns a copy of the current subscriptions.
func (w *SubscriptionWatcher) Subscriptions() []Subscription {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]Subscription(nil), w.subs...)
}

// Default returns the subscription marked default.
func (w *SubscriptionWatcher) Default() (Subscription, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, s := range w.subs {
		if s.IsDefault {
			return s, true
		}
	}
	return Subscription{}, false
}

// OnUpdated registers fn to run after the subscription list changes.
func (w *SubscriptionWatcher) OnUpdated(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Reload rereads the profile and notifies listeners when it changed. On a
// read or parse error the previous list is kept.
func (w *SubscriptionWatcher) Reload() error {
	subs, err := loadProfile(w.path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	if reflect.DeepEqual(w.subs, subs) {
		w.mu.Unlock()
		return nil
	}
	w.subs = subs
	listeners := append([]func(){}, w.listeners...)
	w.mu.Unlock()

	w.log.Debug("subscriptions updated", "count", len(subs))
	for _, fn := range listeners {
		fn()
	}
	return nil
}

// Close stops watching.
func (w *SubscriptionWatcher) Close() {
	w.fw.close()
}

func loadProfile(path string) ([]Subscription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Subscription{}, nil
		}
		return nil, errors.Wrap(err, "read profile")
	}
	var p profile
	if err := json.Unmarshal(bytes.TrimPrefix(data, utf8BOM), &p); err != nil {
		return nil, errors.Wrapf(err, "parse %s", path)
	}
	if p.Subscriptions == nil {
		p.Subscriptions = []Subscription{}
	}
	return p.Subscriptions, nil
}
