package resource

import (
	"context"
	"log/slog"
	"sync"

	"github.com/cockroachdb/errors"
)

// WebAppFilter selects App Service sites.
const WebAppFilter = "resourceType eq 'Microsoft.Web/sites'"

// SubscriptionSource reports the az profile's subscriptions.
type SubscriptionSource interface {
	Subscriptions() []Subscription
	Default() (Subscription, bool)
	OnUpdated(fn func())
}

// CredentialSource resolves a bearer credential for a tenant.
type CredentialSource interface {
	Lookup(ctx context.Context, tenantID string) (Credential, error)
}

// Lister lists ARM resources of a subscription.
type Lister interface {
	ListGroups(ctx context.Context, cred Credential, subscriptionID string) ([]Resource, error)
	ListResources(ctx context.Context, cred Credential, subscriptionID, filter string) ([]Resource, error)
}

// Catalog serves resource groups and web apps of the default subscription.
// The default subscription id is the cache partition key; when it changes
// both caches are refreshed for the new key.
type Catalog struct {
	subs  SubscriptionSource
	creds CredentialSource
	arm   Lister
	log   *slog.Logger

	groups  *Cache[Resource]
	webApps *Cache[Resource]

	mu        sync.Mutex
	defaultID string
}

// NewCatalog wires the caches to their sources and starts loading the
// current default subscription.
func NewCatalog(subs SubscriptionSource, creds CredentialSource, arm Lister, opts ...CacheOption) *Catalog {
	o := cacheOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	c := &Catalog{
		subs:  subs,
		creds: creds,
		arm:   arm,
		log:   o.logger.With("component", "catalog"),
	}
	c.groups = NewCache("groups", c.loadGroups, opts...)
	c.webApps = NewCache("webapps", c.loadWebApps, opts...)

	subs.OnUpdated(c.subscriptionsUpdated)
	c.subscriptionsUpdated()
	return c
}

// Groups returns the resource groups of the default subscription.
func (c *Catalog) Groups(ctx context.Context) ([]Resource, error) {
	sub, ok := c.subs.Default()
	if !ok {
		return nil, ErrNoDefaultSubscription
	}
	return c.groups.Fetch(ctx, sub.ID)
}

// WebApps returns the App Service sites of the default subscription.
func (c *Catalog) WebApps(ctx context.Context) ([]Resource, error) {
	sub, ok := c.subs.Default()
	if !ok {
		return nil, ErrNoDefaultSubscription
	}
	return c.webApps.Fetch(ctx, sub.ID)
}

func (c *Catalog) subscriptionsUpdated() {
	sub, ok := c.subs.Default()
	id := ""
	if ok {
		id = sub.ID
	}

	c.mu.Lock()
	changed := id != c.defaultID
	c.defaultID = id
	c.mu.Unlock()

	if !changed || id == "" {
		return
	}
	c.log.Info("default subscription changed", "subscription", sub.Name, "id", id)
	c.groups.Refresh(id)
	c.webApps.Refresh(id)
}

// credential resolves the credential for subscription id.
func (c *Catalog) credential(ctx context.Context, id string) (Credential, error) {
	for _, s := range c.subs.Subscriptions() {
		if s.ID == id {
			return c.creds.Lookup(ctx, s.TenantID)
		}
	}
	return Credential{}, errors.Wrapf(ErrNoDefaultSubscription, "subscription %s not in profile", id)
}

func (c *Catalog) loadGroups(ctx context.Context, id string) ([]Resource, error) {
	cred, err := c.credential(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.arm.ListGroups(ctx, cred, id)
}

func (c *Catalog) loadWebApps(ctx context.Context, id string) ([]Resource, error) {
	cred, err := c.credential(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.arm.ListResources(ctx, cred, id, WebAppFilter)
}

// Names returns the names of resources in order.
func Names(resources []Resource) []string {
	names := make([]string, 0, len(resources))
	for _, r := range resources {
		names = append(names, r.Name)
	}
	return names
}
