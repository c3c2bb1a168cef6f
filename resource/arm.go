package resource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-retryablehttp"
)

// DefaultARMEndpoint is the public-cloud Resource Manager endpoint.
const DefaultARMEndpoint = "https://management.azure.com"

// DefaultAPIVersion is the resources API version used for listing.
const DefaultAPIVersion = "2021-04-01"

// Resource is a listed ARM resource or resource group.
type Resource struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Type     string `json:"type,omitempty"`
	Location string `json:"location,omitempty"`
}

type listPage struct {
	Value    []Resource `json:"value"`
	NextLink string     `json:"nextLink"`
}

type armError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ARMClient lists resources through the Azure Resource Manager REST API.
type ARMClient struct {
	endpoint   string
	apiVersion string
	client     *retryablehttp.Client
}

// ARMOptions configures an ARMClient.
type ARMOptions struct {
	Endpoint   string
	APIVersion string
	// RetryMax is the number of retries for throttling and server errors. Default 3.
	RetryMax int
	Timeout  time.Duration
	Logger   *slog.Logger
}

// NewARMClient creates a client.
func NewARMClient(opts ARMOptions) *ARMClient {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultARMEndpoint
	}
	if opts.APIVersion == "" {
		opts.APIVersion = DefaultAPIVersion
	}
	if opts.RetryMax == 0 {
		opts.RetryMax = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	c := retryablehttp.NewClient()
	c.RetryMax = opts.RetryMax
	c.RetryWaitMin = 200 * time.Millisecond
	c.RetryWaitMax = 2 * time.Second
	c.HTTPClient.Timeout = opts.Timeout
	c.Logger = opts.Logger.With("component", "arm")
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &ARMClient{
		endpoint:   strings.TrimRight(opts.Endpoint, "/"),
		apiVersion: opts.APIVersion,
		client:     c,
	}
}

// ListGroups returns the resource groups of a subscription.
func (a *ARMClient) ListGroups(ctx context.Context, cred Credential, subscriptionID string) ([]Resource, error) {
	u := fmt.Sprintf("%s/subscriptions/%s/resourcegroups?api-version=%s",
		a.endpoint, url.PathEscape(subscriptionID), url.QueryEscape(a.apiVersion))
	return a.list(ctx, cred, u)
}

// ListResources returns the resources of a subscription matching an OData
// filter such as "resourceType eq 'Microsoft.Web/sites'".
func (a *ARMClient) ListResources(ctx context.Context, cred Credential, subscriptionID, filter string) ([]Resource, error) {
	q := url.Values{}
	q.Set("api-version", a.apiVersion)
	if filter != "" {
		q.Set("$filter", filter)
	}
	u := fmt.Sprintf("%s/subscriptions/%s/resources?%s", a.endpoint, url.PathEscape(subscriptionID), q.Encode())
	return a.list(ctx, cred, u)
}

// list follows nextLink until the last page.
func (a *ARMClient) list(ctx context.Context, cred Credential, next string) ([]Resource, error) {
	out := []Resource{}
	for next != "" {
		page, err := a.page(ctx, cred, next)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Value...)
		next = page.NextLink
	}
	return out, nil
}

func (a *ARMClient) page(ctx context.Context, cred Credential, u string) (*listPage, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+cred.Token)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "list resources")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr armError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			err = errors.Newf("ARM error (status %d, %s): %s", resp.StatusCode, apiErr.Error.Code, apiErr.Error.Message)
		} else {
			err = errors.Newf("ARM error (status %d): %s", resp.StatusCode, string(body))
		}
		if resp.StatusCode == http.StatusUnauthorized {
			err = errors.Mark(err, ErrNotLoggedIn)
		}
		return nil, err
	}

	var page listPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, errors.Wrapf(err, "failed to parse response (body: %s)", truncate(string(body), 200))
	}
	return &page, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
