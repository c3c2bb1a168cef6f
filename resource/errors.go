package resource

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

const loginHint = `Not logged in, use "az login" to do so.`

var (
	// ErrNotLoggedIn indicates no credential is available for the default subscription.
	ErrNotLoggedIn = errors.WithHint(errors.New("not logged in"), loginHint)

	// ErrNoDefaultSubscription indicates the profile has no default subscription.
	ErrNoDefaultSubscription = errors.WithHint(errors.New("no default subscription"), loginHint)

	// ErrFetchFailed marks failures of the underlying resource listing.
	ErrFetchFailed = errors.New("resource fetch failed")
)

// FetchError reports a failed fetch for one partition key.
type FetchError struct {
	Key string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Key, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == ErrFetchFailed }

// UserMessage returns the guidance to show for err, or "" when err is not a
// user-facing condition.
func UserMessage(err error) string {
	if errors.Is(err, ErrNotLoggedIn) || errors.Is(err, ErrNoDefaultSubscription) {
		return loginHint
	}
	return ""
}
