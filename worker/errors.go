package worker

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	// ErrToolNotFound indicates the az executable is not on PATH.
	ErrToolNotFound = errors.New("azure cli not found")

	// ErrUnsupportedVersion indicates the installed az is too old or unrecognized.
	ErrUnsupportedVersion = errors.New("unsupported azure cli version")

	// ErrSpawnFailed indicates the worker process could not be started.
	ErrSpawnFailed = errors.New("failed to start completion worker")

	// ErrTerminated indicates the worker process exited.
	ErrTerminated = errors.New("completion worker terminated")

	// ErrRequestCancelled indicates the caller stopped waiting for a response.
	ErrRequestCancelled = errors.New("request cancelled")

	// ErrProtocolDecode indicates a worker line was not a valid message.
	ErrProtocolDecode = errors.New("malformed worker message")
)

const installHint = "Install the Azure CLI: https://aka.ms/azure-cli"

// TerminatedError reports how the worker process exited. Code is -1 when the
// process was killed by a signal.
type TerminatedError struct {
	Code   int
	Signal string
}

func (e *TerminatedError) Error() string {
	if e.Signal != "" {
		return fmt.Sprintf("completion worker terminated: exit code %d, signal %s", e.Code, e.Signal)
	}
	return fmt.Sprintf("completion worker terminated: exit code %d", e.Code)
}

// Is makes errors.Is(err, ErrTerminated) match any TerminatedError.
func (e *TerminatedError) Is(target error) bool {
	return target == ErrTerminated
}

// UnsupportedVersionError carries the version found and the minimum required.
type UnsupportedVersionError struct {
	Found   string
	Minimum string
}

func (e *UnsupportedVersionError) Error() string {
	if e.Found == "" {
		return fmt.Sprintf("unsupported azure cli version: could not determine version (need %s or later)", e.Minimum)
	}
	return fmt.Sprintf("unsupported azure cli version %s (need %s or later)", e.Found, e.Minimum)
}

func (e *UnsupportedVersionError) Is(target error) bool {
	return target == ErrUnsupportedVersion
}

func toolNotFound(tool string, cause error) error {
	err := errors.Mark(errors.Wrapf(cause, "locate %s", tool), ErrToolNotFound)
	return errors.WithHint(err, installHint)
}

func unsupportedVersion(found, minimum string) error {
	return errors.WithHint(&UnsupportedVersionError{Found: found, Minimum: minimum},
		"Update the Azure CLI to version "+minimum+" or later: https://aka.ms/azure-cli")
}

func spawnFailed(cause error) error {
	return errors.Mark(errors.Wrap(cause, "start completion worker"), ErrSpawnFailed)
}

func cancelled(cause error) error {
	return errors.Mark(errors.Wrap(cause, "request cancelled"), ErrRequestCancelled)
}

// IsInstallProblem reports whether err means the tool is missing or too old.
func IsInstallProblem(err error) bool {
	return errors.Is(err, ErrToolNotFound) || errors.Is(err, ErrUnsupportedVersion)
}

// IsCancelled reports whether err is a local cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrRequestCancelled)
}

// Hint returns the user-facing guidance attached to err, if any.
func Hint(err error) string {
	return errors.FlattenHints(err)
}
