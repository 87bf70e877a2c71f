package kernel

import (
	"errors"
	"fmt"

	pkgerrors "github.com/reqless-go/reqless/internal/pkg/errors"
)

// Sentinel errors the dispatcher and tests can match with errors.Is,
// alongside spec §7's requirement that the returned string still carry
// the specific substring token existing clients match on. Each domain
// sentinel also wraps the generic sentinel it specializes, so callers
// that only know the generic errors package still match via errors.Is.
var (
	ErrUnknownCommand = fmt.Errorf("unknown command: %w", pkgerrors.ErrInvalidArgument)
	ErrMalformedArgs  = fmt.Errorf("malformed arguments: %w", pkgerrors.ErrInvalidArgument)
	ErrMissingNow     = fmt.Errorf("now must be a nonnegative number: %w", pkgerrors.ErrInvalidArgument)
	ErrNotFound       = fmt.Errorf("does not exist: %w", pkgerrors.ErrNotFound)
	ErrOwnership      = fmt.Errorf("ownership violation: %w", pkgerrors.ErrUnauthorized)
	ErrDependency     = errors.New("is a dependency")
	ErrState          = errors.New("state precondition violation")
)

func fErr(sentinel error, format string, args ...interface{}) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), sentinel)
}

func errJobNotFound(jid string) error {
	return fErr(ErrNotFound, "job %s does not exist", jid)
}

func errThrottleNotFound(id string) error {
	return fErr(ErrNotFound, "throttle %s does not exist", id)
}

// errWrongState reports that an operation required the job to be in one
// of `allowed` states but found it in `got`.
func errWrongState(jid string, got JobState, allowed ...JobState) error {
	return fErr(ErrState, "job %s is %s, not %v", jid, got, allowed)
}

func errAnotherWorker(jid, worker string) error {
	return fErr(ErrOwnership, "job %s is locked by another worker (not %s)", jid, worker)
}

func errAnotherQueue(jid, queue string) error {
	return fErr(ErrOwnership, "job %s is in another queue (not %s)", jid, queue)
}

func errIsDependency(jid string, dependents []string) error {
	return fErr(ErrDependency, "job %s is a dependency of %v", jid, dependents)
}
