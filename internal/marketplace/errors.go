package marketplace

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

// Error taxonomy for provider operations. Callers decide policy: offer races
// are retried with the next candidate, credit exhaustion triggers an emergency
// stop, connectivity failures are retried with backoff.
var (
	ErrOfferUnavailable   = stderrors.New("offer no longer available")
	ErrInsufficientCredit = stderrors.New("insufficient account credit")
	ErrConnectivity       = stderrors.New("marketplace unreachable")
	ErrInstanceNotFound   = stderrors.New("instance not found")
)

func IsOfferUnavailable(err error) bool {
	return stderrors.Is(err, ErrOfferUnavailable)
}

func IsInsufficientCredit(err error) bool {
	return stderrors.Is(err, ErrInsufficientCredit)
}

func IsConnectivity(err error) bool {
	return stderrors.Is(err, ErrConnectivity)
}

func IsNotFound(err error) bool {
	return stderrors.Is(err, ErrInstanceNotFound)
}

func connectivityErr(err error, op string) error {
	return errors.Wrapf(ErrConnectivity, "%s: %v", op, err)
}
