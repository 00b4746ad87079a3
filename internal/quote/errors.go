package quote

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrZeroOutput marks a router call that succeeded but quoted nothing
	ErrZeroOutput = errors.New("router quoted zero output")

	// ErrAmountsMismatch is returned when getAmountsOut returns the wrong
	// number of amounts for the path
	ErrAmountsMismatch = errors.New("amounts length does not match path")

	// ErrInvalidAmount rejects nil, zero and negative sell amounts
	ErrInvalidAmount = errors.New("sell amount must be positive")

	// ErrInvalidPair rejects zero addresses and identical tokens
	ErrInvalidPair = errors.New("sell and buy tokens must be distinct non-zero addresses")
)

// UpstreamCallError is one failed getAmountsOut call. Network, timeout,
// revert and decode failures all surface as this type.
type UpstreamCallError struct {
	Router common.Address
	Path   Path
	Cause  error
}

func (e *UpstreamCallError) Error() string {
	return fmt.Sprintf("router %s path %s: %v", e.Router.Hex(), e.Path, e.Cause)
}

func (e *UpstreamCallError) Unwrap() error { return e.Cause }

// Attempt records one router/path combination the resolver tried
type Attempt struct {
	Router        string
	RouterAddress common.Address
	Path          Path
	Err           error
}

// NoRouteError means every router/path combination failed. Attempts are in
// the order they were made.
type NoRouteError struct {
	Sell, Buy common.Address
	Attempts  []Attempt
}

func (e *NoRouteError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "no route from %s to %s after %d attempts", e.Sell.Hex(), e.Buy.Hex(), len(e.Attempts))
	for _, a := range e.Attempts {
		fmt.Fprintf(&b, "; %s %s: %v", a.Router, a.Path, a.Err)
	}
	return b.String()
}

// Unwrap exposes every attempt cause to errors.Is and errors.As
func (e *NoRouteError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		if a.Err != nil {
			errs = append(errs, a.Err)
		}
	}
	return errs
}
