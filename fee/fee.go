// Package fee computes the platform and referrer cuts taken from capital
// raised and from tokens sold. The computation is pure: the sale engine
// calls it at withdrawal and claim time and performs the transfers itself.
package fee

import (
	"errors"

	"github.com/holiman/uint256"
)

// BpsDenominator is the basis-point denominator: 1 bps = 1/10,000.
const BpsDenominator = 10_000

// ErrRateOutOfRange is returned when a fee rate exceeds 10,000 bps or the
// combined platform and referrer rates would exceed the full amount.
var ErrRateOutOfRange = errors.New("fee rate out of range")

// Split is the result of applying platform and referrer rates to an
// amount. Net + PlatformFee + ReferrerFee always equals the input.
type Split struct {
	Net         *uint256.Int
	PlatformFee *uint256.Int
	ReferrerFee *uint256.Int
}

// Apply computes floor(bps*amount/10_000) independently for the platform
// and referrer rates and returns the remainder as Net.
func Apply(amount *uint256.Int, platformBps, referrerBps uint64) (Split, error) {
	if platformBps > BpsDenominator || referrerBps > BpsDenominator || platformBps+referrerBps > BpsDenominator {
		return Split{}, ErrRateOutOfRange
	}

	platformFee := cut(amount, platformBps)
	referrerFee := cut(amount, referrerBps)

	net := new(uint256.Int).Sub(amount, platformFee)
	net.Sub(net, referrerFee)

	return Split{
		Net:         net,
		PlatformFee: platformFee,
		ReferrerFee: referrerFee,
	}, nil
}

func cut(amount *uint256.Int, bps uint64) *uint256.Int {
	f := new(uint256.Int).Mul(amount, uint256.NewInt(bps))
	return f.Div(f, uint256.NewInt(BpsDenominator))
}
