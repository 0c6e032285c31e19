// Package sieve implements the G core: a segmented, wheel-factorized
// search for prime gaps anchored to a block header, following the same
// sieve-then-walk-then-verify structure as a classical Eratosthenes-based
// prime gap miner.
package sieve

// Params configures one Engine instance.
type Params struct {
	SieveBytes   int    // bitset size per segment, default 32 MiB
	SievePrimes  int    // size of the small-prime table, default 900000
	WheelModulus uint32 // default 210 (2*3*5*7)
	Shift        uint32 // prime magnitude shift, range [14, 65536]
	FermatRounds int    // primality-test rounds applied to gap endpoints
	MinGapSize   uint32 // minimum candidate gap size before verification
}

// DefaultParams returns the reference sizing used by the original miner.
func DefaultParams() Params {
	return Params{
		SieveBytes:   32 * 1024 * 1024,
		SievePrimes:  900000,
		WheelModulus: 210,
		Shift:        25,
		FermatRounds: 3,
		MinGapSize:   10,
	}
}
