package sieve

import "math/big"

// fermatWitnesses is the fixed deterministic witness list used for every
// primality test in this package, matching the consensus-level check: a
// probabilistic test with a fixed witness set is deterministic and
// reproducible across all nodes, which matters more here than raw
// primality-test power.
var fermatWitnesses = []int64{2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31, 37}

// isProbablePrime runs a Fermat test (a^(n-1) mod n == 1) against up to
// rounds witnesses from fermatWitnesses.
func isProbablePrime(n *big.Int, rounds int) bool {
	if n.Cmp(big.NewInt(2)) < 0 {
		return false
	}
	if n.Cmp(big.NewInt(2)) == 0 {
		return true
	}
	if n.Bit(0) == 0 {
		return false
	}
	if n.Cmp(big.NewInt(3)) == 0 {
		return true
	}

	if rounds > len(fermatWitnesses) {
		rounds = len(fermatWitnesses)
	}

	nMinus1 := new(big.Int).Sub(n, big.NewInt(1))
	a := new(big.Int)
	result := new(big.Int)

	for i := 0; i < rounds; i++ {
		a.SetInt64(fermatWitnesses[i])
		if a.Cmp(n) >= 0 {
			continue
		}
		result.Exp(a, nMinus1, n)
		if result.Cmp(big.NewInt(1)) != 0 {
			return false
		}
	}
	return true
}

var smallDivisors = []int64{3, 5, 7, 11, 13, 17, 19, 23, 29, 31}

// verifyGapComposites checks that every integer strictly between start and
// start+gapSize is composite, using a cheap small-prime divisibility check
// before falling back to a single Fermat round.
func verifyGapComposites(start *big.Int, gapSize uint32) bool {
	if gapSize < 2 {
		return false
	}

	candidate := new(big.Int)
	for offset := uint32(1); offset < gapSize; offset++ {
		candidate.Add(start, big.NewInt(int64(offset)))

		if candidate.Bit(0) == 0 {
			continue
		}

		divisible := false
		for _, d := range smallDivisors {
			if new(big.Int).Mod(candidate, big.NewInt(d)).Sign() == 0 {
				divisible = true
				break
			}
		}
		if divisible {
			continue
		}

		if isProbablePrime(candidate, 1) {
			return false
		}
	}
	return true
}

// calculateMerit returns gapSize / ln(prime), computed at extended
// precision to stand in for the MPFR-based calculation the reference
// miner performs.
func calculateMerit(prime *big.Int, gapSize uint32) float64 {
	f := new(big.Float).SetPrec(256).SetInt(prime)
	lnPrime, _ := naturalLog(f).Float64()
	if lnPrime <= 0 {
		return 0
	}
	return float64(gapSize) / lnPrime
}

// naturalLog computes ln(x) for a positive big.Float via bit-length
// reduction (x = m * 2^e, ln(x) = ln(m) + e*ln(2)) followed by the
// atanh series ln(m) = 2*atanh((m-1)/(m+1)) on the reduced mantissa in
// [1,2); the ln(2) factor is a float64 constant.
func naturalLog(x *big.Float) *big.Float {
	prec := x.Prec()
	exp := x.MantExp(nil)

	mant := new(big.Float).SetPrec(prec)
	mant.SetMantExp(x, -exp+1)

	ln2 := big.NewFloat(0.6931471805599453).SetPrec(prec)
	expTerm := new(big.Float).SetPrec(prec).Mul(big.NewFloat(float64(exp-1)), ln2)

	// ln(mant) = 2*atanh(z) with z = (mant-1)/(mant+1); mant in [1,2) keeps
	// z below 1/3, so terms up to z^161 reach the 256-bit working precision.
	z := new(big.Float).SetPrec(prec).Sub(mant, big.NewFloat(1))
	z.Quo(z, new(big.Float).SetPrec(prec).Add(mant, big.NewFloat(1)))
	z2 := new(big.Float).SetPrec(prec).Mul(z, z)
	term := new(big.Float).SetPrec(prec)
	sum := new(big.Float).SetPrec(prec).Copy(z)
	zPow := new(big.Float).SetPrec(prec).Copy(z)

	for n := 3; n <= 161; n += 2 {
		zPow.Mul(zPow, z2)
		term.Quo(zPow, big.NewFloat(float64(n)))
		sum.Add(sum, term)
	}
	sum.Mul(sum, big.NewFloat(2))

	return new(big.Float).SetPrec(prec).Add(sum, expTerm)
}

// SieveSegment is a bitset covering one window of candidates relative to
// adderBase. Per this module's convention (matching spec.md's stated
// invariant, the opposite polarity from the reference miner's scratch
// buffer): a set bit marks a composite, a clear bit marks a surviving
// candidate.
type SieveSegment struct {
	bits      []byte
	adderBase *big.Int
	bitCount  int
}

func newSieveSegment(sizeBytes int, adderBase *big.Int) *SieveSegment {
	return &SieveSegment{
		bits:      make([]byte, sizeBytes),
		adderBase: new(big.Int).Set(adderBase),
		bitCount:  sizeBytes * 8,
	}
}

func (s *SieveSegment) setComposite(bit int) {
	if bit < 0 || bit >= s.bitCount {
		return
	}
	s.bits[bit/8] |= 1 << uint(bit%8)
}

func (s *SieveSegment) isComposite(bit int) bool {
	if bit < 0 || bit >= s.bitCount {
		return true
	}
	return s.bits[bit/8]&(1<<uint(bit%8)) != 0
}

// sieveWith marks composites of p within the segment: the first multiple
// of p at or after adderBase, stepping by p thereafter.
func (s *SieveSegment) sieveWith(p uint32) {
	pBig := big.NewInt(int64(p))

	rem := new(big.Int).Mod(s.adderBase, pBig)
	var first int64
	if rem.Sign() == 0 {
		first = 0
	} else {
		first = int64(p) - rem.Int64()
	}

	for bit := int(first); bit < s.bitCount; bit += int(p) {
		s.setComposite(bit)
	}
}

// applyWheel marks every bit whose candidate is not coprime to the wheel
// modulus as composite up front, before the small-prime sieve runs, so
// those primes never need to touch bits the wheel already rules out.
func (s *SieveSegment) applyWheel(w *wheel) {
	if w == nil || len(w.residues) == 0 {
		return
	}

	coprime := make(map[uint32]bool, len(w.residues))
	for _, r := range w.residues {
		coprime[r] = true
	}

	mod := w.modulus
	base := new(big.Int).Mod(s.adderBase, big.NewInt(int64(mod))).Uint64()

	for bit := 0; bit < s.bitCount; bit++ {
		r := uint32((base + uint64(bit)) % uint64(mod))
		if !coprime[r] {
			s.setComposite(bit)
		}
	}
}

// candidatePrime returns adderBase + bit as a big.Int.
func (s *SieveSegment) candidatePrime(bit int) *big.Int {
	return new(big.Int).Add(s.adderBase, big.NewInt(int64(bit)))
}
