package sieve

// smallPrimeTable holds the primes used to pre-sieve each segment, sized to
// SievePrimes.
type smallPrimeTable struct {
	primes []uint32
}

// generateSmallPrimes builds the small-prime table with a classical sieve
// of Eratosthenes, bounded by count.
func generateSmallPrimes(count int) *smallPrimeTable {
	if count < 1 {
		count = 1
	}

	// Sieve bound: doubled from 20 until the prime-count estimate
	// n/(ln n - 1.1) (estimatePrimeCount) reaches count.
	limit := 20
	for estimatePrimeCount(limit) < count {
		limit *= 2
	}

	sieveBytes := make([]bool, limit+1)
	var primes []uint32
	for p := 2; p <= limit && len(primes) < count; p++ {
		if sieveBytes[p] {
			continue
		}
		primes = append(primes, uint32(p))
		for m := p * p; m <= limit; m += p {
			sieveBytes[m] = true
		}
	}

	return &smallPrimeTable{primes: primes}
}

func estimatePrimeCount(n int) int {
	if n < 11 {
		return 4
	}
	logN := logApprox(float64(n))
	return int(float64(n) / (logN - 1.1))
}

func logApprox(x float64) float64 {
	// Minimal natural-log approximation sufficient for sizing; not used on
	// any correctness-critical path.
	if x <= 1 {
		return 0
	}
	k := 0.0
	for x > 2 {
		x /= 2
		k++
	}
	return k*0.6931471805599453 + (x - 1)
}

// wheel holds the residues mod WheelModulus coprime to it, used to skip
// candidates guaranteed composite by a small-prime factor.
type wheel struct {
	modulus  uint32
	residues []uint32
}

func gcd(a, b uint32) uint32 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// generateWheelPattern builds the coprime-residue wheel for modulus.
func generateWheelPattern(modulus uint32) *wheel {
	var residues []uint32
	for r := uint32(1); r < modulus; r++ {
		if gcd(r, modulus) == 1 {
			residues = append(residues, r)
		}
	}
	return &wheel{modulus: modulus, residues: residues}
}
