package sieve

import (
	"context"
	"math/big"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/The-Mining-Game/WATTx/internal/blockheader"
	"github.com/The-Mining-Game/WATTx/internal/gpuengine"
)

func testParams() Params {
	return Params{
		SieveBytes:   64,
		SievePrimes:  200,
		WheelModulus: 30,
		Shift:        8,
		FermatRounds: 3,
		MinGapSize:   4,
	}
}

// TestNewClampsFermatRoundsFloor checks that New refuses a below-consensus
// witness-round count even when explicitly configured, rather than letting
// operator config quietly weaken endpoint verification.
func TestNewClampsFermatRoundsFloor(t *testing.T) {
	params := testParams()
	params.FermatRounds = 1

	e := New(zap.NewNop(), params, gpuengine.Noop())

	if e.params.FermatRounds != minEndpointFermatRounds {
		t.Fatalf("FermatRounds = %d, want floor of %d", e.params.FermatRounds, minEndpointFermatRounds)
	}
}

func testHeaderForSieve() blockheader.Header {
	var h blockheader.Header
	h.Version = 1
	h.PrevHash[0] = 0x11
	h.MerkleRoot[0] = 0x22
	h.Time = 1700000000
	h.Bits = 0x1d00ffff
	return h
}

func TestBasePrimeDeterministicAndOdd(t *testing.T) {
	h := testHeaderForSieve()

	a := basePrime(h, 8)
	b := basePrime(h, 8)
	if a.Cmp(b) != 0 {
		t.Fatal("basePrime must be deterministic for identical header and shift")
	}
	if a.Bit(0) != 1 {
		t.Fatal("basePrime must force the result odd")
	}
}

func TestBasePrimeChangesWithShift(t *testing.T) {
	h := testHeaderForSieve()

	a := basePrime(h, 8)
	b := basePrime(h, 16)
	if a.Cmp(b) == 0 {
		t.Fatal("different shifts should produce different base primes")
	}
}

func TestStartMiningRejectsDoubleStart(t *testing.T) {
	e := New(zap.NewNop(), testParams(), gpuengine.Noop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	solutions := make(chan Solution, 4)
	if err := e.StartMining(ctx, testHeaderForSieve(), 1.0, 1, 0, solutions); err != nil {
		t.Fatalf("first StartMining should succeed: %v", err)
	}
	defer e.StopMining()

	if err := e.StartMining(ctx, testHeaderForSieve(), 1.0, 1, 0, solutions); err != errAlreadyMining {
		t.Fatalf("second StartMining should fail with errAlreadyMining, got %v", err)
	}
}

func TestStopMiningJoinsWorkers(t *testing.T) {
	e := New(zap.NewNop(), testParams(), gpuengine.Noop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	solutions := make(chan Solution, 4)
	if err := e.StartMining(ctx, testHeaderForSieve(), 1000.0, 2, 0, solutions); err != nil {
		t.Fatalf("StartMining: %v", err)
	}

	time.Sleep(5 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		e.StopMining()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StopMining did not return: worker goroutines likely never exited")
	}
}

func TestStopMiningIsIdempotent(t *testing.T) {
	e := New(zap.NewNop(), testParams(), gpuengine.Noop())
	e.StopMining()
	e.StopMining()
}

func TestUpdateBestMeritMonotonic(t *testing.T) {
	e := New(zap.NewNop(), testParams(), gpuengine.Noop())

	e.updateBestMerit(5.0)
	if got := e.Stats().BestMerit; got != 5.0 {
		t.Fatalf("BestMerit = %v, want 5.0", got)
	}

	e.updateBestMerit(3.0)
	if got := e.Stats().BestMerit; got != 5.0 {
		t.Fatalf("a lower merit must not overwrite the recorded best, got %v", got)
	}

	e.updateBestMerit(9.5)
	if got := e.Stats().BestMerit; got != 9.5 {
		t.Fatalf("a higher merit must overwrite the recorded best, got %v", got)
	}
}

// TestSieveCycleEmitsKnownGap drives sieveCycle against a real, documented
// size-148 prime gap rather than a randomly-seeded header: 2010733 and
// 2010881 are the endpoints of the first occurrence of a maximal prime gap
// of size 148 (OEIS A002386/A005250), so every integer strictly between
// them is composite and both endpoints are prime. merit =
// 148/ln(2010733) ≈ 10.2, comfortably above the 8.5 floor this asserts.
func TestSieveCycleEmitsKnownGap(t *testing.T) {
	params := Params{
		SieveBytes:   19, // 152 bits: offsets 0..151, just past the gap's end
		SievePrimes:  300,
		WheelModulus: 30,
		FermatRounds: 3,
		MinGapSize:   10,
	}
	e := New(zap.NewNop(), params, gpuengine.Noop())

	base := big.NewInt(2010733)
	adderBase := new(big.Int).Set(base)
	solutions := make(chan Solution, 4)

	e.sieveCycle(base, adderBase, params.SieveBytes*8, 8.5, solutions)

	select {
	case sol := <-solutions:
		if sol.GapSize != 148 {
			t.Fatalf("GapSize = %d, want 148", sol.GapSize)
		}
		if sol.Merit < 8.5 {
			t.Fatalf("Merit = %v, want >= 8.5", sol.Merit)
		}
		if sol.Adder.Sign() != 0 {
			t.Fatalf("Adder = %v, want 0 (base equals the gap's start prime)", sol.Adder)
		}
	default:
		t.Fatal("sieveCycle did not emit a solution for the known size-148 gap")
	}

	select {
	case extra := <-solutions:
		t.Fatalf("sieveCycle emitted a second solution: %+v", extra)
	default:
	}

	if got := e.Stats().GapsFound; got != 1 {
		t.Fatalf("GapsFound = %d, want 1", got)
	}
}

func TestStatsInitialZero(t *testing.T) {
	e := New(zap.NewNop(), testParams(), gpuengine.Noop())
	s := e.Stats()
	if s.PrimesChecked != 0 || s.GapsFound != 0 || s.SieveCycles != 0 || s.BestMerit != 0 {
		t.Fatalf("fresh engine should report all-zero stats, got %+v", s)
	}
}
