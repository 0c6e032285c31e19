package sieve

import (
	"context"
	"crypto/sha256"
	"math"
	"math/big"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/The-Mining-Game/WATTx/internal/apperrors"
	"github.com/The-Mining-Game/WATTx/internal/blockheader"
	"github.com/The-Mining-Game/WATTx/internal/gpuengine"
	"github.com/The-Mining-Game/WATTx/internal/metrics"
)

// Solution is a discovered prime gap meeting the target merit.
type Solution struct {
	Shift   uint32
	Adder   *big.Int
	GapSize uint32
	Merit   float64
}

// Stats exposes cumulative sieve-engine counters for monitoring.
type Stats struct {
	PrimesChecked uint64
	GapsFound     uint64
	SieveCycles   uint64
	BestMerit     float64
}

// Engine is the G core.
type Engine struct {
	logger *zap.Logger
	params Params

	smallPrimes *smallPrimeTable
	wheel       *wheel

	running atomic.Bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	primesChecked atomic.Uint64
	gapsFound     atomic.Uint64
	sieveCycles   atomic.Uint64
	bestMeritBits atomic.Uint64 // bits of float64, compare-exchanged

	gpu     gpuengine.Backend
	metrics *metrics.Exporter
}

// SetMetrics attaches a metrics exporter; sieve-cycle and merit
// observations are dropped silently until this is called.
func (e *Engine) SetMetrics(m *metrics.Exporter) {
	e.metrics = m
}

// minEndpointFermatRounds is the floor on witness rounds applied to a
// gap's two endpoints, matching FERMAT_TEST_ROUNDS in the reference
// miner: a candidate whose endpoints were checked with fewer witnesses
// is not a valid consensus solution, so New clamps up to this floor
// regardless of what params.FermatRounds requests.
const minEndpointFermatRounds = 3

// New creates a sieve engine, building the small-prime table and wheel
// once so every mining thread shares them.
func New(logger *zap.Logger, params Params, gpu gpuengine.Backend) *Engine {
	if gpu == nil {
		gpu = gpuengine.Noop()
	}
	if params.FermatRounds < minEndpointFermatRounds {
		params.FermatRounds = minEndpointFermatRounds
	}
	return &Engine{
		logger:      logger,
		params:      params,
		smallPrimes: generateSmallPrimes(params.SievePrimes),
		wheel:       generateWheelPattern(params.WheelModulus),
		gpu:         gpu,
	}
}

// Stats returns a snapshot of cumulative counters.
func (e *Engine) Stats() Stats {
	return Stats{
		PrimesChecked: e.primesChecked.Load(),
		GapsFound:     e.gapsFound.Load(),
		SieveCycles:   e.sieveCycles.Load(),
		BestMerit:     bitsToFloat(e.bestMeritBits.Load()),
	}
}

func bitsToFloat(bits uint64) float64 {
	return math.Float64frombits(bits)
}

func floatToBits(f float64) uint64 {
	return math.Float64bits(f)
}

// basePrime computes p0 = SHA256(HeaderForPoW()) * 2^shift, matching
// CalculatePrimeCandidate: the Gapcoin-specific fields are zeroed before
// hashing so the candidate is derived purely from the block's other
// contents.
func basePrime(hdr blockheader.Header, shift uint32) *big.Int {
	h := hdr.HeaderForPoW().Serialize()
	digest := sha256.Sum256(h)

	hashInt := new(big.Int).SetBytes(reverseBytes(digest[:]))
	shiftMul := new(big.Int).Lsh(big.NewInt(1), uint(shift))
	result := new(big.Int).Mul(hashInt, shiftMul)

	if result.Bit(0) == 0 {
		result.Add(result, big.NewInt(1))
	}
	return result
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[len(b)-1-i]
	}
	return out
}

// StartMining launches threads sieve-and-walk workers searching disjoint
// adder ranges for a gap meeting targetMerit, sending each solution found
// on solutions without blocking: a solution is dropped when solutions has
// no free buffer space. When gpuWorkers > 0, the stride widens to
// (threads+gpuWorkers) segments and the GPU workers take the indices after
// the CPU threads; if the GPU backend reports itself unavailable, no GPU
// worker starts and those ranges are not searched.
func (e *Engine) StartMining(ctx context.Context, hdr blockheader.Header, targetMerit float64, threads int, gpuWorkers int, solutions chan<- Solution) error {
	if e.running.Swap(true) {
		return errAlreadyMining
	}

	e.stopCh = make(chan struct{})
	sieveBits := e.params.SieveBytes * 8
	totalWorkers := threads + gpuWorkers

	for t := 0; t < threads; t++ {
		e.wg.Add(1)
		go e.worker(ctx, hdr, targetMerit, t, totalWorkers, sieveBits, solutions)
	}

	if gpuWorkers > 0 && e.gpu.IsAvailable() {
		for g := 0; g < gpuWorkers; g++ {
			e.wg.Add(1)
			go e.gpuWorker(ctx, hdr, targetMerit, threads+g, totalWorkers, sieveBits, solutions)
		}
	}

	return nil
}

var errAlreadyMining = &miningError{"sieve: already mining"}

type miningError struct{ msg string }

func (e *miningError) Error() string { return e.msg }

func (e *Engine) worker(ctx context.Context, hdr blockheader.Header, targetMerit float64, index, total, sieveBits int, solutions chan<- Solution) {
	defer e.wg.Done()
	defer apperrors.SafeRecover(e.logger, "sieve.worker")

	base := basePrime(hdr, e.params.Shift)
	stride := int64(total * sieveBits)
	adderBase := new(big.Int).Add(base, big.NewInt(int64(index*sieveBits)))
	step := big.NewInt(stride)

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		default:
		}

		e.sieveCycle(base, adderBase, sieveBits, targetMerit, solutions)
		adderBase.Add(adderBase, step)
	}
}

// gpuWorker mirrors worker but delegates the actual segment sieving to the
// GPU backend interface; with no real kernel wired in, this path is only
// reachable when a Backend implementation reports IsAvailable() true.
func (e *Engine) gpuWorker(ctx context.Context, hdr blockheader.Header, targetMerit float64, index, total, sieveBits int, solutions chan<- Solution) {
	defer e.wg.Done()
	defer apperrors.SafeRecover(e.logger, "sieve.gpuWorker")

	base := basePrime(hdr, e.params.Shift)
	stride := int64(total * sieveBits)
	adderBase := new(big.Int).Add(base, big.NewInt(int64(index*sieveBits)))
	step := big.NewInt(stride)

	segment := make([]byte, e.params.SieveBytes)

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		default:
		}
		if e.gpu.IsStopRequested() {
			return
		}

		if err := e.gpu.SieveSegment(adderBase, segment); err != nil {
			e.logger.Warn("gpu sieve segment failed", zap.Error(err))
			return
		}
		gaps, err := e.gpu.FindGaps(adderBase, segment, e.params.MinGapSize)
		if err != nil {
			e.logger.Warn("gpu find gaps failed", zap.Error(err))
			return
		}
		for _, g := range gaps {
			e.verifyAndEmit(base, g.Start, g.GapSize, targetMerit, solutions)
		}

		e.sieveCycles.Add(1)
		if e.metrics != nil {
			e.metrics.IncSieveCycles()
		}
		adderBase.Add(adderBase, step)
	}
}

func (e *Engine) sieveCycle(base, adderBase *big.Int, sieveBits int, targetMerit float64, solutions chan<- Solution) {
	segment := newSieveSegment(e.params.SieveBytes, adderBase)

	segment.applyWheel(e.wheel)
	for _, p := range e.smallPrimes.primes {
		segment.sieveWith(p)
	}

	e.sieveCycles.Add(1)
	if e.metrics != nil {
		e.metrics.IncSieveCycles()
	}

	var gapStart = -1
	for bit := 0; bit < sieveBits; bit++ {
		if segment.isComposite(bit) {
			continue
		}

		e.primesChecked.Add(1)

		if gapStart < 0 {
			gapStart = bit
			continue
		}

		gapSize := uint32(bit - gapStart)
		if gapSize >= e.params.MinGapSize {
			startPrime := segment.candidatePrime(gapStart)
			e.verifyAndEmit(base, startPrime, gapSize, targetMerit, solutions)
		}
		gapStart = bit
	}
}

// verifyAndEmit verifies a candidate gap starting at the absolute integer
// startPrime, then — on success — emits a Solution whose Adder is
// startPrime relative to base (p0), matching the consensus encoding
// candidate = p0 + adder rather than storing the absolute value.
func (e *Engine) verifyAndEmit(base, startPrime *big.Int, gapSize uint32, targetMerit float64, solutions chan<- Solution) {
	if !isProbablePrime(startPrime, e.params.FermatRounds) {
		return
	}
	endPrime := new(big.Int).Add(startPrime, big.NewInt(int64(gapSize)))
	if !isProbablePrime(endPrime, e.params.FermatRounds) {
		return
	}
	if !verifyGapComposites(startPrime, gapSize) {
		return
	}

	merit := calculateMerit(startPrime, gapSize)
	if merit < targetMerit {
		return
	}

	e.gapsFound.Add(1)
	e.updateBestMerit(merit)
	if e.metrics != nil {
		e.metrics.ObserveMerit(merit)
	}

	adder := new(big.Int).Sub(startPrime, base)

	select {
	case solutions <- Solution{
		Shift:   e.params.Shift,
		Adder:   adder,
		GapSize: gapSize,
		Merit:   merit,
	}:
	default:
	}
}

// updateBestMerit performs a compare-exchange loop so only a strictly
// higher merit ever replaces the recorded best, regardless of which
// worker goroutine finds it.
func (e *Engine) updateBestMerit(merit float64) {
	for {
		current := bitsToFloat(e.bestMeritBits.Load())
		if merit <= current {
			return
		}
		if e.bestMeritBits.CompareAndSwap(floatToBits(current), floatToBits(merit)) {
			return
		}
	}
}

// StopMining cancels all sieve workers and waits for them to exit.
func (e *Engine) StopMining() {
	if !e.running.Swap(false) {
		return
	}
	select {
	case <-e.stopCh:
	default:
		close(e.stopCh)
	}
	e.wg.Wait()
}
