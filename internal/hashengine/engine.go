// Package hashengine implements the R core: a memory-hard,
// RandomX-style proof-of-work hash used to validate mined blocks. It
// derives a cache from an epoch key with Argon2id, optionally expands the
// cache into a multi-gigabyte dataset for full-speed mining, and executes a
// short per-hash VM program seeded by the input and reading through the
// dataset (or, in light mode, a freshly derived cache window).
package hashengine

import (
	"context"
	"crypto/aes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/cpuid/v2"
	"github.com/pbnjay/memory"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/The-Mining-Game/WATTx/internal/apperrors"
	"github.com/The-Mining-Game/WATTx/internal/blockheader"
)

// Mode selects between the lightweight on-the-fly cache read and the
// preloaded multi-gigabyte dataset.
type Mode int

const (
	ModeLight Mode = iota
	ModeFull
)

const (
	cacheSize              = 16 * 1024 * 1024   // 16 MiB cache
	fullDatasetSize        = 2 * 1024 * 1024 * 1024 // 2 GiB dataset
	lightDatasetWindowSize = 1024 * 1024          // 1 MiB derived window per hash in light mode
	scratchpadSize         = 2 * 1024 * 1024
	programSize            = 256
)

func sha256Sum(b []byte) [32]byte {
	return sha256.Sum256(b)
}

// Config controls engine sizing; Threads of 0 means runtime.NumCPU().
type Config struct {
	Threads   int
	Mode      Mode
	SafeMode  bool
	HugePages bool
}

// Engine is the R core. A single Engine instance is shared by all mining
// threads; each mining worker carries its own VM, Hash builds its VM under
// vmMu, and the cache/dataset and key are shared under mu.
type Engine struct {
	logger *zap.Logger
	cfg    Config

	mu      sync.RWMutex
	key     []byte
	cache   []byte
	dataset []byte
	mode    Mode

	vmMu sync.Mutex

	running   atomic.Bool
	stopCh    chan struct{}
	wg        sync.WaitGroup

	hashCount atomic.Uint64
	startTime time.Time
	rateMu    sync.Mutex
	rateWindow []float64
}

// New creates an uninitialized hash engine.
func New(logger *zap.Logger, cfg Config) *Engine {
	if cfg.Threads <= 0 {
		cfg.Threads = runtime.NumCPU()
	}
	return &Engine{
		logger: logger,
		cfg:    cfg,
		mode:   cfg.Mode,
	}
}

// Init derives the cache from key and, in ModeFull, expands it into the
// full dataset. If the host lacks enough free memory for the full dataset,
// Init silently downgrades to ModeLight rather than failing outright.
func (e *Engine) Init(key []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cache, err := deriveCache(key)
	if err != nil {
		return fmt.Errorf("hashengine: derive cache: %w", err)
	}
	e.cache = cache
	e.key = append([]byte(nil), key...)

	mode := e.cfg.Mode
	if mode == ModeFull {
		if free := memory.FreeMemory(); free < uint64(fullDatasetSize)*2 {
			e.logger.Warn("insufficient memory for full dataset, falling back to light mode",
				zap.String("free", humanize.IBytes(free)),
				zap.String("required", humanize.IBytes(uint64(fullDatasetSize)*2)))
			mode = ModeLight
		}
	}

	if mode == ModeFull {
		dataset, err := expandDataset(cache, e.cfg.Threads, e.cfg.HugePages)
		if err != nil {
			e.logger.Warn("dataset expansion failed, falling back to light mode", zap.Error(err))
			mode = ModeLight
		} else {
			e.dataset = dataset
			e.logger.Info("full dataset ready", zap.String("size", humanize.IBytes(uint64(len(dataset)))))
		}
	}

	e.mode = mode
	return nil
}

// RekeyIfNeeded re-derives the cache/dataset when key differs from the
// engine's current key — the lazy-rekey rule from the component design, so
// a stale VM never hashes against the wrong epoch.
func (e *Engine) RekeyIfNeeded(key []byte) error {
	e.mu.RLock()
	same := bytesEqual(e.key, key)
	e.mu.RUnlock()
	if same {
		return nil
	}
	return e.Init(key)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func deriveCache(key []byte) ([]byte, error) {
	return argon2Derive(key, cacheSize), nil
}

// expandDataset deterministically expands cache into the full dataset,
// partitioned across goroutines the way the dataset initialization in the
// reference node parallelizes across hardware threads. Each goroutine
// fills a disjoint absolute byte range of the one dataset-wide AES-CTR
// keystream, so the result does not depend on the partitioning: it is a
// pure function of cache and absolute offset, the same function
// datasetWindow uses to re-derive a window on demand in light mode.
func expandDataset(cache []byte, threads int, hugePages bool) ([]byte, error) {
	dataset, err := allocDataset(fullDatasetSize, hugePages)
	if err != nil {
		return nil, fmt.Errorf("alloc dataset: %w", err)
	}

	chunks := threads
	if chunks <= 0 {
		chunks = 1
	}
	chunkSize := len(dataset) / chunks

	var wg sync.WaitGroup
	for t := 0; t < chunks; t++ {
		start := t * chunkSize
		end := start + chunkSize
		if t == chunks-1 {
			end = len(dataset)
		}
		wg.Add(1)
		go func(start, end int) {
			defer wg.Done()
			fillDatasetRegion(dataset[start:end], cache, start)
		}(start, end)
	}
	wg.Wait()

	return dataset, nil
}

const aesBlockSize = 16

// fillDatasetRegion writes the dataset's AES-CTR keystream bytes
// [off, off+len(dst)) into dst, keyed by a fixed 32-byte window of cache.
// It is a pure function of (cache, off): called chunk by chunk from
// expandDataset to build the full dataset, and called on demand by
// datasetWindow in light mode, so both modes read identical bytes for
// the same absolute offset regardless of how the dataset was
// partitioned.
func fillDatasetRegion(dst, cache []byte, off int) {
	block, err := aes.NewCipher(cache[:32])
	if err != nil {
		for i := range dst {
			dst[i] = cache[(off+i)%len(cache)]
		}
		return
	}

	blockIndex := uint64(off / aesBlockSize)
	skip := off % aesBlockSize

	counter := make([]byte, aesBlockSize)
	binary.BigEndian.PutUint64(counter[8:], blockIndex)
	stream := make([]byte, aesBlockSize)

	written := 0
	for written < len(dst) {
		block.Encrypt(stream, counter)
		chunk := stream[:]
		if written == 0 && skip > 0 {
			chunk = stream[skip:]
		}
		written += copy(dst[written:], chunk)
		incrementCounter(counter)
	}
}

func incrementCounter(counter []byte) {
	for i := len(counter) - 1; i >= 0; i-- {
		counter[i]++
		if counter[i] != 0 {
			break
		}
	}
}

// datasetOffsetForSeed picks the dataset window's starting offset from
// the input's seed hash, identically regardless of mode, so full mode's
// slice of the precomputed dataset and light mode's on-demand derivation
// start at the same absolute offset.
func datasetOffsetForSeed(seed [32]byte) int {
	off := int(seed[0])<<16 | int(seed[1])<<8 | int(seed[2])
	off %= fullDatasetSize - lightDatasetWindowSize
	if off < 0 {
		off = 0
	}
	off -= off % aesBlockSize
	return off
}

// datasetWindow returns the bytes the VM should read through for this
// input: a slice of the preloaded dataset in full mode, or a freshly
// derived window from the cache in light mode. Both modes resolve to the
// same absolute offset and the same fillDatasetRegion keystream, so
// hash(I) agrees between a full-mode miner and a light-mode validator.
func (e *Engine) datasetWindow(seed [32]byte) []byte {
	e.mu.RLock()
	defer e.mu.RUnlock()

	off := datasetOffsetForSeed(seed)

	if e.mode == ModeFull && len(e.dataset) > 0 {
		return e.dataset[off : off+lightDatasetWindowSize]
	}

	window := make([]byte, lightDatasetWindowSize)
	fillDatasetRegion(window, e.cache, off)
	return window
}

// Hash computes the engine's proof-of-work hash of input.
func (e *Engine) Hash(input []byte) [32]byte {
	seed := sha256Sum(input)
	window := e.datasetWindow(seed)

	e.vmMu.Lock()
	defer e.vmMu.Unlock()

	v := newVM(scratchpadSize, programSize)
	v.init(seed, window)
	v.run()
	return v.finalize()
}

// MeetsTarget reports whether hash satisfies target under big-endian
// comparison.
func (e *Engine) MeetsTarget(hash, target [32]byte) bool {
	return blockheader.MeetsTarget(hash, target)
}

// Hashrate returns a smoothed hashes-per-second estimate over the current
// mining session.
func (e *Engine) Hashrate() float64 {
	e.rateMu.Lock()
	defer e.rateMu.Unlock()

	if len(e.rateWindow) == 0 {
		return 0
	}
	return stat.Mean(e.rateWindow, nil)
}

// StartMining launches cfg.Threads worker goroutines that search nonces
// for hdr against target, invoking onSolution exactly once with the
// solving header (nonce filled in) the first time a worker finds a match.
// StartMining returns immediately; call StopMining to cancel.
func (e *Engine) StartMining(ctx context.Context, hdr blockheader.Header, target [32]byte, onSolution func(blockheader.Header)) error {
	if e.running.Swap(true) {
		return fmt.Errorf("hashengine: already mining")
	}

	e.stopCh = make(chan struct{})
	e.startTime = time.Now()
	e.hashCount.Store(0)

	nonceCh := make(chan uint32, e.cfg.Threads*2)
	var once sync.Once
	var foundHdr blockheader.Header

	for i := 0; i < e.cfg.Threads; i++ {
		e.wg.Add(1)
		go e.worker(hdr, target, nonceCh, &once, &foundHdr, onSolution)
	}

	go func() {
		defer apperrors.SafeRecover(e.logger, "hashengine.nonceFeeder")
		var nonce uint32
		for {
			select {
			case <-e.stopCh:
				close(nonceCh)
				return
			case <-ctx.Done():
				close(nonceCh)
				return
			case nonceCh <- nonce:
				nonce++
			}
		}
	}()

	go e.sampleRate(ctx)

	return nil
}

func (e *Engine) worker(hdr blockheader.Header, target [32]byte, nonceCh <-chan uint32, once *sync.Once, foundHdr *blockheader.Header, onSolution func(blockheader.Header)) {
	defer e.wg.Done()
	defer apperrors.SafeRecover(e.logger, "hashengine.worker")

	v := newVM(scratchpadSize, programSize)
	for nonce := range nonceCh {
		candidate := hdr
		candidate.Nonce = nonce

		seed := sha256Sum(candidate.Serialize())
		v.init(seed, e.datasetWindow(seed))
		v.run()
		hash := v.finalize()
		count := e.hashCount.Add(1)

		if e.MeetsTarget(hash, target) {
			once.Do(func() {
				*foundHdr = candidate
				onSolution(candidate)
				close(e.stopCh)
			})
			return
		}

		if count&0x3F == 0 {
			select {
			case <-e.stopCh:
				return
			default:
			}
		}
		if count&0xFF == 0 {
			time.Sleep(100 * time.Microsecond)
		}
	}
}

func (e *Engine) sampleRate(ctx context.Context) {
	defer apperrors.SafeRecover(e.logger, "hashengine.sampleRate")

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var last uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-ticker.C:
			current := e.hashCount.Load()
			delta := current - last
			last = current

			e.rateMu.Lock()
			e.rateWindow = append(e.rateWindow, float64(delta))
			if len(e.rateWindow) > 10 {
				e.rateWindow = e.rateWindow[len(e.rateWindow)-10:]
			}
			e.rateMu.Unlock()
		}
	}
}

// StopMining cancels all mining workers and waits for them to exit.
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

// SafeModeRecommended reports whether the host CPU lacks the AES-NI/AVX2
// features the JIT-equivalent fast path assumes, mirroring the reference
// node's hardware-flag detection.
func SafeModeRecommended() bool {
	return !cpuid.CPU.Supports(cpuid.AESNI) || !cpuid.CPU.Supports(cpuid.AVX2)
}
