// Package minerdriver is the thin orchestrator gluing HashEngine/SieveEngine
// mining loops to JobBroker-supplied templates and routing solutions back
// to the external node through a BlockTemplateProvider.
package minerdriver

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/The-Mining-Game/WATTx/internal/apperrors"
	"github.com/The-Mining-Game/WATTx/internal/blockheader"
	"github.com/The-Mining-Game/WATTx/internal/hashengine"
	"github.com/The-Mining-Game/WATTx/internal/jobbroker"
	"github.com/The-Mining-Game/WATTx/internal/metrics"
	"github.com/The-Mining-Game/WATTx/internal/provider"
	"github.com/The-Mining-Game/WATTx/internal/sieve"
	"github.com/The-Mining-Game/WATTx/internal/stratum"
)

// Driver composes the two mining cores against the broker/provider pair.
type Driver struct {
	logger     *zap.Logger
	broker     *jobbroker.Broker
	provider   provider.BlockTemplateProvider
	errHandler *apperrors.ErrorHandler

	hashEngine  *hashengine.Engine
	sieveEngine *sieve.Engine
	targetMerit float64
	gpuWorkers  int
	metrics     *metrics.Exporter

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	solutions chan sieve.Solution
}

// New wires a Driver to its collaborators. Either engine may be nil if
// this node only exercises the other core. gpuWorkers is forwarded
// unchanged to sieveEngine.StartMining on every (re)start; 0 disables GPU
// partitioning regardless of what backend sieveEngine was built with.
func New(logger *zap.Logger, broker *jobbroker.Broker, p provider.BlockTemplateProvider, hashEngine *hashengine.Engine, sieveEngine *sieve.Engine, targetMerit float64, gpuWorkers int) *Driver {
	return &Driver{
		logger:      logger,
		broker:      broker,
		provider:    p,
		errHandler:  apperrors.NewErrorHandler(logger),
		hashEngine:  hashEngine,
		sieveEngine: sieveEngine,
		targetMerit: targetMerit,
		gpuWorkers:  gpuWorkers,
	}
}

// SetMetrics attaches a metrics exporter; hashrate and block-found
// counters stay at zero until this is called.
func (d *Driver) SetMetrics(m *metrics.Exporter) {
	d.metrics = m
}

// Start launches the mining-loop goroutine that repeatedly asks the
// broker for the current job, mines against it with both cores that are
// configured, and submits on a hit.
func (d *Driver) Start(ctx context.Context, threads int, shift uint32) error {
	if !d.running.CompareAndSwap(false, true) {
		return fmt.Errorf("minerdriver: already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.solutions = make(chan sieve.Solution, 8)

	if d.sieveEngine != nil {
		d.wg.Add(1)
		go d.drainSieveSolutions(loopCtx)
	}

	d.wg.Add(1)
	go d.loop(loopCtx, threads, shift)

	return nil
}

// Stop clears the active flag, stops both engines, and joins the loop.
func (d *Driver) Stop() {
	if !d.running.CompareAndSwap(true, false) {
		return
	}
	if d.cancel != nil {
		d.cancel()
	}
	if d.hashEngine != nil {
		d.hashEngine.StopMining()
	}
	if d.sieveEngine != nil {
		d.sieveEngine.StopMining()
	}
	d.wg.Wait()
}

// loop repeatedly polls the broker for the current job and, whenever the
// job id changes, stops the running engines and re-seeds them against the
// fresh template. The broker itself rotates jobs on job_timeout or
// NotifyNewBlock (see jobbroker.Broker.loop); this is what notices that
// rotation and points the mining cores at the result instead of grinding
// on a template that is already stale.
func (d *Driver) loop(ctx context.Context, threads int, shift uint32) {
	defer d.wg.Done()
	defer apperrors.SafeRecover(d.logger, "minerdriver.loop")

	job := d.broker.Current()
	if job == nil {
		d.logger.Warn("minerdriver: no job available at start")
		return
	}
	d.startEngines(ctx, job, threads, shift)
	currentJobID := job.JobID

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.metrics != nil && d.hashEngine != nil {
				d.metrics.SetHashrate("randomx", d.hashEngine.Hashrate())
			}

			job := d.broker.Current()
			if job == nil || job.JobID == currentJobID {
				continue
			}
			if d.hashEngine != nil {
				d.hashEngine.StopMining()
			}
			if d.sieveEngine != nil {
				d.sieveEngine.StopMining()
			}
			d.startEngines(ctx, job, threads, shift)
			currentJobID = job.JobID
		}
	}
}

// startEngines initializes and launches both configured mining cores
// against job. Callers are responsible for stopping any engines already
// running against a previous job first.
func (d *Driver) startEngines(ctx context.Context, job *jobbroker.Job, threads int, shift uint32) {
	hdr := headerFromJob(job, shift)

	if d.hashEngine != nil {
		if err := d.hashEngine.Init(job.SeedHash[:]); err != nil {
			appErr := apperrors.NewError(apperrors.ErrorTypeMining, apperrors.SeverityHigh, "HASH_ENGINE_INIT", "hash engine initialization failed").WithError(err)
			d.errHandler.Handle(ctx, appErr)
		} else {
			target := job.Template.Bits
			consensusTarget := blockheader.CompactToBig(target)
			var targetBytes [32]byte
			consensusTarget.FillBytes(targetBytes[:])
			if err := d.hashEngine.StartMining(ctx, hdr, targetBytes, func(solved blockheader.Header) {
				d.onHashSolution(ctx, solved)
			}); err != nil {
				d.logger.Error("hash engine start failed", zap.Error(err))
			}
		}
	}

	if d.sieveEngine != nil {
		if err := d.sieveEngine.StartMining(ctx, hdr, d.targetMerit, threads, d.gpuWorkers, d.solutions); err != nil {
			d.logger.Error("sieve engine start failed", zap.Error(err))
		}
	}
}

func (d *Driver) drainSieveSolutions(ctx context.Context) {
	defer d.wg.Done()
	defer apperrors.SafeRecover(d.logger, "minerdriver.drainSieveSolutions")

	for {
		select {
		case <-ctx.Done():
			return
		case sol, ok := <-d.solutions:
			if !ok {
				return
			}
			d.onSieveSolution(ctx, sol)
		}
	}
}

func headerFromJob(job *jobbroker.Job, shift uint32) blockheader.Header {
	t := job.Template
	return blockheader.Header{
		Version:      t.Version,
		PrevHash:     t.PrevHash,
		MerkleRoot:   t.MerkleRoot,
		Time:         t.Time,
		Bits:         t.Bits,
		StateRoot:    t.StateRoot,
		UTXORoot:     t.UTXORoot,
		PrevoutStake: t.PrevoutStake,
		Shift:        shift,
	}
}

func (d *Driver) onHashSolution(ctx context.Context, hdr blockheader.Header) {
	accepted, err := d.provider.SubmitSolution(ctx, hdr.Version, hdr.Time, hdr.Nonce, hdr.PrevoutStake)
	if err != nil {
		appErr := apperrors.NewError(apperrors.ErrorTypeProvider, apperrors.SeverityHigh, "SUBMIT_SOLUTION", "submit hash solution failed").WithError(err)
		d.errHandler.Handle(ctx, appErr)
		return
	}
	if accepted {
		if d.metrics != nil {
			d.metrics.RecordBlockFound()
		}
		d.broker.NotifyNewBlock()
	}
}

// onSieveSolution packs shift/adder/gap_size into the coinbase payload
// handed to the provider, since SubmitSolution's signature is shared with
// the hash path and carries no dedicated gap fields.
func (d *Driver) onSieveSolution(ctx context.Context, sol sieve.Solution) {
	var adderBytes [32]byte
	sol.Adder.FillBytes(adderBytes[:])

	payload := make([]byte, 0, 4+32+4)
	payload = append(payload, nonceToBytes(sol.Shift)...)
	payload = append(payload, adderBytes[:]...)
	payload = append(payload, nonceToBytes(sol.GapSize)...)

	accepted, err := d.provider.SubmitSolution(ctx, 0, 0, 0, payload)
	if err != nil {
		appErr := apperrors.NewError(apperrors.ErrorTypeProvider, apperrors.SeverityHigh, "SUBMIT_GAP_SOLUTION", "submit gap solution failed").WithError(err)
		d.errHandler.Handle(ctx, appErr)
		return
	}
	if accepted {
		if d.metrics != nil {
			d.metrics.RecordBlockFound()
		}
		d.broker.NotifyNewBlock()
	}
}

// ValidateAndSubmitShare implements the eight-step Stratum submit
// contract: resolve the job, parse the nonce, reconstruct the canonical
// header, lazily rekey the HashEngine, hash, compare against the
// consensus target decoded from bits, and submit to the provider only on
// a passing hash.
func (d *Driver) ValidateAndSubmitShare(ctx context.Context, jobID string, nonce uint32) (accepted bool, errCode int, errMsg string) {
	job, ok := d.broker.Lookup(jobID)
	if !ok {
		return false, stratum.ErrCodeUnknownJob, "stale or unknown job"
	}

	hdr := headerFromJob(job, 0)
	hdr.Nonce = nonce

	if d.hashEngine == nil {
		return false, stratum.ErrCodeMalformed, "hash engine unavailable"
	}
	if err := d.hashEngine.RekeyIfNeeded(job.SeedHash[:]); err != nil {
		return false, stratum.ErrCodeMalformed, "hash engine rekey failed"
	}

	hash := d.hashEngine.Hash(hdr.Serialize())

	consensusTarget := blockheader.CompactToBig(job.Template.Bits)
	var targetBytes [32]byte
	consensusTarget.FillBytes(targetBytes[:])

	if !blockheader.MeetsTarget(hash, targetBytes) {
		return false, stratum.ErrCodeLowDifficulty, "low difficulty share"
	}

	coinbase := nonceToBytes(nonce)
	ok, err := d.provider.SubmitSolution(ctx, hdr.Version, hdr.Time, nonce, coinbase)
	if err != nil {
		appErr := apperrors.NewError(apperrors.ErrorTypeProvider, apperrors.SeverityHigh, "SUBMIT_SHARE", "submit share failed").WithError(err)
		d.errHandler.Handle(ctx, appErr)
		return false, stratum.ErrCodeMalformed, "provider error"
	}
	if !ok {
		return false, stratum.ErrCodeMalformed, "provider rejected solution"
	}

	d.broker.NotifyNewBlock()
	return true, 0, ""
}

func nonceToBytes(nonce uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, nonce)
	return b
}
