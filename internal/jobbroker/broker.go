package jobbroker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/The-Mining-Game/WATTx/internal/apperrors"
	"github.com/The-Mining-Game/WATTx/internal/provider"
)

const maxHistory = 10

// Config controls job regeneration cadence.
type Config struct {
	JobTimeoutSeconds int
	ServerTarget      [4]byte
	Algo              string
}

// Broker owns the current job and a bounded history, and notifies
// subscribers whenever a new job is produced.
type Broker struct {
	logger     *zap.Logger
	cfg        Config
	provider   provider.BlockTemplateProvider
	errHandler *apperrors.ErrorHandler

	mu      sync.RWMutex
	current *Job
	history map[string]*Job

	counter atomic.Uint64

	onNewJob func(*Job)

	newBlockCh chan struct{}
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// New creates a Broker against the given template provider. onNewJob is
// invoked (outside any lock) every time a fresh job replaces current.
func New(logger *zap.Logger, cfg Config, p provider.BlockTemplateProvider, onNewJob func(*Job)) *Broker {
	return &Broker{
		logger:     logger,
		cfg:        cfg,
		provider:   p,
		errHandler: apperrors.NewErrorHandler(logger),
		history:    make(map[string]*Job),
		onNewJob:   onNewJob,
		newBlockCh: make(chan struct{}, 1),
	}
}

// Start creates the initial job and launches the timeout-driven
// regeneration loop.
func (b *Broker) Start(ctx context.Context) error {
	if _, err := b.createJob(ctx); err != nil {
		return fmt.Errorf("jobbroker: initial job: %w", err)
	}

	b.stopCh = make(chan struct{})
	b.wg.Add(1)
	go b.loop(ctx)
	return nil
}

// Stop cancels the regeneration loop.
func (b *Broker) Stop() {
	select {
	case <-b.stopCh:
	default:
		if b.stopCh != nil {
			close(b.stopCh)
		}
	}
	b.wg.Wait()
}

func (b *Broker) loop(ctx context.Context) {
	defer b.wg.Done()
	defer apperrors.SafeRecover(b.logger, "jobbroker.loop")

	timeout := time.Duration(b.cfg.JobTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ticker := time.NewTicker(timeout)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case <-ticker.C:
			if _, err := b.createJob(ctx); err != nil {
				b.logger.Warn("job regeneration failed", zap.Error(err))
			}
		case <-b.newBlockCh:
			if _, err := b.createJob(ctx); err != nil {
				b.logger.Warn("job regeneration after new-block notify failed", zap.Error(err))
			}
			ticker.Reset(timeout)
		}
	}
}

// NotifyNewBlock wakes the regeneration loop immediately, mirroring
// notify_new_block being called after a successful submission or an
// externally observed chain-tip change. Non-blocking: a pending
// notification already queued is enough.
func (b *Broker) NotifyNewBlock() {
	select {
	case b.newBlockCh <- struct{}{}:
	default:
	}
}

func (b *Broker) createJob(ctx context.Context) (*Job, error) {
	tmpl, err := b.provider.CreateTemplate(ctx)
	if err != nil {
		appErr := apperrors.NewError(apperrors.ErrorTypeProvider, apperrors.SeverityHigh, "CREATE_TEMPLATE", "create block template").WithError(err)
		b.errHandler.Handle(ctx, appErr)
		return nil, appErr
	}

	counter := b.counter.Add(1)
	job := &Job{
		JobID:        nextJobID(counter, time.Now()),
		Height:       tmpl.Height,
		Blob:         buildBlob(tmpl),
		ServerTarget: b.cfg.ServerTarget,
		SeedHash:     seedHash(tmpl),
		Algo:         b.cfg.Algo,
		Template:     tmpl,
		CreatedAt:    time.Now(),
	}

	b.mu.Lock()
	b.current = job
	b.addToHistory(job)
	b.mu.Unlock()

	if b.onNewJob != nil {
		b.onNewJob(job)
	}
	return job, nil
}

// addToHistory inserts job, evicting the lexicographically lowest key
// once the bounded history overflows. This mirrors the original
// std::map<string,Job>::erase(begin()) eviction exactly: it removes the
// entry ordered first by job_id string, not the oldest by wall-clock
// time. That divergence is intentional and documented, not a bug to fix
// silently.
func (b *Broker) addToHistory(job *Job) {
	b.history[job.JobID] = job
	if len(b.history) <= maxHistory {
		return
	}

	keys := make([]string, 0, len(b.history))
	for k := range b.history {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	delete(b.history, keys[0])
}

// Current returns the most recently produced job.
func (b *Broker) Current() *Job {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.current
}

// Lookup resolves a job_id against history, for submit-time validation.
func (b *Broker) Lookup(jobID string) (*Job, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	j, ok := b.history[jobID]
	return j, ok
}
