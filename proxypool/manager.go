package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"sendcode_nexus/internal/shared/logger"
	"sendcode_nexus/internal/shared/types"
	"sendcode_nexus/proxypool/catalog"
	"sendcode_nexus/proxypool/model"
	"sendcode_nexus/proxypool/scheduler"
	"sendcode_nexus/proxypool/storage"
	"sendcode_nexus/proxypool/trial"
)

var (
	// ErrInvalidTarget is returned for targets that are not '+' followed by digits.
	ErrInvalidTarget = errors.New("invalid target: expected '+' followed by digits")
	// ErrBusy is returned when a batch is already in flight.
	ErrBusy = errors.New("a batch is already running")
)

// Listener is told about batch progress. All methods may be called concurrently.
type Listener interface {
	OnBatchStart(batchID, target string, endpoints int)
	OnTrialStatus(batchID string, status trial.Status)
	OnBatchFinish(result *model.AggregateResult)
}

// Manager 是批次调度的总控制器：加载代理目录 -> 并发尝试 -> 汇总 -> 持久化。
type Manager struct {
	cfg       *types.Config
	storage   storage.Storage
	attempter scheduler.Attempter
	listener  Listener

	running atomic.Bool
	mu      sync.RWMutex
	last    *model.AggregateResult
}

// NewManager 创建批次管理器。listener 可以为 nil。
func NewManager(cfg *types.Config, storage storage.Storage, attempter scheduler.Attempter, listener Listener) *Manager {
	return &Manager{
		cfg:       cfg,
		storage:   storage,
		attempter: attempter,
		listener:  listener,
	}
}

// ValidateTarget checks the phone-number shape: a leading '+' followed only by digits.
func ValidateTarget(target string) error {
	if len(target) < 2 || target[0] != '+' {
		return ErrInvalidTarget
	}
	for _, r := range target[1:] {
		if r < '0' || r > '9' {
			return ErrInvalidTarget
		}
	}
	return nil
}

// Dispatch runs one batch for target and returns its aggregate. Individual trial
// failures never turn into an error; only an invalid target, a busy manager or an
// unreadable proxy source do. A failed write of the success list is reported in
// the result's PersistError.
func (m *Manager) Dispatch(ctx context.Context, target string) (*model.AggregateResult, error) {
	if err := ValidateTarget(target); err != nil {
		return nil, err
	}
	if !m.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer m.running.Store(false)

	batchID := uuid.NewString()
	l := logger.WithComponent("ProxyPool/Manager").With().Str("batch_id", batchID).Logger()
	startedAt := time.Now()

	endpoints, err := m.selectEndpoints()
	if err != nil {
		l.Error().Err(err).Msg("Failed to load proxy catalog.")
		return nil, err
	}

	l.Info().Int("endpoints", len(endpoints)).Str("mode", m.cfg.CommonConf.Mode).Msg("Starting batch...")
	if m.listener != nil {
		m.listener.OnBatchStart(batchID, target, len(endpoints))
	}

	pool := scheduler.NewPool(m.attempter,
		scheduler.WithConcurrency(m.cfg.TrialConf.ConcurrencyLimit),
		scheduler.WithStagger(m.cfg.TrialConf.StaggerDelay),
		scheduler.WithObserver(m.observer(batchID)),
	)
	records := pool.Run(ctx, target, endpoints)

	result := Aggregate(records)
	result.BatchID = batchID
	result.Target = target
	result.StartedAt = startedAt
	result.FinishedAt = time.Now()

	if err := m.storage.Save(result.Succeeded); err != nil {
		l.Error().Err(err).Msg("Failed to save working proxies.")
		result.PersistError = err.Error()
	}

	l.Info().
		Int("attempted", result.Attempted).
		Int("succeeded", len(result.Succeeded)).
		Dur("elapsed", result.FinishedAt.Sub(startedAt)).
		Msg("Batch finished.")

	m.mu.Lock()
	m.last = result
	m.mu.Unlock()

	if m.listener != nil {
		m.listener.OnBatchFinish(result)
	}
	return result, nil
}

// selectEndpoints applies the retrieval mode: the first valid entry in single
// mode, the capped full list otherwise.
func (m *Manager) selectEndpoints() ([]model.Endpoint, error) {
	endpoints, err := catalog.LoadFile(m.cfg.FilesConf.ProxiesFile)
	if err != nil {
		return nil, fmt.Errorf("load proxy catalog: %w", err)
	}
	if m.cfg.CommonConf.Mode == types.ModeSingle {
		return catalog.First(endpoints), nil
	}
	return catalog.Limit(endpoints, m.cfg.TrialConf.MaxEndpoints), nil
}

func (m *Manager) observer(batchID string) trial.Observer {
	if m.listener == nil {
		return nil
	}
	return trial.ObserverFunc(func(s trial.Status) {
		m.listener.OnTrialStatus(batchID, s)
	})
}

// Running reports whether a batch is in flight.
func (m *Manager) Running() bool {
	return m.running.Load()
}

// LastResult returns the aggregate of the most recent batch, or nil.
func (m *Manager) LastResult() *model.AggregateResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// SavedProxies returns the persisted list of proxies that worked in the last run.
func (m *Manager) SavedProxies() ([]model.Endpoint, error) {
	return m.storage.Load()
}
