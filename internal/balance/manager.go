// Package balance tracks the capital available for sizing new orders.
package balance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrInsufficientBalance = errors.New("insufficient balance")

// EquitySource reports current account equity.
type EquitySource interface {
	Equity() decimal.Decimal
}

// Balance is a snapshot of the ledger.
type Balance struct {
	Equity    decimal.Decimal `json:"equity"`
	Exposure  decimal.Decimal `json:"exposure"`
	Reserved  decimal.Decimal `json:"reserved"`
	Available decimal.Decimal `json:"available"`
	LastSync  time.Time       `json:"last_sync"`
}

// Manager is the capital ledger: equity minus open exposure minus capital
// reserved for logical orders still working.
type Manager struct {
	source       EquitySource
	syncInterval time.Duration
	logger       *zap.Logger

	mu       sync.RWMutex
	equity   decimal.Decimal
	exposure map[string]decimal.Decimal
	reserved map[string]decimal.Decimal
	lastSync time.Time
}

// NewManager creates a ledger starting at the given equity. source may be nil.
func NewManager(equity decimal.Decimal, source EquitySource, syncInterval time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if syncInterval <= 0 {
		syncInterval = 10 * time.Second
	}
	return &Manager{
		source:       source,
		syncInterval: syncInterval,
		logger:       logger.Named("balance"),
		equity:       equity,
		exposure:     make(map[string]decimal.Decimal),
		reserved:     make(map[string]decimal.Decimal),
	}
}

// Start begins periodic equity sync until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	m.Sync()

	ticker := time.NewTicker(m.syncInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Sync()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Sync pulls equity from the source.
func (m *Manager) Sync() {
	if m.source == nil {
		return
	}
	m.SetEquity(m.source.Equity())
}

// SetEquity replaces the account equity.
func (m *Manager) SetEquity(equity decimal.Decimal) {
	m.mu.Lock()
	m.equity = equity
	m.lastSync = time.Now()
	m.mu.Unlock()
}

// SetExposure records the open notional of symbol.
func (m *Manager) SetExposure(symbol string, exposure decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if exposure.IsZero() {
		delete(m.exposure, symbol)
		return
	}
	m.exposure[symbol] = exposure
}

// availableLocked must be called with mu held.
func (m *Manager) availableLocked() decimal.Decimal {
	free := m.equity
	for _, e := range m.exposure {
		free = free.Sub(e)
	}
	for _, r := range m.reserved {
		free = free.Sub(r)
	}
	if free.IsNegative() {
		return decimal.Zero
	}
	return free
}

// Available returns the capital free for new orders.
func (m *Manager) Available() decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.availableLocked()
}

// Reserve sets aside notional for the logical order id.
func (m *Manager) Reserve(id string, notional decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	free := m.availableLocked()
	if notional.GreaterThan(free) {
		return fmt.Errorf("%w: need %s, have %s", ErrInsufficientBalance, notional, free)
	}
	m.reserved[id] = m.reserved[id].Add(notional)
	m.logger.Debug("capital reserved", zap.String("order_id", id),
		zap.String("notional", notional.String()), zap.String("available", free.Sub(notional).String()))
	return nil
}

// Consume moves filled notional out of a reservation; the exposure it became is
// reported separately through SetExposure.
func (m *Manager) Consume(id string, notional decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reserved[id]
	if !ok {
		return
	}
	r = r.Sub(notional)
	if !r.IsPositive() {
		delete(m.reserved, id)
		return
	}
	m.reserved[id] = r
}

// Release drops whatever is left of a reservation and returns it.
func (m *Manager) Release(id string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.reserved[id]
	delete(m.reserved, id)
	if r.IsPositive() {
		m.logger.Debug("capital released", zap.String("order_id", id), zap.String("notional", r.String()))
	}
	return r
}

// GetBalance returns the current ledger snapshot.
func (m *Manager) GetBalance() Balance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b := Balance{Equity: m.equity, LastSync: m.lastSync, Available: m.availableLocked()}
	for _, e := range m.exposure {
		b.Exposure = b.Exposure.Add(e)
	}
	for _, r := range m.reserved {
		b.Reserved = b.Reserved.Add(r)
	}
	return b
}
