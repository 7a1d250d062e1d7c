package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/ledgerbook/internal/domain"
	"github.com/shopspring/decimal"
)

// Memory is an in-process Store safe for concurrent use.
// Data is lost on restart; use the gorm store for persistence.
type Memory struct {
	mu           sync.RWMutex
	statements   map[string]*domain.Statement
	transactions map[string]*domain.Transaction
	dedup        map[string]string
	profiles     map[string]*domain.BusinessProfile
	users        map[string]*domain.User
	budgets      map[string]*domain.Budget
	debts        map[string]*domain.Debt
	now          func() time.Time
	failInsert   error
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		statements:   make(map[string]*domain.Statement),
		transactions: make(map[string]*domain.Transaction),
		dedup:        make(map[string]string),
		profiles:     make(map[string]*domain.BusinessProfile),
		users:        make(map[string]*domain.User),
		budgets:      make(map[string]*domain.Budget),
		debts:        make(map[string]*domain.Debt),
		now:          time.Now,
	}
}

func copyStatement(st *domain.Statement) *domain.Statement {
	cp := *st
	if st.ErrorLog != nil {
		msg := *st.ErrorLog
		cp.ErrorLog = &msg
	}
	if st.RawPayload != nil {
		cp.RawPayload = append([]byte(nil), st.RawPayload...)
	}
	if st.Mapping != nil {
		m := *st.Mapping
		cp.Mapping = &m
	}
	return &cp
}

func (m *Memory) CreateStatement(ctx context.Context, st *domain.Statement) error {
	if st.ID == "" {
		return fmt.Errorf("CreateStatement: id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.statements[st.ID]; exists {
		return &domain.PersistenceError{Op: "create statement", Cause: fmt.Errorf("duplicate id %s", st.ID)}
	}
	now := m.now()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now
	m.statements[st.ID] = copyStatement(st)
	return nil
}

func (m *Memory) GetStatement(ctx context.Context, id string) (*domain.Statement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.statements[id]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "statement", ID: id}
	}
	return copyStatement(st), nil
}

func (m *Memory) GetStatementForUser(ctx context.Context, userID, id string) (*domain.Statement, error) {
	st, err := m.GetStatement(ctx, id)
	if err != nil {
		return nil, err
	}
	if st.UserID != userID {
		return nil, &domain.NotFoundError{Resource: "statement", ID: id}
	}
	return st, nil
}

func (m *Memory) ListStatements(ctx context.Context, userID string) ([]StatementSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int)
	for _, tx := range m.transactions {
		if tx.StatementID != nil {
			counts[*tx.StatementID]++
		}
	}

	var out []StatementSummary
	for _, st := range m.statements {
		if st.UserID != userID {
			continue
		}
		out = append(out, StatementSummary{Statement: *copyStatement(st), TransactionCount: counts[st.ID]})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Statement.CreatedAt.After(out[j].Statement.CreatedAt)
	})
	return out, nil
}

func (m *Memory) ListStatementIDs(ctx context.Context, state domain.State, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*domain.Statement
	for _, st := range m.statements {
		if st.State == state {
			matched = append(matched, st)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	ids := make([]string, len(matched))
	for i, st := range matched {
		ids[i] = st.ID
	}
	return ids, nil
}

func (m *Memory) StatementIDsByChecksum(ctx context.Context, userID, checksum string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*domain.Statement
	for _, st := range m.statements {
		if st.UserID == userID && st.Checksum == checksum {
			matched = append(matched, st)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})
	ids := make([]string, len(matched))
	for i, st := range matched {
		ids[i] = st.ID
	}
	return ids, nil
}

func (m *Memory) Transition(ctx context.Context, id string, from, to domain.State, change StatementChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.statements[id]
	if !ok {
		return &domain.NotFoundError{Resource: "statement", ID: id}
	}
	if st.State != from {
		return domain.ErrStateConflict
	}
	st.State = to
	applyChange(st, change)
	st.UpdatedAt = m.now()
	return nil
}

func applyChange(st *domain.Statement, change StatementChange) {
	if change.ClearErrorLog {
		st.ErrorLog = nil
	}
	if change.AppendError != "" {
		msg := change.AppendError
		if st.ErrorLog != nil && *st.ErrorLog != "" {
			msg = *st.ErrorLog + "\n" + msg
		}
		st.ErrorLog = &msg
	}
	if change.ProcessedCount != nil {
		st.ProcessedCount = *change.ProcessedCount
	}
}

func (m *Memory) UpdateProgress(ctx context.Context, id string, processed int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.statements[id]
	if !ok {
		return &domain.NotFoundError{Resource: "statement", ID: id}
	}
	st.ProcessedCount = processed
	st.UpdatedAt = m.now()
	return nil
}

func (m *Memory) SaveExtraction(ctx context.Context, id string, payload []byte, recordCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.statements[id]
	if !ok {
		return &domain.NotFoundError{Resource: "statement", ID: id}
	}
	st.RawPayload = append([]byte(nil), payload...)
	st.RecordCount = recordCount
	st.UpdatedAt = m.now()
	return nil
}

func (m *Memory) ResetFailed(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for _, st := range m.statements {
		if st.State.Status != domain.StatusFailed {
			continue
		}
		st.State = domain.StateQueued
		st.ErrorLog = nil
		st.UpdatedAt = m.now()
		ids = append(ids, st.ID)
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *Memory) DeleteStatement(ctx context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.statements[id]
	if !ok || st.UserID != userID {
		return &domain.NotFoundError{Resource: "statement", ID: id}
	}
	for txID, tx := range m.transactions {
		if tx.StatementID != nil && *tx.StatementID == id {
			delete(m.dedup, tx.DedupKey)
			delete(m.transactions, txID)
		}
	}
	delete(m.statements, id)
	return nil
}

// FailInserts makes InsertIfAbsent return err until it is called again with nil.
func (m *Memory) FailInserts(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failInsert = err
}

func (m *Memory) InsertIfAbsent(ctx context.Context, txs []domain.Transaction) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failInsert != nil {
		return 0, m.failInsert
	}

	inserted := 0
	for i := range txs {
		tx := txs[i]
		if _, dup := m.dedup[tx.DedupKey]; dup {
			continue
		}
		if tx.CreatedAt.IsZero() {
			tx.CreatedAt = m.now()
		}
		m.transactions[tx.ID] = &tx
		m.dedup[tx.DedupKey] = tx.ID
		inserted++
	}
	return inserted, nil
}

func (m *Memory) ListTransactions(ctx context.Context, filter TransactionFilter) ([]domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Transaction
	for _, tx := range m.transactions {
		if filter.UserID != "" && tx.UserID != filter.UserID {
			continue
		}
		if filter.StatementID != "" && (tx.StatementID == nil || *tx.StatementID != filter.StatementID) {
			continue
		}
		if filter.ProfileID != "" && tx.ProfileID != filter.ProfileID {
			continue
		}
		if !filter.From.IsZero() && tx.Date.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && tx.Date.After(filter.To) {
			continue
		}
		out = append(out, *tx)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.After(out[j].Date)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []domain.Transaction{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *Memory) GetTransaction(ctx context.Context, userID, id string) (*domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tx, ok := m.transactions[id]
	if !ok || tx.UserID != userID {
		return nil, &domain.NotFoundError{Resource: "transaction", ID: id}
	}
	cp := *tx
	return &cp, nil
}

func (m *Memory) FindByAmount(ctx context.Context, userID string, amount decimal.Decimal, from, to time.Time) ([]domain.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Transaction
	for _, tx := range m.transactions {
		if tx.UserID != userID || !tx.Amount.Equal(amount) {
			continue
		}
		if tx.Date.Before(from) || tx.Date.After(to) {
			continue
		}
		out = append(out, *tx)
	}
	return out, nil
}

func (m *Memory) UpdateTransactionProfile(ctx context.Context, userID, id, profileID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.transactions[id]
	if !ok || tx.UserID != userID {
		return &domain.NotFoundError{Resource: "transaction", ID: id}
	}
	tx.ProfileID = profileID
	tx.Metadata.Source = domain.SourceManual
	tx.Metadata.NeedsReview = false
	return nil
}

func (m *Memory) CreateProfile(ctx context.Context, p *domain.BusinessProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now()
	}
	cp := *p
	m.profiles[p.ID] = &cp
	return nil
}

func (m *Memory) ListProfiles(ctx context.Context, userID string) ([]domain.BusinessProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.BusinessProfile
	for _, p := range m.profiles {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) GetProfile(ctx context.Context, userID, id string) (*domain.BusinessProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.profiles[id]
	if !ok || p.UserID != userID {
		return nil, &domain.NotFoundError{Resource: "profile", ID: id}
	}
	cp := *p
	return &cp, nil
}

func (m *Memory) SaveUser(ctx context.Context, u *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *Memory) GetUser(ctx context.Context, id string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "user", ID: id}
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) ListBudgets(ctx context.Context, userID string) ([]domain.Budget, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Budget
	for _, b := range m.budgets {
		if b.UserID == userID {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveBudget(ctx context.Context, b *domain.Budget) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *b
	m.budgets[b.ID] = &cp
	return nil
}

func (m *Memory) ListDebts(ctx context.Context, userID string) ([]domain.Debt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []domain.Debt
	for _, d := range m.debts {
		if d.UserID == userID {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) SaveDebt(ctx context.Context, d *domain.Debt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *d
	m.debts[d.ID] = &cp
	return nil
}

var _ Store = (*Memory)(nil)

// SetClock replaces the time source used for timestamps.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}
