package store

import (
	"context" // Cancellation and deadlines
	"sort"    // Ordering listings
	"sync"    // Guards the maps

	"wallet_settlement/internal/domain" // Domain models

	"github.com/shopspring/decimal" // Exact money arithmetic
)

// MemoryStore is the ephemeral Store. One mutex serializes every unit of work,
// which gives the same per-wallet isolation as a row lock.
type MemoryStore struct {
	mu           sync.Mutex
	wallets      map[string]domain.Wallet
	transactions map[string]domain.Transaction
	byExternal   map[string]string
	disputes     map[string]domain.Dispute
	users        map[string]domain.User
	usernames    map[string]string
	noIndex      bool
}

// MemoryOption customizes a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithoutRecencyIndex makes ordered listings fail with ErrIndexUnavailable,
// like a document store missing its compound index.
func WithoutRecencyIndex() MemoryOption {
	return func(s *MemoryStore) { s.noIndex = true }
}

// NewMemoryStore returns an empty ephemeral store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		wallets:      make(map[string]domain.Wallet),
		transactions: make(map[string]domain.Transaction),
		byExternal:   make(map[string]string),
		disputes:     make(map[string]domain.Dispute),
		users:        make(map[string]domain.User),
		usernames:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) GetWallet(_ context.Context, userID string) (*domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &w, nil
}

func (s *MemoryStore) RunInTx(ctx context.Context, fn func(tx LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx := &memoryTx{
		s:       s,
		wallets: make(map[string]domain.Wallet),
		txs:     make(map[string]domain.Transaction),
	}
	// Discard staged writes on error
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (s *MemoryStore) FindByExternalPaymentID(_ context.Context, externalID string) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byExternal[externalID]
	if !ok {
		return nil, ErrNotFound
	}
	t := s.transactions[id]
	return &t, nil
}

func (s *MemoryStore) scan(q TransactionQuery) []domain.Transaction {
	out := make([]domain.Transaction, 0)
	for _, t := range s.transactions {
		if q.Match(&t) {
			out = append(out, t)
		}
	}
	return out
}

func (s *MemoryStore) ListTransactions(_ context.Context, q TransactionQuery) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Simulate a missing index
	if s.noIndex {
		return nil, ErrIndexUnavailable
	}
	out := s.scan(q)
	Sort(out, q.OldestFirst)
	return Page(out, q.Limit, q.Offset), nil
}

func (s *MemoryStore) ScanTransactions(_ context.Context, q TransactionQuery) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scan(q), nil
}

func (s *MemoryStore) Stats(_ context.Context, userID string) (TransactionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Only completed entries count toward totals
	stats := TransactionStats{TotalDeposited: decimal.Zero, TotalWithdrawn: decimal.Zero}
	for _, t := range s.scan(TransactionQuery{UserID: userID, Status: domain.StatusCompleted}) {
		stats.Count++
		switch t.Type {
		case domain.TransactionDeposit:
			stats.TotalDeposited = stats.TotalDeposited.Add(t.Amount)
		case domain.TransactionWithdrawal:
			stats.TotalWithdrawn = stats.TotalWithdrawn.Sub(t.Amount)
		}
	}
	return stats, nil
}

// Sort orders transactions by creation time and then id, newest first unless
// oldestFirst is set.
func Sort(txs []domain.Transaction, oldestFirst bool) {
	sort.SliceStable(txs, func(i, j int) bool {
		a, b := &txs[i], &txs[j]
		if oldestFirst {
			a, b = b, a
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			// Newer first
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}

// Page applies limit and offset to an already ordered slice.
func Page(txs []domain.Transaction, limit, offset int) []domain.Transaction {
	if offset >= len(txs) {
		return []domain.Transaction{}
	}
	if offset > 0 {
		txs = txs[offset:]
	}
	if limit > 0 && limit < len(txs) {
		txs = txs[:limit]
	}
	return txs
}

// memoryTx stages writes and applies them only when the unit of work succeeds.
type memoryTx struct {
	s       *MemoryStore
	wallets map[string]domain.Wallet
	txs     map[string]domain.Transaction
}

func (t *memoryTx) wallet(userID string) domain.Wallet {
	if w, ok := t.wallets[userID]; ok {
		return w
	}
	if w, ok := t.s.wallets[userID]; ok {
		return w
	}
	return domain.Wallet{UserID: userID, Balance: decimal.Zero, UpdatedAt: domain.Now()}
}

func (t *memoryTx) LockWallet(_ context.Context, userID string) (*domain.Wallet, error) {
	w := t.wallet(userID)
	t.wallets[userID] = w
	return &w, nil
}

func (t *memoryTx) AdjustBalance(_ context.Context, userID string, delta decimal.Decimal) error {
	w := t.wallet(userID)
	w.Balance = w.Balance.Add(delta)
	w.UpdatedAt = domain.Now()
	t.wallets[userID] = w
	return nil
}

func (t *memoryTx) InsertTransaction(_ context.Context, tr *domain.Transaction) error {
	if tr.ExternalPaymentID != nil {
		ext := *tr.ExternalPaymentID
		// Unique across committed and staged entries
		if _, ok := t.s.byExternal[ext]; ok {
			return ErrDuplicateExternalPayment
		}
		for _, staged := range t.txs {
			if staged.ExternalPaymentID != nil && *staged.ExternalPaymentID == ext {
				return ErrDuplicateExternalPayment
			}
		}
	}
	t.txs[tr.ID] = *tr
	return nil
}

func (t *memoryTx) GetTransaction(_ context.Context, id string) (*domain.Transaction, error) {
	if tr, ok := t.txs[id]; ok {
		return &tr, nil
	}
	if tr, ok := t.s.transactions[id]; ok {
		return &tr, nil
	}
	return nil, ErrNotFound
}

func (t *memoryTx) UpdateTransactionStatus(ctx context.Context, id string, from, to domain.TransactionStatus, meta domain.Metadata) error {
	tr, err := t.GetTransaction(ctx, id)
	if err != nil {
		return err
	}
	// Conditional on the expected status
	if tr.Status != from {
		return ErrStatusConflict
	}
	tr.Status = to
	tr.Metadata = meta
	t.txs[id] = *tr
	return nil
}

func (t *memoryTx) commit() {
	for id, w := range t.wallets {
		t.s.wallets[id] = w
	}
	for id, tr := range t.txs {
		t.s.transactions[id] = tr
		if tr.ExternalPaymentID != nil {
			// Index for idempotency lookups
			t.s.byExternal[*tr.ExternalPaymentID] = id
		}
	}
}

func (s *MemoryStore) CreateDispute(_ context.Context, d *domain.Dispute) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d.SyncOpenSlot()
	if d.OpenSlot != nil {
		for _, existing := range s.disputes {
			if existing.ChallengeID == d.ChallengeID && existing.ChallengerID == d.ChallengerID && existing.OpenSlot != nil {
				return ErrDuplicateOpenDispute
			}
		}
	}
	now := domain.Now()
	d.CreatedAt, d.UpdatedAt = now, now
	s.disputes[d.ID] = cloneDispute(*d)
	return nil
}

func cloneDispute(d domain.Dispute) domain.Dispute {
	d.Evidence = append([]string(nil), d.Evidence...)
	return d
}

func (s *MemoryStore) GetDispute(_ context.Context, id string) (*domain.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.disputes[id]
	if !ok {
		return nil, ErrNotFound
	}
	d = cloneDispute(d)
	return &d, nil
}

func (s *MemoryStore) FindOpenDispute(_ context.Context, challengeID, challengerID string) (*domain.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.disputes {
		if d.ChallengeID == challengeID && d.ChallengerID == challengerID && d.Status.Open() {
			d = cloneDispute(d)
			return &d, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListDisputes(_ context.Context, challengeID string) ([]domain.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Dispute, 0)
	for _, d := range s.disputes {
		if challengeID == "" || d.ChallengeID == challengeID {
			out = append(out, cloneDispute(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateDispute(_ context.Context, id string, fn func(d *domain.Dispute) error) (*domain.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.disputes[id]
	if !ok {
		return nil, ErrNotFound
	}
	d := cloneDispute(current)
	if err := fn(&d); err != nil {
		return nil, err
	}
	d.SyncOpenSlot()
	if d.OpenSlot != nil && current.OpenSlot == nil {
		for otherID, other := range s.disputes {
			if otherID != id && other.ChallengeID == d.ChallengeID && other.ChallengerID == d.ChallengerID && other.OpenSlot != nil {
				return nil, ErrDuplicateOpenDispute
			}
		}
	}
	d.UpdatedAt = domain.Now()
	s.disputes[id] = d
	out := cloneDispute(d)
	return &out, nil
}

func (s *MemoryStore) CreateUser(_ context.Context, u *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usernames[u.Username]; ok {
		return ErrDuplicateUser
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = domain.Now()
	}
	s.users[u.ID] = *u
	s.usernames[u.Username] = u.ID
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.usernames[username]
	if !ok {
		return nil, ErrNotFound
	}
	u := s.users[id]
	return &u, nil
}

func (s *MemoryStore) ListUsers(_ context.Context, limit, offset int) ([]domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if offset >= len(out) {
		return []domain.User{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*GormStore)(nil)
)
