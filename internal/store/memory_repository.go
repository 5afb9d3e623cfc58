package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/g-99215544-beep/pinjamanhutang/internal/domain"
)

// MemoryRepository is an in-process Repository with optimistic concurrency.
// Every record carries a version; an atomic unit remembers the version of each
// record it read and commits only if none of them moved in the meantime.
type MemoryRepository struct {
	mu           sync.Mutex
	seq          uint64
	versions     map[string]uint64
	debtors      map[string]domain.Debtor
	transactions map[string]map[string]domain.Transaction
	requests     map[string]domain.PaymentRequest
	// gatewayOwners maps a gateway transaction id to the debtor it credited.
	gatewayOwners map[string]string
	maxAttempts   int
	now           func() time.Time
}

// NewMemoryRepository creates an empty in-memory store.
func NewMemoryRepository(maxAttempts int) *MemoryRepository {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &MemoryRepository{
		versions:      make(map[string]uint64),
		debtors:       make(map[string]domain.Debtor),
		transactions:  make(map[string]map[string]domain.Transaction),
		requests:      make(map[string]domain.PaymentRequest),
		gatewayOwners: make(map[string]string),
		maxAttempts:   maxAttempts,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func debtorKey(id string) string         { return "debtor/" + id }
func transactionKey(d, id string) string { return "txn/" + d + "/" + id }
func requestKey(orderID string) string   { return "request/" + orderID }
func gatewayKey(id string) string        { return "gateway/" + id }

// Atomically runs fn against a snapshot and commits its buffered writes if every
// record it read is unchanged, re-running fn on conflict.
func (r *MemoryRepository) Atomically(ctx context.Context, fn AtomicFunc) error {
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := newMemoryTx(r)
		if err := fn(ctx, tx); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			return err
		}
		if err := r.commit(tx); err != nil {
			if errors.Is(err, ErrConflict) {
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, r.maxAttempts, ErrConflict)
}

func (r *MemoryRepository) commit(tx *memoryTx) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for key, seen := range tx.reads {
		if r.versions[key] != seen {
			return ErrConflict
		}
	}
	for _, key := range tx.inserts {
		if _, taken := r.versions[key]; taken {
			if _, read := tx.reads[key]; !read {
				return ErrConflict
			}
		}
	}

	for id, d := range tx.debtors {
		r.seq++
		r.versions[debtorKey(id)] = r.seq
		d.Version = int64(r.seq)
		r.debtors[id] = d
	}
	for _, txn := range tx.transactions {
		r.seq++
		r.versions[transactionKey(txn.DebtorID, txn.ID)] = r.seq
		if r.transactions[txn.DebtorID] == nil {
			r.transactions[txn.DebtorID] = make(map[string]domain.Transaction)
		}
		r.transactions[txn.DebtorID][txn.ID] = txn
		if txn.Provider == domain.ProviderGateway {
			r.versions[gatewayKey(txn.ID)] = r.seq
			r.gatewayOwners[txn.ID] = txn.DebtorID
		}
	}
	for orderID, req := range tx.requests {
		r.seq++
		r.versions[requestKey(orderID)] = r.seq
		r.requests[orderID] = req
	}
	return nil
}

// FindDebtorByID retrieves a debtor by id.
func (r *MemoryRepository) FindDebtorByID(_ context.Context, debtorID string) (*domain.Debtor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.debtors[debtorID]
	if !ok {
		return nil, ErrDebtorNotFound
	}
	return &d, nil
}

// FindDebtorByPhone retrieves the oldest debtor registered with the given phone.
func (r *MemoryRepository) FindDebtorByPhone(_ context.Context, phone string) (*domain.Debtor, error) {
	phone = strings.TrimSpace(phone)
	r.mu.Lock()
	defer r.mu.Unlock()

	var found *domain.Debtor
	for _, d := range r.debtors {
		if d.Phone != phone {
			continue
		}
		if found == nil || d.CreatedAt.Before(found.CreatedAt) {
			candidate := d
			found = &candidate
		}
	}
	if found == nil {
		return nil, ErrDebtorNotFound
	}
	return found, nil
}

// ListDebtors returns all debtors ordered by name.
func (r *MemoryRepository) ListDebtors(_ context.Context) ([]domain.Debtor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	debtors := make([]domain.Debtor, 0, len(r.debtors))
	for _, d := range r.debtors {
		debtors = append(debtors, d)
	}
	sort.Slice(debtors, func(i, j int) bool {
		if debtors[i].Name == debtors[j].Name {
			return debtors[i].ID < debtors[j].ID
		}
		return debtors[i].Name < debtors[j].Name
	})
	return debtors, nil
}

// DeleteDebtor removes a debtor and its transactions.
func (r *MemoryRepository) DeleteDebtor(_ context.Context, debtorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.debtors[debtorID]; !ok {
		return ErrDebtorNotFound
	}
	delete(r.debtors, debtorID)
	r.seq++
	r.versions[debtorKey(debtorID)] = r.seq
	for id, txn := range r.transactions[debtorID] {
		delete(r.versions, transactionKey(debtorID, id))
		if txn.Provider == domain.ProviderGateway && r.gatewayOwners[id] == debtorID {
			delete(r.versions, gatewayKey(id))
			delete(r.gatewayOwners, id)
		}
	}
	delete(r.transactions, debtorID)
	return nil
}

// ListTransactions returns a debtor's transactions, newest first.
func (r *MemoryRepository) ListTransactions(_ context.Context, debtorID string, limit int) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	transactions := make([]domain.Transaction, 0, len(r.transactions[debtorID]))
	for _, txn := range r.transactions[debtorID] {
		transactions = append(transactions, txn)
	}
	sort.Slice(transactions, func(i, j int) bool {
		if transactions[i].CreatedAt.Equal(transactions[j].CreatedAt) {
			return transactions[i].ID > transactions[j].ID
		}
		return transactions[i].CreatedAt.After(transactions[j].CreatedAt)
	})
	if limit = normalizeLimit(limit); len(transactions) > limit {
		transactions = transactions[:limit]
	}
	return transactions, nil
}

// SumTransactions returns the sum and count of a debtor's transactions.
func (r *MemoryRepository) SumTransactions(_ context.Context, debtorID string) (float64, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sum := 0.0
	for _, txn := range r.transactions[debtorID] {
		sum += txn.Amount
	}
	return domain.RoundMoney(sum), len(r.transactions[debtorID]), nil
}

// FindPaymentRequest retrieves a payment request by order id.
func (r *MemoryRepository) FindPaymentRequest(_ context.Context, orderID string) (*domain.PaymentRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[orderID]
	if !ok {
		return nil, ErrPaymentRequestNotFound
	}
	return &req, nil
}

// CreatePaymentRequest inserts a new payment request.
func (r *MemoryRepository) CreatePaymentRequest(_ context.Context, req *domain.PaymentRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.requests[req.OrderID]; exists {
		return ErrDuplicateKey
	}
	r.seq++
	r.versions[requestKey(req.OrderID)] = r.seq
	r.requests[req.OrderID] = *req
	return nil
}

// MergePaymentRequest applies a set-with-merge update in its own atomic unit.
func (r *MemoryRepository) MergePaymentRequest(ctx context.Context, patch domain.PaymentRequestPatch) (*domain.PaymentRequest, error) {
	var merged *domain.PaymentRequest
	err := r.Atomically(ctx, func(ctx context.Context, tx LedgerTx) error {
		var err error
		merged, err = tx.MergePaymentRequest(ctx, patch)
		return err
	})
	return merged, err
}

// memoryTx buffers writes and records read versions until commit.
type memoryTx struct {
	repo         *MemoryRepository
	reads        map[string]uint64
	inserts      []string
	debtors      map[string]domain.Debtor
	transactions []domain.Transaction
	requests     map[string]domain.PaymentRequest
}

func newMemoryTx(repo *MemoryRepository) *memoryTx {
	return &memoryTx{
		repo:     repo,
		reads:    make(map[string]uint64),
		debtors:  make(map[string]domain.Debtor),
		requests: make(map[string]domain.PaymentRequest),
	}
}

func (t *memoryTx) observe(key string) {
	if _, seen := t.reads[key]; seen {
		return
	}
	t.reads[key] = t.repo.versions[key]
}

func (t *memoryTx) GetDebtor(_ context.Context, debtorID string) (*domain.Debtor, error) {
	if d, ok := t.debtors[debtorID]; ok {
		return &d, nil
	}
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	t.observe(debtorKey(debtorID))
	d, ok := t.repo.debtors[debtorID]
	if !ok {
		return nil, ErrDebtorNotFound
	}
	return &d, nil
}

func (t *memoryTx) FindGatewayTransaction(_ context.Context, transactionID string) (*domain.Transaction, error) {
	for _, txn := range t.transactions {
		if txn.Provider == domain.ProviderGateway && txn.ID == transactionID {
			found := txn
			return &found, nil
		}
	}
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	t.observe(gatewayKey(transactionID))
	owner, ok := t.repo.gatewayOwners[transactionID]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	txn := t.repo.transactions[owner][transactionID]
	return &txn, nil
}

func (t *memoryTx) GetPaymentRequest(_ context.Context, orderID string) (*domain.PaymentRequest, error) {
	if req, ok := t.requests[orderID]; ok {
		return &req, nil
	}
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	t.observe(requestKey(orderID))
	req, ok := t.repo.requests[orderID]
	if !ok {
		return nil, ErrPaymentRequestNotFound
	}
	return &req, nil
}

func (t *memoryTx) CreateDebtor(_ context.Context, debtor *domain.Debtor) error {
	if _, ok := t.debtors[debtor.ID]; ok {
		return ErrDuplicateKey
	}
	t.repo.mu.Lock()
	_, exists := t.repo.debtors[debtor.ID]
	t.repo.mu.Unlock()
	if exists {
		return ErrDuplicateKey
	}
	debtor.Recompute()
	t.inserts = append(t.inserts, debtorKey(debtor.ID))
	t.debtors[debtor.ID] = *debtor
	return nil
}

func (t *memoryTx) UpdateDebtor(ctx context.Context, debtor *domain.Debtor) error {
	if _, err := t.GetDebtor(ctx, debtor.ID); err != nil {
		return err
	}
	debtor.Recompute()
	t.debtors[debtor.ID] = *debtor
	return nil
}

func (t *memoryTx) InsertTransaction(_ context.Context, txn *domain.Transaction) error {
	gateway := txn.Provider == domain.ProviderGateway
	for _, pending := range t.transactions {
		if pending.DebtorID == txn.DebtorID && pending.ID == txn.ID {
			return ErrDuplicateKey
		}
		if gateway && pending.Provider == domain.ProviderGateway && pending.ID == txn.ID {
			return ErrDuplicateKey
		}
	}
	if gateway {
		t.repo.mu.Lock()
		owner, taken := t.repo.gatewayOwners[txn.ID]
		t.repo.mu.Unlock()
		if taken && owner != txn.DebtorID {
			return ErrConflict
		}
		t.inserts = append(t.inserts, gatewayKey(txn.ID))
	}
	t.inserts = append(t.inserts, transactionKey(txn.DebtorID, txn.ID))
	t.transactions = append(t.transactions, *txn)
	return nil
}

func (t *memoryTx) MergePaymentRequest(ctx context.Context, patch domain.PaymentRequestPatch) (*domain.PaymentRequest, error) {
	existing, err := t.GetPaymentRequest(ctx, patch.OrderID)
	if err != nil && !errors.Is(err, ErrPaymentRequestNotFound) {
		return nil, err
	}
	merged := patch.Apply(existing, t.repo.now())
	t.requests[patch.OrderID] = *merged
	return merged, nil
}
