package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hongminglow/all-in-floor/internal/models"
	"github.com/hongminglow/all-in-floor/internal/storage"
)

var _ storage.Store = (*Store)(nil)

// Store is an in-process implementation of storage.Store. Each user has its
// own mutex so adjustments for different users proceed in parallel.
type Store struct {
	mu      sync.RWMutex // guards users, byName and records
	users   map[int64]models.User
	byName  map[string]int64
	records []models.Transaction

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex

	nextUserID   atomic.Int64
	nextRecordID atomic.Int64
	now          func() time.Time
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		users:  make(map[int64]models.User),
		byName: make(map[string]int64),
		locks:  make(map[int64]*sync.Mutex),
		now:    time.Now,
	}
}

// Close is a no-op.
func (s *Store) Close() {}

func (s *Store) userLock(userID int64) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if _, exists := s.locks[userID]; !exists {
		s.locks[userID] = &sync.Mutex{}
	}
	return s.locks[userID]
}

// CreateUser inserts a new user. InitialBalance is pinned to Balance.
func (s *Store) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	if err := ctx.Err(); err != nil {
		return models.User{}, err
	}
	key := strings.ToLower(user.Username)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.byName[key]; taken {
		return models.User{}, storage.ErrAlreadyExists
	}
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	user.ID = s.nextUserID.Add(1)
	user.InitialBalance = user.Balance
	user.CreatedAt = s.now()
	s.users[user.ID] = user
	s.byName[key] = user.ID
	return user, nil
}

// FindByID fetches a user by id.
func (s *Store) FindByID(ctx context.Context, id int64) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	if !ok {
		return models.User{}, storage.ErrNotFound
	}
	return user, nil
}

// FindByUsername fetches a user by username, case-insensitively.
func (s *Store) FindByUsername(ctx context.Context, username string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[strings.ToLower(username)]
	if !ok {
		return models.User{}, storage.ErrNotFound
	}
	return s.users[id], nil
}

// ListUsers returns every user ordered by id.
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetRole changes a user's role.
func (s *Store) SetRole(ctx context.Context, id int64, role string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	user.Role = role
	s.users[id] = user
	return nil
}

// Transactions lists a user's records, oldest first.
func (s *Store) Transactions(ctx context.Context, userID int64) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.users[userID]; !ok {
		return nil, storage.ErrNotFound
	}
	var out []models.Transaction
	for _, rec := range s.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// WithUserLock stages every write made through the tx and publishes them in a
// single critical section once fn succeeds. A context that expires before
// that point discards the staged writes.
func (s *Store) WithUserLock(ctx context.Context, userID int64, fn func(tx storage.LedgerTx) error) error {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &ledgerTx{store: s, userID: userID}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *Store) commit(tx *ledgerTx) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tx.balance != nil {
		user := s.users[tx.userID]
		user.Balance = *tx.balance
		s.users[tx.userID] = user
	}
	s.records = append(s.records, tx.pending...)
}

type ledgerTx struct {
	store   *Store
	userID  int64
	balance *decimal.Decimal
	pending []models.Transaction
}

func (t *ledgerTx) check(userID int64) error {
	if userID != t.userID {
		return storage.ErrWrongUser
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	if _, ok := t.store.users[userID]; !ok {
		return storage.ErrNotFound
	}
	return nil
}

func (t *ledgerTx) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	if err := t.check(userID); err != nil {
		return decimal.Zero, err
	}
	if t.balance != nil {
		return *t.balance, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	return t.store.users[userID].Balance, nil
}

func (t *ledgerTx) SetBalance(ctx context.Context, userID int64, balance decimal.Decimal) error {
	if err := t.check(userID); err != nil {
		return err
	}
	t.balance = &balance
	return nil
}

func (t *ledgerTx) Append(ctx context.Context, rec models.Transaction) (models.Transaction, error) {
	if err := t.check(rec.UserID); err != nil {
		return models.Transaction{}, err
	}
	rec.ID = t.store.nextRecordID.Add(1)
	rec.CreatedAt = t.store.now()
	t.pending = append(t.pending, rec)
	return rec, nil
}
