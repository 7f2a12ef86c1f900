package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/helenavibes/ML-service/internal/models"
)

// MemoryStore is a Store kept in process memory. Writes made inside InTx are
// staged and applied under the store lock on commit. LockUser and LockTask
// take per-row locks that are held until the unit of work ends.
//
// Methods called on the store itself each run in their own unit of work.
type MemoryStore struct {
	mu           sync.RWMutex
	users        map[uuid.UUID]*models.User
	models       map[uuid.UUID]*models.Model
	tasks        map[uuid.UUID]*models.PredictionTask
	transactions []*models.Transaction

	locksMu sync.Mutex
	locks   map[lockKey]chan struct{}

	now func() time.Time
}

// lockKey names one lockable row
type lockKey struct {
	table string
	id    uuid.UUID
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithClock overrides the clock used for timestamps
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		users:  make(map[uuid.UUID]*models.User),
		models: make(map[uuid.UUID]*models.Model),
		tasks:  make(map[uuid.UUID]*models.PredictionTask),
		locks:  make(map[lockKey]chan struct{}),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InTx runs fn against a staged view of the store. Staged writes are applied
// atomically when fn returns nil; row locks taken by fn are released after
// commit or rollback.
func (s *MemoryStore) InTx(ctx context.Context, fn TxFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &memTx{
		store:    s,
		users:    make(map[uuid.UUID]*models.User),
		balances: make(map[uuid.UUID]decimal.Decimal),
		models:   make(map[uuid.UUID]*models.Model),
		tasks:    make(map[uuid.UUID]*models.PredictionTask),
		held:     make(map[lockKey]chan struct{}),
	}
	// Staged writes are dropped on error or panic; locks are always released.
	defer tx.release()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

// Ping reports whether ctx is still live
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) rowLock(key lockKey) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	lock, ok := s.locks[key]
	if !ok {
		lock = make(chan struct{}, 1)
		s.locks[key] = lock
	}
	return lock
}

// GetUser returns a copy of the committed user
func (s *MemoryStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user *models.User
	err := s.InTx(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		user, err = repo.GetUser(ctx, id)
		return err
	})
	return user, err
}

// LockUser waits for the user's lock and returns the user. The lock is released
// before it returns; use it inside InTx to hold it across a unit of work.
func (s *MemoryStore) LockUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user *models.User
	err := s.InTx(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		user, err = repo.LockUser(ctx, id)
		return err
	})
	return user, err
}

// GetUserByUsername returns the user with the exact username
func (s *MemoryStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user *models.User
	err := s.InTx(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		user, err = repo.GetUserByUsername(ctx, username)
		return err
	})
	return user, err
}

// GetUserByEmail returns the user with the exact email
func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user *models.User
	err := s.InTx(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		user, err = repo.GetUserByEmail(ctx, email)
		return err
	})
	return user, err
}

// SaveUser inserts or updates a user without touching the balance. It does
// not take the user's lock.
func (s *MemoryStore) SaveUser(ctx context.Context, user *models.User) error {
	return s.InTx(ctx, func(ctx context.Context, repo Repository) error {
		return repo.SaveUser(ctx, user)
	})
}

// UpdateBalance overwrites the balance. Callers that read the balance first
// must hold the user's lock inside InTx.
func (s *MemoryStore) UpdateBalance(ctx context.Context, userID uuid.UUID, balance decimal.Decimal) error {
	return s.InTx(ctx, func(ctx context.Context, repo Repository) error {
		return repo.UpdateBalance(ctx, userID, balance)
	})
}

// ListUsers returns all users sorted by username
func (s *MemoryStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	var users []*models.User
	err := s.InTx(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		users, err = repo.ListUsers(ctx)
		return err
	})
	return users, err
}

// GetModel returns a copy of the model
func (s *MemoryStore) GetModel(ctx context.Context, id uuid.UUID) (*models.Model, error) {
	var model *models.Model
	err := s.InTx(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		model, err = repo.GetModel(ctx, id)
		return err
	})
	return model, err
}

// SaveModel inserts or updates a model; names are unique
func (s *MemoryStore) SaveModel(ctx context.Context, model *models.Model) error {
	return s.InTx(ctx, func(ctx context.Context, repo Repository) error {
		return repo.SaveModel(ctx, model)
	})
}

// ListModels returns models sorted by name
func (s *MemoryStore) ListModels(ctx context.Context, activeOnly bool) ([]*models.Model, error) {
	var list []*models.Model
	err := s.InTx(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		list, err = repo.ListModels(ctx, activeOnly)
		return err
	})
	return list, err
}

// AppendTransaction adds an entry to the append-only ledger
func (s *MemoryStore) AppendTransaction(ctx context.Context, tx *models.Transaction) error {
	return s.InTx(ctx, func(ctx context.Context, repo Repository) error {
		return repo.AppendTransaction(ctx, tx)
	})
}

// SumTransactions returns the signed sum of the user's ledger entries
func (s *MemoryStore) SumTransactions(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	sum := decimal.Zero
	err := s.InTx(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		sum, err = repo.SumTransactions(ctx, userID)
		return err
	})
	return sum, err
}

// ListTransactionsByUser returns a page of the user's entries, newest first
func (s *MemoryStore) ListTransactionsByUser(ctx context.Context, userID uuid.UUID, offset, limit int) ([]*models.Transaction, error) {
	var list []*models.Transaction
	err := s.InTx(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		list, err = repo.ListTransactionsByUser(ctx, userID, offset, limit)
		return err
	})
	return list, err
}

// ListTransactionsByTask returns the entries linked to a task in commit order
func (s *MemoryStore) ListTransactionsByTask(ctx context.Context, taskID uuid.UUID) ([]*models.Transaction, error) {
	var list []*models.Transaction
	err := s.InTx(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		list, err = repo.ListTransactionsByTask(ctx, taskID)
		return err
	})
	return list, err
}

// SaveTask writes the task unconditionally. Status transitions must read the
// task through LockTask in the same unit of work.
func (s *MemoryStore) SaveTask(ctx context.Context, task *models.PredictionTask) error {
	return s.InTx(ctx, func(ctx context.Context, repo Repository) error {
		return repo.SaveTask(ctx, task)
	})
}

// GetTask returns a copy of the committed task without locking it
func (s *MemoryStore) GetTask(ctx context.Context, id uuid.UUID) (*models.PredictionTask, error) {
	var task *models.PredictionTask
	err := s.InTx(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		task, err = repo.GetTask(ctx, id)
		return err
	})
	return task, err
}

// LockTask waits for the task's lock and returns the task. Inside InTx the
// lock is held until the unit of work ends.
func (s *MemoryStore) LockTask(ctx context.Context, id uuid.UUID) (*models.PredictionTask, error) {
	var task *models.PredictionTask
	err := s.InTx(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		task, err = repo.LockTask(ctx, id)
		return err
	})
	return task, err
}

// ListTasksByUser returns a page of the user's tasks, newest first
func (s *MemoryStore) ListTasksByUser(ctx context.Context, userID uuid.UUID, offset, limit int) ([]*models.PredictionTask, error) {
	var list []*models.PredictionTask
	err := s.InTx(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		list, err = repo.ListTasksByUser(ctx, userID, offset, limit)
		return err
	})
	return list, err
}

// ListTasksByStatus returns tasks in status last updated before updatedBefore
func (s *MemoryStore) ListTasksByStatus(ctx context.Context, status models.TaskStatus, updatedBefore time.Time) ([]*models.PredictionTask, error) {
	var list []*models.PredictionTask
	err := s.InTx(ctx, func(ctx context.Context, repo Repository) error {
		var err error
		list, err = repo.ListTasksByStatus(ctx, status, updatedBefore)
		return err
	})
	return list, err
}

// memTx is one unit of work against a MemoryStore
type memTx struct {
	store *MemoryStore

	users        map[uuid.UUID]*models.User
	balances     map[uuid.UUID]decimal.Decimal
	models       map[uuid.UUID]*models.Model
	tasks        map[uuid.UUID]*models.PredictionTask
	transactions []*models.Transaction

	held map[lockKey]chan struct{}
}

func (tx *memTx) release() {
	for key, lock := range tx.held {
		<-lock
		delete(tx.held, key)
	}
}

// acquire takes the row lock once per unit of work
func (tx *memTx) acquire(ctx context.Context, key lockKey) error {
	if _, ok := tx.held[key]; ok {
		return nil
	}
	lock := tx.store.rowLock(key)
	select {
	case lock <- struct{}{}:
		tx.held[key] = lock
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (tx *memTx) commit() error {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, staged := range tx.users {
		for _, u := range s.users {
			if u.ID != staged.ID && (u.Username == staged.Username || u.Email == staged.Email) {
				return fmt.Errorf("user %q: %w", staged.Username, models.ErrConflict)
			}
		}
	}
	for _, staged := range tx.models {
		for _, m := range s.models {
			if m.ID != staged.ID && m.Name == staged.Name {
				return fmt.Errorf("model %q: %w", staged.Name, models.ErrConflict)
			}
		}
	}

	for id, staged := range tx.users {
		if existing, ok := s.users[id]; ok {
			staged.Balance = existing.Balance
		} else {
			staged.Balance = decimal.Zero
		}
		s.users[id] = staged
	}
	for id, balance := range tx.balances {
		if u, ok := s.users[id]; ok {
			u.Balance = balance
		}
	}
	for id, m := range tx.models {
		s.models[id] = m
	}
	for id, t := range tx.tasks {
		s.tasks[id] = t
	}
	s.transactions = append(s.transactions, tx.transactions...)
	return nil
}

func (tx *memTx) viewUser(id uuid.UUID) (*models.User, bool) {
	tx.store.mu.RLock()
	var user *models.User
	if committed, ok := tx.store.users[id]; ok {
		user = committed.Clone()
	}
	tx.store.mu.RUnlock()

	if staged, ok := tx.users[id]; ok {
		balance := decimal.Zero
		if user != nil {
			balance = user.Balance
		}
		user = staged.Clone()
		user.Balance = balance
	}
	if user == nil {
		return nil, false
	}
	if balance, ok := tx.balances[id]; ok {
		user.Balance = balance
	}
	return user, true
}

func (tx *memTx) viewUsers() []*models.User {
	ids := make(map[uuid.UUID]struct{})
	tx.store.mu.RLock()
	for id := range tx.store.users {
		ids[id] = struct{}{}
	}
	tx.store.mu.RUnlock()
	for id := range tx.users {
		ids[id] = struct{}{}
	}

	users := make([]*models.User, 0, len(ids))
	for id := range ids {
		if u, ok := tx.viewUser(id); ok {
			users = append(users, u)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users
}

func (tx *memTx) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, ok := tx.viewUser(id)
	if !ok {
		return nil, models.ErrUserNotFound
	}
	return user, nil
}

func (tx *memTx) LockUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	if err := tx.acquire(ctx, lockKey{table: "users", id: id}); err != nil {
		return nil, err
	}
	return tx.GetUser(ctx, id)
}

func (tx *memTx) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	for _, u := range tx.viewUsers() {
		if u.Username == username {
			return u, nil
		}
	}
	return nil, models.ErrUserNotFound
}

func (tx *memTx) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range tx.viewUsers() {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, models.ErrUserNotFound
}

func (tx *memTx) SaveUser(ctx context.Context, user *models.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	for _, u := range tx.viewUsers() {
		if u.ID != user.ID && (u.Username == user.Username || u.Email == user.Email) {
			return fmt.Errorf("user %q: %w", user.Username, models.ErrConflict)
		}
	}

	now := tx.store.now()
	if existing, ok := tx.viewUser(user.ID); ok {
		user.CreatedAt = existing.CreatedAt
	} else if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	tx.users[user.ID] = user.Clone()
	return nil
}

func (tx *memTx) UpdateBalance(ctx context.Context, userID uuid.UUID, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return fmt.Errorf("balance for user %s cannot be negative: %s", userID, balance)
	}
	if _, ok := tx.viewUser(userID); !ok {
		return models.ErrUserNotFound
	}
	tx.balances[userID] = balance
	return nil
}

func (tx *memTx) ListUsers(ctx context.Context) ([]*models.User, error) {
	return tx.viewUsers(), nil
}

func (tx *memTx) viewModel(id uuid.UUID) (*models.Model, bool) {
	if staged, ok := tx.models[id]; ok {
		return staged.Clone(), true
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	if committed, ok := tx.store.models[id]; ok {
		return committed.Clone(), true
	}
	return nil, false
}

func (tx *memTx) GetModel(ctx context.Context, id uuid.UUID) (*models.Model, error) {
	model, ok := tx.viewModel(id)
	if !ok {
		return nil, models.ErrModelNotFound
	}
	return model, nil
}

func (tx *memTx) SaveModel(ctx context.Context, model *models.Model) error {
	if model.ID == uuid.Nil {
		model.ID = uuid.New()
	}
	all, _ := tx.ListModels(ctx, false)
	for _, m := range all {
		if m.ID != model.ID && m.Name == model.Name {
			return fmt.Errorf("model %q: %w", model.Name, models.ErrConflict)
		}
	}

	now := tx.store.now()
	if existing, ok := tx.viewModel(model.ID); ok {
		model.CreatedAt = existing.CreatedAt
	} else if model.CreatedAt.IsZero() {
		model.CreatedAt = now
	}
	model.UpdatedAt = now

	tx.models[model.ID] = model.Clone()
	return nil
}

func (tx *memTx) ListModels(ctx context.Context, activeOnly bool) ([]*models.Model, error) {
	ids := make(map[uuid.UUID]struct{})
	tx.store.mu.RLock()
	for id := range tx.store.models {
		ids[id] = struct{}{}
	}
	tx.store.mu.RUnlock()
	for id := range tx.models {
		ids[id] = struct{}{}
	}

	list := make([]*models.Model, 0, len(ids))
	for id := range ids {
		m, ok := tx.viewModel(id)
		if !ok || (activeOnly && !m.IsActive) {
			continue
		}
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}

func (tx *memTx) AppendTransaction(ctx context.Context, t *models.Transaction) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = tx.store.now()
	}
	tx.transactions = append(tx.transactions, t.Clone())
	return nil
}

// viewTransactions returns matching transactions in commit order
func (tx *memTx) viewTransactions(match func(*models.Transaction) bool) []*models.Transaction {
	var out []*models.Transaction
	tx.store.mu.RLock()
	for _, t := range tx.store.transactions {
		if match(t) {
			out = append(out, t.Clone())
		}
	}
	tx.store.mu.RUnlock()
	for _, t := range tx.transactions {
		if match(t) {
			out = append(out, t.Clone())
		}
	}
	return out
}

func (tx *memTx) SumTransactions(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, t := range tx.viewTransactions(func(t *models.Transaction) bool { return t.UserID == userID }) {
		sum = sum.Add(t.Signed())
	}
	return sum, nil
}

func (tx *memTx) ListTransactionsByUser(ctx context.Context, userID uuid.UUID, offset, limit int) ([]*models.Transaction, error) {
	list := tx.viewTransactions(func(t *models.Transaction) bool { return t.UserID == userID })
	reverse(list)
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	return paginate(list, offset, limit), nil
}

func (tx *memTx) ListTransactionsByTask(ctx context.Context, taskID uuid.UUID) ([]*models.Transaction, error) {
	return tx.viewTransactions(func(t *models.Transaction) bool {
		return t.TaskID != nil && *t.TaskID == taskID
	}), nil
}

func (tx *memTx) viewTasks(match func(*models.PredictionTask) bool) []*models.PredictionTask {
	var out []*models.PredictionTask
	tx.store.mu.RLock()
	for id, t := range tx.store.tasks {
		if _, staged := tx.tasks[id]; !staged && match(t) {
			out = append(out, t.Clone())
		}
	}
	tx.store.mu.RUnlock()
	for _, t := range tx.tasks {
		if match(t) {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (tx *memTx) SaveTask(ctx context.Context, task *models.PredictionTask) error {
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	now := tx.store.now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now
	tx.tasks[task.ID] = task.Clone()
	return nil
}

func (tx *memTx) GetTask(ctx context.Context, id uuid.UUID) (*models.PredictionTask, error) {
	if staged, ok := tx.tasks[id]; ok {
		return staged.Clone(), nil
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	if committed, ok := tx.store.tasks[id]; ok {
		return committed.Clone(), nil
	}
	return nil, models.ErrTaskNotFound
}

func (tx *memTx) LockTask(ctx context.Context, id uuid.UUID) (*models.PredictionTask, error) {
	if err := tx.acquire(ctx, lockKey{table: "prediction_tasks", id: id}); err != nil {
		return nil, err
	}
	return tx.GetTask(ctx, id)
}

func (tx *memTx) ListTasksByUser(ctx context.Context, userID uuid.UUID, offset, limit int) ([]*models.PredictionTask, error) {
	list := tx.viewTasks(func(t *models.PredictionTask) bool { return t.UserID == userID })
	return paginate(list, offset, limit), nil
}

func (tx *memTx) ListTasksByStatus(ctx context.Context, status models.TaskStatus, updatedBefore time.Time) ([]*models.PredictionTask, error) {
	return tx.viewTasks(func(t *models.PredictionTask) bool {
		return t.Status == status && t.UpdatedAt.Before(updatedBefore)
	}), nil
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}

func paginate[T any](list []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(list) {
		return []T{}
	}
	list = list[offset:]
	if limit > 0 && limit < len(list) {
		list = list[:limit]
	}
	return list
}
