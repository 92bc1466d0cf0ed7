package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/hongminglow/all-in-floor/internal/models"
	"github.com/hongminglow/all-in-floor/internal/storage"
	pgstore "github.com/hongminglow/all-in-floor/internal/storage/postgres"
)

var _ storage.Store = (*Store)(nil)

type userRow struct {
	ID             int64           `gorm:"primaryKey"`
	Username       string          `gorm:"not null"`
	Role           string          `gorm:"not null;default:user"`
	Balance        decimal.Decimal `gorm:"type:numeric(24,2);not null;default:0"`
	InitialBalance decimal.Decimal `gorm:"type:numeric(24,2);not null;default:0"`
	PasswordHash   string          `gorm:"not null"`
	CreatedAt      time.Time
}

func (userRow) TableName() string { return "users" }

func (r userRow) model() models.User {
	return models.User{
		ID:             r.ID,
		Username:       r.Username,
		Role:           r.Role,
		Balance:        r.Balance,
		InitialBalance: r.InitialBalance,
		PasswordHash:   r.PasswordHash,
		CreatedAt:      r.CreatedAt,
	}
}

type transactionRow struct {
	ID           int64           `gorm:"primaryKey"`
	UserID       int64           `gorm:"not null"`
	Kind         string          `gorm:"not null;check:balance_transactions_kind_check,kind IN ('deposit', 'withdraw')"`
	Amount       decimal.Decimal `gorm:"type:numeric(24,2);not null;check:balance_transactions_amount_check,amount > 0"`
	BalanceAfter decimal.Decimal `gorm:"type:numeric(24,2);not null"`
	Description  string          `gorm:"not null;default:''"`
	CreatedAt    time.Time
}

func (transactionRow) TableName() string { return "balance_transactions" }

func (r transactionRow) model() models.Transaction {
	return models.Transaction{
		ID:           r.ID,
		UserID:       r.UserID,
		Kind:         models.Kind(r.Kind),
		Amount:       r.Amount,
		BalanceAfter: r.BalanceAfter,
		Description:  r.Description,
		CreatedAt:    r.CreatedAt,
	}
}

// Store is a gorm-backed storage.Store sharing the schema of the pgx store.
type Store struct {
	db *gorm.DB
}

// Open connects with the postgres driver and migrates the schema. The
// case-insensitive username index and the append-only trigger come from the
// pgx store's constraint set.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := db.AutoMigrate(&userRow{}, &transactionRow{}); err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	for _, stmt := range pgstore.Constraints {
		if err := db.Exec(stmt).Error; err != nil {
			return nil, fmt.Errorf("apply constraints: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	if sqlDB, err := s.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func (s *Store) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	row := userRow{
		Username:       user.Username,
		Role:           user.Role,
		Balance:        user.Balance,
		InitialBalance: user.Balance,
		PasswordHash:   user.PasswordHash,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return models.User{}, storage.ErrAlreadyExists
		}
		return models.User{}, err
	}
	return row.model(), nil
}

func (s *Store) FindByID(ctx context.Context, id int64) (models.User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).Take(&row, id).Error; err != nil {
		return models.User{}, translate(err)
	}
	return row.model(), nil
}

func (s *Store) FindByUsername(ctx context.Context, username string) (models.User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).Where("LOWER(username) = LOWER(?)", username).Take(&row).Error; err != nil {
		return models.User{}, translate(err)
	}
	return row.model(), nil
}

func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	var rows []userRow
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	users := make([]models.User, 0, len(rows))
	for _, r := range rows {
		users = append(users, r.model())
	}
	return users, nil
}

func (s *Store) SetRole(ctx context.Context, id int64, role string) error {
	res := s.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", id).Update("role", role)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) Transactions(ctx context.Context, userID int64) ([]models.Transaction, error) {
	if _, err := s.FindByID(ctx, userID); err != nil {
		return nil, err
	}
	var rows []transactionRow
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]models.Transaction, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

// WithUserLock runs fn in a gorm transaction; GetBalance takes the row lock.
func (s *Store) WithUserLock(ctx context.Context, userID int64, fn func(tx storage.LedgerTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&ledgerTx{db: tx, userID: userID})
	})
}

type ledgerTx struct {
	db     *gorm.DB
	userID int64
}

func (t *ledgerTx) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	if userID != t.userID {
		return decimal.Zero, storage.ErrWrongUser
	}
	var row userRow
	err := t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("id", "balance").
		Where("id = ?", userID).
		Take(&row).Error
	if err != nil {
		return decimal.Zero, translate(err)
	}
	return row.Balance, nil
}

func (t *ledgerTx) SetBalance(ctx context.Context, userID int64, balance decimal.Decimal) error {
	if userID != t.userID {
		return storage.ErrWrongUser
	}
	res := t.db.WithContext(ctx).Model(&userRow{}).Where("id = ?", userID).Update("balance", balance)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (t *ledgerTx) Append(ctx context.Context, rec models.Transaction) (models.Transaction, error) {
	if rec.UserID != t.userID {
		return models.Transaction{}, storage.ErrWrongUser
	}
	row := transactionRow{
		UserID:       rec.UserID,
		Kind:         string(rec.Kind),
		Amount:       rec.Amount,
		BalanceAfter: rec.BalanceAfter,
		Description:  rec.Description,
	}
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		return models.Transaction{}, err
	}
	return row.model(), nil
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotFound
	}
	return err
}
