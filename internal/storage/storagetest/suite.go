// Package storagetest holds a conformance suite every storage.Store backend
// must pass.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hongminglow/all-in-floor/internal/models"
	"github.com/hongminglow/all-in-floor/internal/storage"
)

const missingUserID = int64(1) << 62

// Run exercises store. Usernames are unique per run so the suite can be
// pointed at a shared database.
func Run(t *testing.T, store storage.Store) {
	t.Helper()
	s := &suite{store: store, prefix: fmt.Sprintf("st%d", time.Now().UnixNano())}

	t.Run("CreateAndFind", s.createAndFind)
	t.Run("MissingUser", s.missingUser)
	t.Run("CommitPublishesWrites", s.commitPublishesWrites)
	t.Run("RollbackDiscardsWrites", s.rollbackDiscardsWrites)
	t.Run("ScopedToLockedUser", s.scopedToLockedUser)
	t.Run("RecordIDsMonotonic", s.recordIDsMonotonic)
	t.Run("ConcurrentReadModifyWrite", s.concurrentReadModifyWrite)
	t.Run("RolesAndListing", s.rolesAndListing)
	t.Run("UsernamesUniqueIgnoringCase", s.usernamesUniqueIgnoringCase)
}

type suite struct {
	store  storage.Store
	prefix string
	seq    int
}

func (s *suite) newUser(t *testing.T, balance string) models.User {
	t.Helper()
	s.seq++
	user, err := s.store.CreateUser(context.Background(), models.User{
		Username:     fmt.Sprintf("%s%03d", s.prefix, s.seq),
		Balance:      decimal.RequireFromString(balance),
		PasswordHash: "hash",
	})
	require.NoError(t, err)
	return user
}

func (s *suite) createAndFind(t *testing.T) {
	ctx := context.Background()
	user := s.newUser(t, "1000")

	assert.NotZero(t, user.ID)
	assert.Equal(t, models.RoleUser, user.Role)
	AssertDecimal(t, "1000", user.Balance)
	AssertDecimal(t, "1000", user.InitialBalance)
	assert.False(t, user.CreatedAt.IsZero())

	byID, err := s.store.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.Username, byID.Username)

	byName, err := s.store.FindByUsername(ctx, user.Username)
	require.NoError(t, err)
	assert.Equal(t, user.ID, byName.ID)

	_, err = s.store.CreateUser(ctx, models.User{Username: user.Username, PasswordHash: "x"})
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)
}

func (s *suite) usernamesUniqueIgnoringCase(t *testing.T) {
	ctx := context.Background()
	lower := s.prefix + "dup"
	names := []string{strings.ToUpper(lower[:1]) + lower[1:], lower}

	created := make([]models.User, len(names))
	errs := make([]error, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			created[i], errs[i] = s.store.CreateUser(ctx, models.User{Username: name, PasswordHash: "hash"})
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var winner models.User
	wins := 0
	for i, err := range errs {
		if err == nil {
			wins++
			winner = created[i]
			continue
		}
		assert.ErrorIs(t, err, storage.ErrAlreadyExists)
	}
	require.Equal(t, 1, wins, "exactly one spelling may be registered")

	for _, name := range names {
		found, err := s.store.FindByUsername(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, winner.ID, found.ID)
	}
}

func (s *suite) missingUser(t *testing.T) {
	ctx := context.Background()

	_, err := s.store.FindByID(ctx, missingUserID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.store.FindByUsername(ctx, s.prefix+"nobody")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = s.store.Transactions(ctx, missingUserID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = s.store.WithUserLock(ctx, missingUserID, func(tx storage.LedgerTx) error {
		_, err := tx.GetBalance(ctx, missingUserID)
		return err
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func (s *suite) commitPublishesWrites(t *testing.T) {
	ctx := context.Background()
	user := s.newUser(t, "100")

	var appended models.Transaction
	err := s.store.WithUserLock(ctx, user.ID, func(tx storage.LedgerTx) error {
		bal, err := tx.GetBalance(ctx, user.ID)
		if err != nil {
			return err
		}
		next := bal.Add(decimal.RequireFromString("25.50"))
		if err := tx.SetBalance(ctx, user.ID, next); err != nil {
			return err
		}
		appended, err = tx.Append(ctx, models.Transaction{
			UserID:       user.ID,
			Kind:         models.KindDeposit,
			Amount:       decimal.RequireFromString("25.50"),
			BalanceAfter: next,
			Description:  "suite deposit",
		})
		return err
	})
	require.NoError(t, err)
	assert.NotZero(t, appended.ID)
	assert.False(t, appended.CreatedAt.IsZero())

	got, err := s.store.FindByID(ctx, user.ID)
	require.NoError(t, err)
	AssertDecimal(t, "125.50", got.Balance)
	AssertDecimal(t, "100", got.InitialBalance)

	records, err := s.store.Transactions(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, appended.ID, records[0].ID)
	assert.Equal(t, models.KindDeposit, records[0].Kind)
	AssertDecimal(t, "25.50", records[0].Amount)
	AssertDecimal(t, "125.50", records[0].BalanceAfter)
	assert.Equal(t, "suite deposit", records[0].Description)
}

func (s *suite) rollbackDiscardsWrites(t *testing.T) {
	ctx := context.Background()
	user := s.newUser(t, "100")
	boom := errors.New("boom")

	err := s.store.WithUserLock(ctx, user.ID, func(tx storage.LedgerTx) error {
		if err := tx.SetBalance(ctx, user.ID, decimal.RequireFromString("999")); err != nil {
			return err
		}
		if _, err := tx.Append(ctx, models.Transaction{
			UserID:       user.ID,
			Kind:         models.KindDeposit,
			Amount:       decimal.RequireFromString("899"),
			BalanceAfter: decimal.RequireFromString("999"),
		}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.store.FindByID(ctx, user.ID)
	require.NoError(t, err)
	AssertDecimal(t, "100", got.Balance)

	records, err := s.store.Transactions(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func (s *suite) scopedToLockedUser(t *testing.T) {
	ctx := context.Background()
	a := s.newUser(t, "10")
	b := s.newUser(t, "10")

	err := s.store.WithUserLock(ctx, a.ID, func(tx storage.LedgerTx) error {
		return tx.SetBalance(ctx, b.ID, decimal.Zero)
	})
	assert.ErrorIs(t, err, storage.ErrWrongUser)

	got, err := s.store.FindByID(ctx, b.ID)
	require.NoError(t, err)
	AssertDecimal(t, "10", got.Balance)
}

func (s *suite) recordIDsMonotonic(t *testing.T) {
	ctx := context.Background()
	users := []models.User{s.newUser(t, "0"), s.newUser(t, "0")}

	var last int64
	for i := 0; i < 6; i++ {
		user := users[i%2]
		err := s.store.WithUserLock(ctx, user.ID, func(tx storage.LedgerTx) error {
			rec, err := tx.Append(ctx, models.Transaction{
				UserID:       user.ID,
				Kind:         models.KindDeposit,
				Amount:       decimal.NewFromInt(1),
				BalanceAfter: decimal.NewFromInt(1),
			})
			if err != nil {
				return err
			}
			if rec.ID <= last {
				return fmt.Errorf("record id %d not greater than %d", rec.ID, last)
			}
			last = rec.ID
			return nil
		})
		require.NoError(t, err)
	}

	for _, user := range users {
		records, err := s.store.Transactions(ctx, user.ID)
		require.NoError(t, err)
		require.Len(t, records, 3)
		for i := 1; i < len(records); i++ {
			assert.Greater(t, records[i].ID, records[i-1].ID)
		}
	}
}

func (s *suite) concurrentReadModifyWrite(t *testing.T) {
	ctx := context.Background()
	user := s.newUser(t, "100")
	const workers = 16

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return s.store.WithUserLock(ctx, user.ID, func(tx storage.LedgerTx) error {
				bal, err := tx.GetBalance(ctx, user.ID)
				if err != nil {
					return err
				}
				return tx.SetBalance(ctx, user.ID, bal.Add(decimal.NewFromInt(1)))
			})
		})
	}
	require.NoError(t, g.Wait())

	got, err := s.store.FindByID(ctx, user.ID)
	require.NoError(t, err)
	AssertDecimal(t, "116", got.Balance)
}

func (s *suite) rolesAndListing(t *testing.T) {
	ctx := context.Background()
	user := s.newUser(t, "0")

	require.NoError(t, s.store.SetRole(ctx, user.ID, models.RoleAdmin))
	got, err := s.store.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, got.IsAdmin())

	assert.ErrorIs(t, s.store.SetRole(ctx, missingUserID, models.RoleAdmin), storage.ErrNotFound)

	users, err := s.store.ListUsers(ctx)
	require.NoError(t, err)
	var found bool
	for i, u := range users {
		if i > 0 {
			assert.Greater(t, u.ID, users[i-1].ID)
		}
		if u.ID == user.ID {
			found = true
		}
	}
	assert.True(t, found, "listing should include user %d", user.ID)
}

// AssertDecimal compares numerically so 100 and 100.00 are equal.
func AssertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	w := decimal.RequireFromString(want)
	assert.Truef(t, w.Equal(got), "want %s, got %s", w, got)
}
