// Command promote grants the admin role to a user, creating the account
// first when a password is supplied and the username is free.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/hongminglow/all-in-floor/internal/auth"
	"github.com/hongminglow/all-in-floor/internal/config"
	"github.com/hongminglow/all-in-floor/internal/models"
	"github.com/hongminglow/all-in-floor/internal/storage"
	"github.com/hongminglow/all-in-floor/internal/storage/backend"
)

const minPasswordLength = 8

func main() {
	if len(os.Args) < 2 {
		fmt.Println("usage: go run ./cmd/promote <username> [password]")
		os.Exit(2)
	}
	username := strings.TrimSpace(os.Args[1])
	password := ""
	if len(os.Args) > 2 {
		password = os.Args[2]
	}

	_ = godotenv.Load()
	if err := run(username, password); err != nil {
		slog.Error("promote failed", "username", username, "error", err)
		os.Exit(1)
	}
}

func run(username, password string) error {
	if !models.ValidUsername(username) {
		return errors.New("username must be at least 5 letters or numbers")
	}
	st, err := config.LoadStorage()
	if err != nil {
		return err
	}
	if st.Driver == backend.DriverMemory {
		return errors.New("STORAGE_DRIVER=memory keeps nothing to promote; use postgres or gorm")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := backend.Open(ctx, st.Driver, st.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	user, err := store.FindByUsername(ctx, username)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if password == "" {
			return fmt.Errorf("user %s does not exist; pass a password to create it", username)
		}
		if user, err = create(ctx, store, st, username, password); err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		fmt.Printf("created user %s id=%d\n", user.Username, user.ID)
	case err != nil:
		return fmt.Errorf("look up user: %w", err)
	}

	if user.IsAdmin() {
		fmt.Printf("user %s (id=%d) is already an admin\n", user.Username, user.ID)
		return nil
	}
	if err := store.SetRole(ctx, user.ID, models.RoleAdmin); err != nil {
		return fmt.Errorf("promote user: %w", err)
	}
	fmt.Printf("promoted %s (id=%d) to admin; existing tokens keep their old role until re-login\n", user.Username, user.ID)
	return nil
}

func create(ctx context.Context, store storage.UserStore, st config.Storage, username, password string) (models.User, error) {
	if len(strings.TrimSpace(password)) < minPasswordLength {
		return models.User{}, fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return models.User{}, err
	}
	return store.CreateUser(ctx, models.User{
		Username:     username,
		PasswordHash: hash,
		Role:         models.RoleUser,
		Balance:      st.InitBalance,
	})
}
