package main

import (
	"context"
	"errors"
	"log"
	"log/slog"

	"collab-service/internal/config"
	"collab-service/internal/database"
	"collab-service/internal/models"
	"collab-service/internal/repository"

	"golang.org/x/crypto/bcrypt"
)

// Seeds demo accounts for local development so tokens minted against
// their ids resolve during the websocket handshake.
func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to PostgreSQL:", err)
	}

	users := repository.NewUserRepository(db)
	ctx := context.Background()

	seeds := []struct {
		username string
		email    string
		password string
	}{
		{"alice", "alice@example.com", "password123"},
		{"bob", "bob@example.com", "password123"},
		{"carol", "carol@example.com", "password123"},
	}

	for _, s := range seeds {
		if _, err := users.FindByEmail(ctx, s.email); err == nil {
			slog.Info("User already seeded", "email", s.email)
			continue
		} else if !errors.Is(err, repository.ErrUserNotFound) {
			log.Fatal("Failed to check existing user:", err)
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(s.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal("Failed to hash password:", err)
		}

		user := &models.User{
			Username: s.username,
			Email:    s.email,
			Password: string(hash),
		}
		if err := users.Create(ctx, user); err != nil {
			log.Fatal("Failed to create user:", err)
		}
		slog.Info("Seeded user", "id", user.ID, "email", s.email)
	}
}
