package db

import (
	"context"
	"fmt"

	"collaborative-doc-sync/internal/domain"
	"collaborative-doc-sync/internal/user"

	"github.com/rs/zerolog/log"
)

// Migrate runs database migrations
func Migrate() error {
	err := AppDb.AutoMigrate(
		&domain.User{},
		&domain.Document{},
		&domain.DocumentCollaborator{},
	)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	log.Info().Msg("database schema migrated successfully")
	return nil
}

// SeedData seeds the database with initial data (for development only)
func SeedData(ctx context.Context) {
	userRepo := user.NewRepository(AppDb)

	testUser := &domain.User{
		Name:     "Test User",
		Email:    "test@example.com",
		Password: "password123",
		IsActive: true,
	}

	if _, err := userRepo.FindByEmail(ctx, testUser.Email); err == nil {
		log.Info().Str("email", testUser.Email).Msg("test user already exists")
		return
	}

	userService := user.NewService(userRepo)
	if err := userService.Register(ctx, testUser); err != nil {
		log.Error().Err(err).Msg("error creating test user")
		return
	}
	log.Info().Str("email", testUser.Email).Msg("created test user")
}
