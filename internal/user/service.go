package user

import (
	"context"
	stdErrors "errors"
	"strings"

	"collaborative-doc-sync/internal/domain"
	"collaborative-doc-sync/internal/errors"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const searchLimit = 20

// Service defines the interface for user business logic
type Service interface {
	Register(ctx context.Context, user *domain.User) error
	Login(ctx context.Context, email, password string) (*domain.User, error)
	GetUserByID(ctx context.Context, id uint64) (*domain.User, error)
	IncreaseTokenVersion(ctx context.Context, id uint64) error
	SearchUsers(ctx context.Context, query string) ([]domain.SafeUser, error)
	DeactivateUser(ctx context.Context, id uint64) error
}

// DefaultService implements Service
type DefaultService struct {
	repository UserRepository
}

// NewService creates a new user service
func NewService(repository UserRepository) Service {
	return &DefaultService{repository: repository}
}

// Register registers a new user
func (s *DefaultService) Register(ctx context.Context, user *domain.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))

	// Check if user with email already exists
	_, err := s.repository.FindByEmail(ctx, user.Email)
	if err != nil && !stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Internal(err)
	}
	if err == nil {
		return errors.Conflict("User already registered", nil)
	}

	// Hash the password before saving
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(user.Password), bcrypt.DefaultCost)
	if err != nil {
		return errors.UnprocessableEntity("Can't use this password", err)
	}
	user.PasswordHash = string(hashedPassword)
	user.Password = ""
	user.IsActive = true

	if err := s.repository.Create(ctx, user); err != nil {
		return errors.Internal(err)
	}
	return nil
}

// Login authenticates a user
func (s *DefaultService) Login(ctx context.Context, email, password string) (*domain.User, error) {
	user, err := s.repository.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, errors.Unauthorized("Wrong email or password", err)
	}

	if !user.IsActive {
		return nil, errors.Unauthorized("User is not active", nil)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, errors.Unauthorized("Wrong email or password", err)
	}

	return user, nil
}

func (s *DefaultService) GetUserByID(ctx context.Context, id uint64) (*domain.User, error) {
	user, err := s.repository.FindByID(ctx, id)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.NotFound("User not found", err)
		}
		return nil, errors.Internal(err)
	}
	return user, nil
}

func (s *DefaultService) IncreaseTokenVersion(ctx context.Context, id uint64) error {
	return s.repository.IncrementTokenVersion(ctx, id)
}

func (s *DefaultService) SearchUsers(ctx context.Context, query string) ([]domain.SafeUser, error) {
	query = strings.TrimSpace(query)
	if len(query) < 2 {
		return []domain.SafeUser{}, nil
	}
	users, err := s.repository.Search(ctx, query, searchLimit)
	if err != nil {
		return nil, errors.Internal(err)
	}
	out := make([]domain.SafeUser, 0, len(users))
	for i := range users {
		out = append(out, users[i].ToSafeUser())
	}
	return out, nil
}

func (s *DefaultService) DeactivateUser(ctx context.Context, id uint64) error {
	return s.repository.Deactivate(ctx, id)
}
