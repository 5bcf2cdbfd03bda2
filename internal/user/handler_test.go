package user

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"collaborative-doc-sync/internal/auth"
	"collaborative-doc-sync/internal/domain"
	"collaborative-doc-sync/internal/errors"
	"collaborative-doc-sync/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockService is a mock implementation of the Service interface
type MockService struct {
	mock.Mock
}

func (m *MockService) Register(ctx context.Context, user *domain.User) error {
	args := m.Called(ctx, user)
	return args.Error(0)
}

func (m *MockService) Login(ctx context.Context, email, password string) (*domain.User, error) {
	args := m.Called(ctx, email, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockService) GetUserByID(ctx context.Context, id uint64) (*domain.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *MockService) DeactivateUser(ctx context.Context, id uint64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockService) IncreaseTokenVersion(ctx context.Context, id uint64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockService) SearchUsers(ctx context.Context, query string) ([]domain.SafeUser, error) {
	args := m.Called(ctx, query)
	if args.Get(0) == nil {
		return []domain.SafeUser{}, args.Error(1)
	}
	return args.Get(0).([]domain.SafeUser), args.Error(1)
}

func setupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	auth.Init("user-handler-test")
	router := gin.New()
	router.Use(middleware.ErrorHandler())
	return router
}

func postJSON(router *gin.Engine, path string, payload any) *httptest.ResponseRecorder {
	body, _ := json.Marshal(payload)
	req := httptest.NewRequest("POST", path, bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRegister_Success(t *testing.T) {
	mockService := new(MockService)
	handler := NewHandler(mockService)
	router := setupRouter()

	mockService.On("Register", mock.Anything, mock.MatchedBy(func(user *domain.User) bool {
		return user.Name == "John Doe" &&
			user.Email == "john@example.com" &&
			user.Password == "password123"
	})).Return(nil).Run(func(args mock.Arguments) {
		user := args.Get(1).(*domain.User)
		user.ID = 1
		user.CreatedAt = time.Now()
		user.UpdatedAt = time.Now()
	})

	router.POST("/register", handler.Register)

	w := postJSON(router, "/register", FormRegister{
		Name:     "John Doe",
		Email:    "john@example.com",
		Password: "password123",
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	var response map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.NotNil(t, response["user"])
	assert.NotContains(t, w.Body.String(), "password")
	mockService.AssertExpectations(t)
}

func TestRegister_InvalidInput(t *testing.T) {
	mockService := new(MockService)
	handler := NewHandler(mockService)
	router := setupRouter()
	router.POST("/register", handler.Register)

	w := postJSON(router, "/register", struct{ Name string }{Name: "John Doe"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var response map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &response)
	assert.Equal(t, "Validation failed", response["error"])
	mockService.AssertNotCalled(t, "Register", mock.Anything, mock.Anything)
}

func TestRegister_InvalidEmail(t *testing.T) {
	mockService := new(MockService)
	handler := NewHandler(mockService)
	router := setupRouter()
	router.POST("/register", handler.Register)

	w := postJSON(router, "/register", FormRegister{
		Name:     "John Doe",
		Email:    "invalid-email",
		Password: "password123",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegister_ShortPassword(t *testing.T) {
	mockService := new(MockService)
	handler := NewHandler(mockService)
	router := setupRouter()
	router.POST("/register", handler.Register)

	w := postJSON(router, "/register", FormRegister{
		Name:     "John Doe",
		Email:    "john@example.com",
		Password: "123",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRegister_AlreadyRegistered(t *testing.T) {
	mockService := new(MockService)
	handler := NewHandler(mockService)
	router := setupRouter()
	router.POST("/register", handler.Register)

	mockService.On("Register", mock.Anything, mock.Anything).
		Return(errors.Conflict("User already registered", nil))

	w := postJSON(router, "/register", FormRegister{
		Name:     "John Doe",
		Email:    "john@example.com",
		Password: "password123",
	})

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestLogin_Success(t *testing.T) {
	mockService := new(MockService)
	handler := NewHandler(mockService)
	router := setupRouter()

	user := &domain.User{
		ID:           1,
		Name:         "John Doe",
		Email:        "john@example.com",
		TokenVersion: 2,
		IsActive:     true,
	}
	mockService.On("Login", mock.Anything, "john@example.com", "password123").Return(user, nil)

	router.POST("/login", handler.Login)

	w := postJSON(router, "/login", FormLogin{
		Email:    "john@example.com",
		Password: "password123",
	})

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var response map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &response)
	require.NotNil(t, response["access_token"])
	assert.NotNil(t, response["user"])

	parsed, err := auth.VerifyJWT(response["access_token"].(string))
	require.NoError(t, err)
	userID, version, err := auth.GetDataFromToken(parsed)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), userID)
	assert.Equal(t, uint64(2), version)

	cookies := map[string]bool{}
	for _, c := range w.Result().Cookies() {
		cookies[c.Name] = c.HttpOnly
	}
	assert.True(t, cookies[refreshCookie])
	assert.True(t, cookies[middleware.SessionCookie])
	mockService.AssertExpectations(t)
}

func TestLogin_InvalidInput(t *testing.T) {
	mockService := new(MockService)
	handler := NewHandler(mockService)
	router := setupRouter()
	router.POST("/login", handler.Login)

	w := postJSON(router, "/login", struct{ Email string }{Email: "john@example.com"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLogin_WrongPassword(t *testing.T) {
	mockService := new(MockService)
	handler := NewHandler(mockService)
	router := setupRouter()

	mockService.On("Login", mock.Anything, "nonexistent@example.com", "password123").
		Return(nil, errors.Unauthorized("Wrong email or password", assert.AnError))

	router.POST("/login", handler.Login)

	w := postJSON(router, "/login", FormLogin{
		Email:    "nonexistent@example.com",
		Password: "password123",
	})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotContains(t, w.Body.String(), assert.AnError.Error())
	mockService.AssertExpectations(t)
}

func TestRefreshToken_RejectsOldVersion(t *testing.T) {
	mockService := new(MockService)
	handler := NewHandler(mockService)
	router := setupRouter()
	router.POST("/refresh", handler.RefreshToken)

	refresh, err := auth.GenerateRefreshToken(1, 0)
	require.NoError(t, err)
	mockService.On("GetUserByID", mock.Anything, uint64(1)).
		Return(&domain.User{ID: 1, TokenVersion: 1}, nil)

	req := httptest.NewRequest("POST", "/refresh", nil)
	req.AddCookie(&http.Cookie{Name: refreshCookie, Value: refresh})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRefreshToken_Success(t *testing.T) {
	mockService := new(MockService)
	handler := NewHandler(mockService)
	router := setupRouter()
	router.POST("/refresh", handler.RefreshToken)

	refresh, err := auth.GenerateRefreshToken(1, 4)
	require.NoError(t, err)
	mockService.On("GetUserByID", mock.Anything, uint64(1)).
		Return(&domain.User{ID: 1, TokenVersion: 4}, nil)

	req := httptest.NewRequest("POST", "/refresh", nil)
	req.AddCookie(&http.Cookie{Name: refreshCookie, Value: refresh})
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "access_token")
}

func TestLogout_Success(t *testing.T) {
	mockService := new(MockService)
	handler := NewHandler(mockService)
	router := setupRouter()

	mockService.On("IncreaseTokenVersion", mock.Anything, uint64(7)).Return(nil)

	router.POST("/logout", func(c *gin.Context) {
		c.Set("user_id", uint64(7))
		handler.Logout(c)
	})

	req := httptest.NewRequest("POST", "/logout", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	mockService.AssertExpectations(t)
}

func TestGetProfile(t *testing.T) {
	mockService := new(MockService)
	handler := NewHandler(mockService)
	router := setupRouter()

	mockService.On("GetUserByID", mock.Anything, uint64(3)).
		Return(&domain.User{ID: 3, Name: "Ana", Email: "ana@example.com", PasswordHash: "secret-hash"}, nil)

	router.GET("/me", func(c *gin.Context) {
		c.Set("user_id", uint64(3))
		handler.GetProfile(c)
	})

	req := httptest.NewRequest("GET", "/me", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ana@example.com")
	assert.NotContains(t, w.Body.String(), "secret-hash")
}

func TestSearchUsers(t *testing.T) {
	mockService := new(MockService)
	handler := NewHandler(mockService)
	router := setupRouter()
	router.GET("/users/search", handler.SearchUsers)

	mockService.On("SearchUsers", mock.Anything, "an").
		Return([]domain.SafeUser{{ID: 3, Name: "Ana"}}, nil)

	req := httptest.NewRequest("GET", "/users/search?q=an", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var users []domain.SafeUser
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &users))
	assert.Len(t, users, 1)
}
