package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eaglebank/orderflow/shared/cqrs"
	"github.com/eaglebank/orderflow/shared/models"
)

// ---- mock implementations ----

type mockUserCommander struct {
	createFn func(cqrs.CreateUserCommand) (*models.User, bool, error)
}

func (m *mockUserCommander) CreateUser(_ context.Context, cmd cqrs.CreateUserCommand) (*models.User, bool, error) {
	if m.createFn != nil {
		return m.createFn(cmd)
	}
	return nil, false, fmt.Errorf("not configured")
}

type mockUserQuerier struct {
	listFn func(cqrs.ListUsersQuery) ([]models.User, error)
}

func (m *mockUserQuerier) ListUsers(_ context.Context, q cqrs.ListUsersQuery) ([]models.User, error) {
	if m.listFn != nil {
		return m.listFn(q)
	}
	return nil, fmt.Errorf("not configured")
}

// ---- helpers ----

func newUserTestRouter(cmds UserCommander, qrys UserQuerier) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewUserHandler(cmds, qrys).Register(r)
	return r
}

func userDoRequest(router *gin.Engine, method, url string, body any) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, url, nil)
	if body != nil {
		b, _ := json.Marshal(body)
		req, _ = http.NewRequest(method, url, strings.NewReader(string(b)))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

// ---- test data ----

var uTestUser = &models.User{
	ID: 4242, FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com",
	Department: "General", IsActive: true, CreatedAt: "2024-01-01T00:00:00.000Z",
}

// ---- tests ----

func TestCreateUser(t *testing.T) {
	tests := []struct {
		name          string
		body          any
		createFn      func(cqrs.CreateUserCommand) (*models.User, bool, error)
		wantStatus    int
		wantPublished any
		wantError     string
	}{
		{
			name: "created and published",
			body: map[string]any{"firstName": "Ada", "lastName": "Lovelace", "email": "ada@example.com"},
			createFn: func(cmd cqrs.CreateUserCommand) (*models.User, bool, error) {
				return uTestUser, true, nil
			},
			wantStatus:    http.StatusCreated,
			wantPublished: true,
		},
		{
			name: "created while broker is down",
			body: map[string]any{"firstName": "Ada", "lastName": "Lovelace", "email": "ada@example.com"},
			createFn: func(cmd cqrs.CreateUserCommand) (*models.User, bool, error) {
				return uTestUser, false, nil
			},
			wantStatus:    http.StatusCreated,
			wantPublished: false,
		},
		{
			name:       "missing email",
			body:       map[string]any{"firstName": "Ada", "lastName": "Lovelace"},
			wantStatus: http.StatusBadRequest,
			wantError:  "Missing required fields",
		},
		{
			name:       "malformed json",
			body:       "not an object",
			wantStatus: http.StatusBadRequest,
			wantError:  "Invalid request body",
		},
		{
			name: "service error",
			body: map[string]any{"firstName": "Ada", "lastName": "Lovelace", "email": "ada@example.com"},
			createFn: func(cmd cqrs.CreateUserCommand) (*models.User, bool, error) {
				return nil, false, fmt.Errorf("store user: disk full")
			},
			wantStatus: http.StatusInternalServerError,
			wantError:  "Internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newUserTestRouter(&mockUserCommander{createFn: tt.createFn}, &mockUserQuerier{})
			w := userDoRequest(router, http.MethodPost, "/api/users/create", tt.body)

			assert.Equal(t, tt.wantStatus, w.Code)
			body := decodeBody(t, w)
			assert.NotEmpty(t, body["timestamp"])
			if tt.wantError != "" {
				assert.Equal(t, false, body["success"])
				assert.Equal(t, tt.wantError, body["error"])
				return
			}
			assert.Equal(t, true, body["success"])
			assert.Equal(t, "User created successfully", body["message"])
			assert.Equal(t, tt.wantPublished, body["messagePublished"])
			data := body["data"].(map[string]any)
			assert.Equal(t, float64(4242), data["id"])
		})
	}
}

func TestCreateUserPassesDepartment(t *testing.T) {
	var got cqrs.CreateUserCommand
	router := newUserTestRouter(&mockUserCommander{createFn: func(cmd cqrs.CreateUserCommand) (*models.User, bool, error) {
		got = cmd
		return uTestUser, true, nil
	}}, &mockUserQuerier{})

	w := userDoRequest(router, http.MethodPost, "/api/users/create", map[string]any{
		"firstName": "Ada", "lastName": "Lovelace", "email": "ada@example.com", "department": "Research",
	})

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, cqrs.CreateUserCommand{FirstName: "Ada", LastName: "Lovelace", Email: "ada@example.com", Department: "Research"}, got)
}

func TestListUsers(t *testing.T) {
	router := newUserTestRouter(&mockUserCommander{}, &mockUserQuerier{listFn: func(cqrs.ListUsersQuery) ([]models.User, error) {
		return []models.User{*uTestUser, {ID: 1, FirstName: "John"}}, nil
	}})

	w := userDoRequest(router, http.MethodGet, "/api/users", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Users retrieved successfully", body["message"])
	assert.Equal(t, float64(2), body["count"])
	assert.Len(t, body["data"], 2)
}

func TestListUsersError(t *testing.T) {
	router := newUserTestRouter(&mockUserCommander{}, &mockUserQuerier{})

	w := userDoRequest(router, http.MethodGet, "/api/users", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
