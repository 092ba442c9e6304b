package auth_test

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aura-classroom/backend/internal/auth"
	"github.com/aura-classroom/backend/internal/middleware/middlewaretest"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/internal/store/memstore"
)

func TestHandler_RegisterLoginMe(t *testing.T) {
	h := auth.NewHandler(memstore.New(), auth.NewJWTService("test-secret", 1), zaptest.NewLogger(t))
	r, api := middlewaretest.NewEngine()
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	api.GET("/auth/me", h.Me)
	anyone := models.Identity{UserID: uuid.New(), Role: models.RoleStudent}

	reg := auth.RegisterRequest{Email: "Tutor@Example.com", Password: "secret1", FullName: "Dr. Tutor", Role: "TUTOR"}
	code, out := middlewaretest.Do(t, r, http.MethodPost, "/auth/register", anyone, reg)
	require.Equal(t, http.StatusCreated, code)
	user := out.Data.(map[string]interface{})["user"].(map[string]interface{})
	assert.Equal(t, "tutor@example.com", user["email"])
	assert.Equal(t, "tutor", user["role"])

	code, _ = middlewaretest.Do(t, r, http.MethodPost, "/auth/register", anyone, reg)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = middlewaretest.Do(t, r, http.MethodPost, "/auth/login", anyone, auth.LoginRequest{Email: reg.Email, Password: "wrong"})
	assert.Equal(t, http.StatusUnauthorized, code)
	code, _ = middlewaretest.Do(t, r, http.MethodPost, "/auth/login", anyone, auth.LoginRequest{Email: reg.Email, Password: reg.Password})
	assert.Equal(t, http.StatusOK, code)

	me := models.Identity{UserID: uuid.MustParse(user["id"].(string)), Role: models.RoleTutor, DisplayName: "Dr. Tutor"}
	code, out = middlewaretest.Do(t, r, http.MethodGet, "/auth/me", me, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Dr. Tutor", out.Data.(map[string]interface{})["full_name"])

	code, out = middlewaretest.Do(t, r, http.MethodGet, "/auth/me", anyone, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, out.Success)
}
