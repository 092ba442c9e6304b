// Package middlewaretest drives gin handlers through the JWT middleware with stand-in tokens.
package middlewaretest

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/aura-classroom/backend/internal/middleware"
	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/pkg/response"
)

// Token encodes id as a bearer token that Validate accepts.
func Token(id models.Identity) string {
	return string(id.Role) + "|" + id.UserID.String() + "|" + id.DisplayName
}

// Validate is a middleware.TokenValidator for tokens built by Token.
func Validate(token string) (models.Identity, error) {
	parts := strings.SplitN(token, "|", 3)
	if len(parts) != 3 {
		return models.Identity{}, errors.New("malformed test token")
	}
	userID, err := uuid.Parse(parts[1])
	if err != nil {
		return models.Identity{}, err
	}
	return models.Identity{UserID: userID, Role: models.Role(parts[0]), DisplayName: parts[2]}, nil
}

// NewEngine returns a gin engine whose routes all sit behind the JWT middleware.
func NewEngine() (*gin.Engine, *gin.RouterGroup) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("")
	api.Use(middleware.JWT(Validate))
	return r, api
}

// Do sends one request as who and decodes the response envelope. A nil body sends no payload.
func Do(t testing.TB, h http.Handler, method, path string, who models.Identity, body any) (int, response.Body) {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}
	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+Token(who))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out response.Body
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}
