package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newEngine(m *Middleware) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(m.Handler())
	r.GET("/whoami", func(c *gin.Context) {
		id := UserID(c)
		if id == nil {
			c.JSON(http.StatusOK, gin.H{"user_id": ""})
			return
		}
		c.JSON(http.StatusOK, gin.H{"user_id": id.String()})
	})
	return r
}

func TestMiddleware_ValidToken(t *testing.T) {
	jwtm := NewJWTManager("secret", time.Hour)
	m := &Middleware{jwt: jwtm, required: true, logger: zap.NewNop()}

	userID := uuid.New()
	token, err := jwtm.GenerateToken(userID, "instructor")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	newEngine(m).ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), userID.String())
}

func TestMiddleware_RequiredRejectsMissingToken(t *testing.T) {
	m := &Middleware{jwt: NewJWTManager("secret", time.Hour), required: true, logger: zap.NewNop()}

	w := httptest.NewRecorder()
	newEngine(m).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "missing_token")
}

func TestMiddleware_OptionalAllowsAnonymous(t *testing.T) {
	m := &Middleware{jwt: NewJWTManager("secret", time.Hour), required: false, logger: zap.NewNop()}

	w := httptest.NewRecorder()
	newEngine(m).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/whoami", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":""}`, w.Body.String())
}

func TestMiddleware_RejectsForeignSignature(t *testing.T) {
	m := &Middleware{jwt: NewJWTManager("secret", time.Hour), required: false, logger: zap.NewNop()}
	forged, err := NewJWTManager("other", time.Hour).GenerateToken(uuid.New(), "admin")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	w := httptest.NewRecorder()
	newEngine(m).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestExtractTokenFromHeader(t *testing.T) {
	token, err := ExtractTokenFromHeader("Bearer abc.def")
	require.NoError(t, err)
	assert.Equal(t, "abc.def", token)

	for _, bad := range []string{"", "Bearer ", "Basic abc", "bearer abc"} {
		_, err := ExtractTokenFromHeader(bad)
		assert.ErrorIs(t, err, ErrInvalidAuthHeader, bad)
	}
}
