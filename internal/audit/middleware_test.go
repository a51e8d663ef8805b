package audit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cyroid/backend/internal/domain"
	"github.com/cyroid/backend/internal/repository"
	"github.com/cyroid/backend/internal/testutil"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestAuditMiddleware_RecordsMutations(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := testutil.NewTestDB(t)
	repo := repository.NewAuditLogRepository(db)
	am := NewAuditMiddleware(repo, zap.NewNop())

	created := uuid.New()
	target := uuid.New()

	r := gin.New()
	r.Use(am.Middleware())
	r.POST("/api/v1/blueprints/:id/instances", func(c *gin.Context) {
		c.JSON(http.StatusCreated, gin.H{"instance": gin.H{"id": created}})
	})
	r.POST("/api/v1/instances/:id/reset", func(c *gin.Context) {
		c.JSON(http.StatusConflict, gin.H{"error": "operation_in_progress"})
	})
	r.GET("/api/v1/instances/:id", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{})
	})

	for _, req := range []*http.Request{
		httptest.NewRequest(http.MethodPost, "/api/v1/blueprints/"+uuid.NewString()+"/instances", nil),
		httptest.NewRequest(http.MethodPost, "/api/v1/instances/"+target.String()+"/reset", nil),
		httptest.NewRequest(http.MethodGet, "/api/v1/instances/"+target.String(), nil),
	} {
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	logs, total, err := repo.FindByFilters(context.Background(), &repository.AuditLogFilters{})
	require.NoError(t, err)
	require.Equal(t, int64(2), total)

	byAction := make(map[string]*domain.AuditLog, len(logs))
	for _, l := range logs {
		byAction[l.Action] = l
	}

	deploy := byAction["instance.deploy"]
	require.NotNil(t, deploy)
	require.NotNil(t, deploy.ResourceID)
	assert.Equal(t, created, *deploy.ResourceID)
	assert.Equal(t, http.StatusCreated, deploy.StatusCode)
	assert.Nil(t, deploy.ActorID)

	reset := byAction["instance.reset"]
	require.NotNil(t, reset)
	require.NotNil(t, reset.ResourceID)
	assert.Equal(t, target, *reset.ResourceID)
	assert.Equal(t, http.StatusConflict, reset.StatusCode)
}
