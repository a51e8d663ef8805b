package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cyroid/backend/cmd/api-gateway/internal/handler"
	"github.com/cyroid/backend/internal/cache"
	"github.com/cyroid/backend/internal/lock"
	"github.com/cyroid/backend/internal/metrics"
	"github.com/cyroid/backend/internal/provisioning"
	"github.com/cyroid/backend/internal/repository"
	"github.com/cyroid/backend/internal/service"
	"github.com/cyroid/backend/internal/testutil"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	engine *gin.Engine
	locker lock.Locker
	queue  *provisioning.RedisQueue
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewTestDB(t)
	_, client := testutil.NewTestRedis(t)
	log := testutil.NewTestLogger()
	m := metrics.New(prometheus.NewRegistry())

	txm := repository.NewTxManager(db)
	blueprints := repository.NewBlueprintRepository(db)
	ranges := repository.NewRangeRepository(db)
	instances := repository.NewRangeInstanceRepository(db)
	locker := lock.New(client, time.Minute, log)
	queue := provisioning.NewQueue(client, "test:queue", time.Second, log)

	instSvc := service.NewInstanceService(txm, blueprints, instances, ranges,
		service.NewMaterializer(ranges, m, log), provisioning.NewDispatcher(queue), locker, m, log)
	bpSvc := service.NewBlueprintService(txm, blueprints, ranges, instSvc, log)

	r := gin.New()
	Register(r.Group("/api/v1"), Handlers{
		Blueprint: handler.NewBlueprintHandler(bpSvc, instSvc, log),
		Instance:  handler.NewInstanceHandler(instSvc, log),
		Audit:     handler.NewAuditHandler(repository.NewAuditLogRepository(db), log),
	})

	return &testServer{engine: r, locker: locker, queue: queue}
}

func (s *testServer) do(t *testing.T, method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

const labYAML = `name: Edge Lab
base_subnet_prefix: "10.254"
config:
  networks:
    - name: lan
      subnet: 10.254.1.0/24
      gateway: 10.254.1.1
  vms:
    - hostname: box
      ip_address: 10.254.1.20
      network_name: lan
      base_image_id: 6f1c2d7e-4b0a-4c51-9d7e-2b8f3a1c9e10
`

type blueprintBody struct {
	ID       uuid.UUID `json:"id"`
	Version  int       `json:"version"`
	Capacity int       `json:"capacity"`
}

type instanceBody struct {
	Instance struct {
		ID           uuid.UUID `json:"id"`
		SubnetOffset int       `json:"subnet_offset"`
		Range        struct {
			VMs []struct {
				IPAddress string `json:"ip_address"`
			} `json:"vms"`
		} `json:"range"`
	} `json:"instance"`
	Warnings []service.Warning `json:"warnings"`
}

func importLab(t *testing.T, s *testServer) blueprintBody {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/v1/blueprints/import", "application/yaml", []byte(labYAML))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var bp blueprintBody
	decode(t, w, &bp)
	return bp
}

func TestImportDeployAndExhaust(t *testing.T) {
	s := newTestServer(t)
	bp := importLab(t, s)
	assert.Equal(t, 1, bp.Version)
	assert.Equal(t, 2, bp.Capacity)

	deployPath := "/api/v1/blueprints/" + bp.ID.String() + "/instances"

	w := s.do(t, http.MethodPost, deployPath, "", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var first instanceBody
	decode(t, w, &first)
	assert.Equal(t, 0, first.Instance.SubnetOffset)
	require.Len(t, first.Instance.Range.VMs, 1)
	assert.Equal(t, "10.254.1.20", first.Instance.Range.VMs[0].IPAddress)

	w = s.do(t, http.MethodPost, deployPath, "application/json", []byte(`{"name":"team-b"}`))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var second instanceBody
	decode(t, w, &second)
	assert.Equal(t, "10.255.1.20", second.Instance.Range.VMs[0].IPAddress)

	w = s.do(t, http.MethodPost, deployPath, "", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "address_space_exhausted")

	w = s.do(t, http.MethodGet, deployPath, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Total int `json:"total"`
	}
	decode(t, w, &list)
	assert.Equal(t, 2, list.Total)

	depth, err := s.queue.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)
}

func TestInstanceLifecycle(t *testing.T) {
	s := newTestServer(t)
	bp := importLab(t, s)

	w := s.do(t, http.MethodPost, "/api/v1/blueprints/"+bp.ID.String()+"/instances", "", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	var deployed instanceBody
	decode(t, w, &deployed)
	instPath := "/api/v1/instances/" + deployed.Instance.ID.String()

	w = s.do(t, http.MethodGet, instPath, "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	release, err := s.locker.Acquire(context.Background(), cache.InstanceLockKey(deployed.Instance.ID.String()))
	require.NoError(t, err)
	w = s.do(t, http.MethodPost, instPath+"/reset", "", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	require.NoError(t, release(context.Background()))

	w = s.do(t, http.MethodPost, instPath+"/reset", "", nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodPost, instPath+"/redeploy", "", nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.do(t, http.MethodDelete, instPath, "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = s.do(t, http.MethodGet, instPath, "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "instance_not_found")
}

func TestUpdateConfig(t *testing.T) {
	s := newTestServer(t)
	bp := importLab(t, s)
	path := "/api/v1/blueprints/" + bp.ID.String() + "/config"

	cfg := `{"networks":[{"name":"lan","subnet":"10.254.1.0/24"}],"vms":[]}`
	w := s.do(t, http.MethodPut, path, "application/json", []byte(cfg))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Changed   bool          `json:"changed"`
		Blueprint blueprintBody `json:"blueprint"`
	}
	decode(t, w, &resp)
	assert.True(t, resp.Changed)
	assert.Equal(t, 2, resp.Blueprint.Version)

	w = s.do(t, http.MethodPut, path, "application/json", []byte(`{"networks":[{"name":"lan","subnet":"bogus"}]}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_config")

	w = s.do(t, http.MethodGet, "/api/v1/blueprints/"+bp.ID.String()+"/versions", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var versions struct {
		Versions []struct {
			Version int `json:"version"`
		} `json:"versions"`
	}
	decode(t, w, &versions)
	require.Len(t, versions.Versions, 2)
	assert.Equal(t, 2, versions.Versions[0].Version)
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)

	w := s.do(t, http.MethodGet, "/api/v1/blueprints/not-a-uuid", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodGet, "/api/v1/blueprints/"+uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "blueprint_not_found")

	w = s.do(t, http.MethodPost, "/api/v1/blueprints", "application/json", []byte(`{"range_id":"`+uuid.NewString()+`","name":"x"}`))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "range_not_found")

	w = s.do(t, http.MethodPost, "/api/v1/blueprints", "application/json", []byte(`{"name":"x"}`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, "/api/v1/blueprints/import", "application/yaml", []byte("name: bad\nbase_subnet_prefix: \"999.1\"\nconfig: {}\n"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_base_prefix")

	w = s.do(t, http.MethodPost, "/api/v1/blueprints/import", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListBlueprintsAndAuditLogs(t *testing.T) {
	s := newTestServer(t)
	importLab(t, s)

	w := s.do(t, http.MethodGet, "/api/v1/blueprints", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Blueprints []blueprintBody `json:"blueprints"`
		Total      int             `json:"total"`
	}
	decode(t, w, &list)
	assert.Equal(t, 1, list.Total)

	w = s.do(t, http.MethodGet, "/api/v1/audit-logs?limit=10", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"limit":10`)

	w = s.do(t, http.MethodGet, "/api/v1/audit-logs?actor_id=nope", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
