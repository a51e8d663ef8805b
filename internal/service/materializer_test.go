package service

import (
	"testing"

	"github.com/cyroid/backend/internal/domain"
	"github.com/cyroid/backend/internal/metrics"
	"github.com/cyroid/backend/internal/repository"
	"github.com/cyroid/backend/internal/testutil"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestPlan_WarnsOnPrefixMismatch(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ranges := repository.NewRangeRepository(testutil.NewTestDB(t))
	m := NewMaterializer(ranges, metrics.New(prometheus.NewRegistry()), zap.New(core))

	cfg := domain.BlueprintConfig{
		Networks: []domain.NetworkConfig{
			{Name: "lan", Subnet: "10.100.1.0/24", Gateway: "10.100.1.1"},
			{Name: "legacy", Subnet: "172.16.1.0/24", Gateway: "172.16.1.1"},
		},
		VMs: []domain.VMConfig{
			{Hostname: "box", IPAddress: "172.16.1.20", NetworkName: "legacy", BaseImageID: testImageID.String()},
		},
	}

	rangeID := uuid.New()
	res, err := m.Plan(rangeID, cfg, "10.100", 3)
	require.NoError(t, err)

	require.Len(t, res.Networks, 2)
	assert.Equal(t, "10.103.1.0/24", res.Networks[0].Subnet)
	assert.Equal(t, "172.16.1.0/24", res.Networks[1].Subnet)
	assert.Equal(t, "172.16.1.1", res.Networks[1].Gateway)
	require.Len(t, res.VMs, 1)
	assert.Equal(t, "172.16.1.20", res.VMs[0].IPAddress)

	mismatches := logs.FilterMessage("Address does not match base prefix, copied unshifted").All()
	require.Len(t, mismatches, 3)
	for _, entry := range mismatches {
		assert.Equal(t, zapcore.WarnLevel, entry.Level)
		fields := entry.ContextMap()
		assert.Equal(t, rangeID.String(), fields["range_id"])
		assert.Equal(t, "10.100", fields["base_prefix"])
		assert.EqualValues(t, 3, fields["offset"])
	}
	assert.Equal(t, "172.16.1.0/24", mismatches[0].ContextMap()["value"])
}

func TestPlan_MatchingPrefixLogsNothing(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ranges := repository.NewRangeRepository(testutil.NewTestDB(t))
	m := NewMaterializer(ranges, metrics.New(prometheus.NewRegistry()), zap.New(core))

	_, err := m.Plan(uuid.New(), labConfig("10.100"), "10.100", 1)
	require.NoError(t, err)
	assert.Zero(t, logs.Len())
}
