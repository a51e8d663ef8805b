package addressing

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyOffset(t *testing.T) {
	tests := []struct {
		name   string
		value  string
		base   string
		offset int
		want   string
	}{
		{"subnet", "10.100.1.0/24", "10.100", 2, "10.102.1.0/24"},
		{"ip", "10.100.0.10", "10.100", 2, "10.102.0.10"},
		{"zero offset", "10.100.3.1", "10.100", 0, "10.100.3.1"},
		{"upper boundary", "10.100.0.0/24", "10.100", 155, "10.255.0.0/24"},
		{"mask preserved", "172.16.8.0/21", "172.16", 10, "172.26.8.0/21"},
		{"prefix mismatch passthrough", "192.168.1.0/24", "10.100", 3, "192.168.1.0/24"},
		{"partial octet is not a match", "10.1000.0.1", "10.100", 1, "10.1000.0.1"},
		{"malformed base passthrough", "10.100.1.0/24", "10", 5, "10.100.1.0/24"},
		{"empty base passthrough", "10.100.1.0/24", "", 5, "10.100.1.0/24"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ApplyOffset(tt.value, tt.base, tt.offset)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApplyOffset_Overflow(t *testing.T) {
	_, err := ApplyOffset("10.100.0.0/24", "10.100", 156)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAddressSpaceExhausted))

	var overflow *OverflowError
	require.True(t, errors.As(err, &overflow))
	assert.Equal(t, 256, overflow.Octet)
	assert.Equal(t, 156, overflow.Offset)
}

func TestApplyOffset_NegativeOffset(t *testing.T) {
	_, err := ApplyOffset("10.100.0.0/24", "10.100", -1)
	assert.ErrorIs(t, err, ErrNegativeOffset)
}

func TestApplyOffset_Deterministic(t *testing.T) {
	for offset := 0; offset <= 155; offset++ {
		a, err := ApplyOffset("10.100.7.20", "10.100", offset)
		require.NoError(t, err)
		b, err := ApplyOffset("10.100.7.20", "10.100", offset)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}
}

func TestApplyOffset_OnlySecondOctetChanges(t *testing.T) {
	values := []string{"10.100.0.1", "10.100.255.254", "10.100.12.0/22", "10.100.1.0/24"}

	for _, v := range values {
		for offset := 0; offset <= 155; offset += 7 {
			got, err := ApplyOffset(v, "10.100", offset)
			require.NoError(t, err)

			in := strings.SplitN(v, ".", 3)
			out := strings.SplitN(got, ".", 3)
			require.Len(t, out, 3)
			assert.Equal(t, in[0], out[0])
			assert.Equal(t, fmt.Sprint(100+offset), out[1])
			assert.Equal(t, in[2], out[2], "third/fourth octets and mask must be preserved")
		}
	}
}

func TestShifter_ReportsMatch(t *testing.T) {
	s, err := NewShifter("10.100", 4)
	require.NoError(t, err)

	got, ok := s.Shift("10.100.2.0/24")
	assert.True(t, ok)
	assert.Equal(t, "10.104.2.0/24", got)

	got, ok = s.Shift("192.168.2.0/24")
	assert.False(t, ok)
	assert.Equal(t, "192.168.2.0/24", got)
}

func TestNewShifter_OverflowBeforeAnyValue(t *testing.T) {
	_, err := NewShifter("10.200", 56)
	assert.ErrorIs(t, err, ErrAddressSpaceExhausted)

	_, err = NewShifter("10.200", 55)
	assert.NoError(t, err)
}

func TestExtractPrefix(t *testing.T) {
	assert.Equal(t, "10.100", ExtractPrefix("10.100.1.0/24"))
	assert.Equal(t, "172.16", ExtractPrefix("172.16.0.1"))
	assert.Equal(t, "", ExtractPrefix("10.100"))
	assert.Equal(t, "", ExtractPrefix(""))
}

func TestCapacity(t *testing.T) {
	assert.Equal(t, 156, Capacity("10.100", 0))
	assert.Equal(t, 155, Capacity("10.100", 1))
	assert.Equal(t, 0, Capacity("10.100", 156))
	assert.Equal(t, 0, Capacity("10.100", 300))
	assert.Equal(t, 0, Capacity("bogus", 0))
}
