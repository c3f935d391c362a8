package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONMap_RoundTrip(t *testing.T) {
	v, err := JSONMap{"source": "worker"}.Value()
	require.NoError(t, err)

	var m JSONMap
	require.NoError(t, m.Scan(v))
	assert.Equal(t, "worker", m["source"])

	require.NoError(t, m.Scan([]byte(`{"k":1}`)))
	assert.EqualValues(t, 1, m["k"])

	require.NoError(t, m.Scan(nil))
	assert.Nil(t, m)

	assert.Error(t, m.Scan(42))
}

func TestStringList_NilValue(t *testing.T) {
	v, err := StringList(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, "[]", v)

	var l StringList
	require.NoError(t, l.Scan(`["0xa","0xb"]`))
	assert.Equal(t, StringList{"0xa", "0xb"}, l)
}

func TestOrbitState(t *testing.T) {
	assert.True(t, OrbitStateFinalized.Terminal())
	assert.True(t, OrbitStateFailed.Terminal())
	assert.False(t, OrbitStateConfirmed.Terminal())
	assert.Equal(t, -1, OrbitStateFailed.Rank())
	assert.True(t, OrbitStateFailed.Valid())
	assert.False(t, OrbitState("LOST").Valid())
	assert.Less(t, OrbitStateSequenced.Rank(), OrbitStatePosted.Rank())
}

func TestTransactionQuota(t *testing.T) {
	q := &TransactionQuota{StartsAt: 100, EndsAt: 200, Quota: 100, Count: 99}
	assert.True(t, q.Active(100))
	assert.False(t, q.Active(200))
	assert.Equal(t, int64(1), q.Remaining())

	q.Count = 120
	assert.Equal(t, int64(0), q.Remaining())
}
