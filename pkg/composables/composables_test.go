package composables

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestUseLogger(t *testing.T) {
	_, ok := UseLogger(context.Background())
	require.False(t, ok)

	logger := logrus.New()
	entry := logrus.NewEntry(logger).WithField("run_id", "r1")
	got, ok := UseLogger(WithLogger(context.Background(), entry))
	require.True(t, ok)
	require.Equal(t, "r1", got.Data["run_id"])
}

func TestUseTxAndPool_Empty(t *testing.T) {
	_, ok := UseTx(context.Background())
	require.False(t, ok)

	_, err := UsePool(context.Background())
	require.ErrorIs(t, err, ErrNoPool)

	_, err = BeginTx(context.Background(), nil)
	require.ErrorIs(t, err, ErrNoPool)
}

func TestRequestID(t *testing.T) {
	_, ok := UseRequestID(context.Background())
	require.False(t, ok)

	id, ok := UseRequestID(WithRequestID(context.Background(), "abc"))
	require.True(t, ok)
	require.Equal(t, "abc", id)
}
