package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTx records commit/rollback calls. Methods it does not override panic
// through the nil embedded interface, which the tests never reach.
type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
	commitErr  error
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return f.commitErr
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolledBack = true
	return nil
}

type fakeBeginner struct {
	tx       *fakeTx
	begins   int
	beginErr error
}

func (b *fakeBeginner) Begin(context.Context) (pgx.Tx, error) {
	b.begins++
	if b.beginErr != nil {
		return nil, b.beginErr
	}
	return b.tx, nil
}

func TestTxFromContext_Nil(t *testing.T) {
	assert.Nil(t, TxFromContext(context.Background()))
}

func TestTxFromContext_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), txKey, "not a tx")
	assert.Nil(t, TxFromContext(ctx))
}

func TestWithTx_NilLeavesContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, WithTx(ctx, nil))
}

func TestInTx_Commits(t *testing.T) {
	tx := &fakeTx{}
	runner := NewTxRunner(&fakeBeginner{tx: tx})

	var seen pgx.Tx
	err := runner.InTx(context.Background(), func(ctx context.Context) error {
		seen = TxFromContext(ctx)
		return nil
	})

	require.NoError(t, err)
	assert.Same(t, tx, seen)
	assert.True(t, tx.committed)
	assert.False(t, tx.rolledBack)
}

func TestInTx_RollsBackOnError(t *testing.T) {
	tx := &fakeTx{}
	runner := NewTxRunner(&fakeBeginner{tx: tx})
	boom := errors.New("insert patient failed")

	err := runner.InTx(context.Background(), func(ctx context.Context) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.False(t, tx.committed)
	assert.True(t, tx.rolledBack)
}

func TestInTx_RollsBackOnPanic(t *testing.T) {
	tx := &fakeTx{}
	runner := NewTxRunner(&fakeBeginner{tx: tx})

	assert.Panics(t, func() {
		_ = runner.InTx(context.Background(), func(ctx context.Context) error {
			panic("unexpected")
		})
	})
	assert.True(t, tx.rolledBack)
	assert.False(t, tx.committed)
}

func TestInTx_CommitFailure(t *testing.T) {
	tx := &fakeTx{commitErr: errors.New("serialization failure")}
	runner := NewTxRunner(&fakeBeginner{tx: tx})

	err := runner.InTx(context.Background(), func(ctx context.Context) error { return nil })

	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit transaction")
}

func TestInTx_BeginFailure(t *testing.T) {
	runner := NewTxRunner(&fakeBeginner{beginErr: errors.New("pool closed")})

	called := false
	err := runner.InTx(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})

	require.Error(t, err)
	assert.False(t, called)
}

func TestInTx_JoinsExistingTransaction(t *testing.T) {
	outer := &fakeTx{}
	b := &fakeBeginner{tx: &fakeTx{}}
	runner := NewTxRunner(b)

	ctx := WithTx(context.Background(), outer)
	err := runner.InTx(ctx, func(ctx context.Context) error {
		assert.Same(t, outer, TxFromContext(ctx))
		return nil
	})

	require.NoError(t, err)
	assert.Zero(t, b.begins)
	assert.False(t, outer.committed)
}

func TestNotFound(t *testing.T) {
	assert.ErrorIs(t, NotFound(pgx.ErrNoRows), ErrNotFound)

	other := errors.New("timeout")
	assert.Same(t, other, NotFound(other))
}
