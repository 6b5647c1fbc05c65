package sequence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedis_NextTicketSequence(t *testing.T) {
	db, mock := redismock.NewClientMock()
	seq := NewRedis(db, "", slog.New(slog.NewTextHandler(io.Discard, nil)))

	mock.ExpectIncr(DefaultKey).SetVal(1)
	mock.ExpectIncr(DefaultKey).SetVal(2)

	got, err := seq.NextTicketSequence(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), got)

	got, err = seq.NextTicketSequence(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), got)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedis_NextTicketSequenceError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	seq := NewRedis(db, "custom", slog.New(slog.NewTextHandler(io.Discard, nil)))

	mock.ExpectIncr("custom").SetErr(errors.New("connection refused"))

	_, err := seq.NextTicketSequence(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to advance ticket sequence")
	assert.NoError(t, mock.ExpectationsWereMet())
}
