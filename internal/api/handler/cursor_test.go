package handler

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/ticketero/internal/storage"
)

func TestCursorRoundTrip(t *testing.T) {
	in := storage.Cursor{
		CreatedAt: time.Date(2026, 5, 4, 9, 30, 0, 123456789, time.UTC),
		ID:        "7d9f48a2-4c1e-4f57-9d5e-3f1a2b3c4d5e",
	}

	out, err := DecodeCursor(EncodeCursor(in))
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.ID, out.ID)
}

func TestDecodeCursor(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantNil bool
		wantErr bool
	}{
		{name: "empty means first page", input: "", wantNil: true},
		{name: "not base64", input: "!!!", wantErr: true},
		{name: "missing separator", input: base64.URLEncoding.EncodeToString([]byte("12345")), wantErr: true},
		{name: "missing id", input: base64.URLEncoding.EncodeToString([]byte("12345|")), wantErr: true},
		{name: "bad timestamp", input: base64.URLEncoding.EncodeToString([]byte("soon|abc")), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeCursor(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, got)
			}
		})
	}
}
