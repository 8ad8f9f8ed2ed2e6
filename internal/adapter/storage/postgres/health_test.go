package postgres

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthCheck(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectPing()

	hc := NewHealthCheck(mock, zerolog.Nop())
	assert.NoError(t, hc.Ping(context.Background()))
	assert.Equal(t, "postgresql", hc.Name())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHealthCheck_FailureIsLogged(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	var buf bytes.Buffer
	hc := NewHealthCheck(mock, zerolog.New(&buf))
	err = hc.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgresql ping")
	assert.Contains(t, buf.String(), `"dependency":"postgresql"`)
	assert.Contains(t, buf.String(), `"level":"warn"`)
}
