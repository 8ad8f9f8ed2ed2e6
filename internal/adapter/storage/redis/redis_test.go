package redis

import (
	"bytes"
	"context"
	"testing"

	"fund-gateway/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptions(t *testing.T) {
	opts, err := ParseOptions(config.RedisConfig{URL: "redis://:s3cret@redis.example.com:6380/2", PoolSize: 25})
	require.NoError(t, err)

	assert.Equal(t, "redis.example.com:6380", opts.Addr)
	assert.Equal(t, "s3cret", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 25, opts.PoolSize)
}

func TestParseOptions_KeepsDefaultPoolSize(t *testing.T) {
	opts, err := ParseOptions(config.RedisConfig{URL: "redis://localhost:6379"})
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", opts.Addr)
	assert.Zero(t, opts.DB)
	assert.Zero(t, opts.PoolSize)
}

func TestParseOptions_InvalidURL(t *testing.T) {
	_, err := ParseOptions(config.RedisConfig{URL: "http://localhost:6379"})
	assert.Error(t, err)
}

func TestNewClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewClient(context.Background(), config.RedisConfig{URL: "redis://" + mr.Addr()}, zerolog.Nop())
	require.NoError(t, err)
	defer client.Close()

	hc := NewHealthCheck(client, zerolog.Nop())
	assert.Equal(t, "redis", hc.Name())
	assert.NoError(t, hc.Ping(context.Background()))
}

func TestHealthCheck_FailureIsLogged(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), config.RedisConfig{URL: "redis://" + mr.Addr()}, zerolog.Nop())
	require.NoError(t, err)
	defer client.Close()

	var buf bytes.Buffer
	hc := NewHealthCheck(client, zerolog.New(&buf))
	mr.Close()

	err = hc.Ping(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping")
	assert.Contains(t, buf.String(), `"dependency":"redis"`)
}

func TestNewClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewClient(context.Background(), config.RedisConfig{URL: "redis://" + addr}, zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pinging redis")
}
