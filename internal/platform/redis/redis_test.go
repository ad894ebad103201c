package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"askdoc/internal/config"
)

func TestOptionsFromConfig(t *testing.T) {
	opts := options(config.RedisConfig{
		Addr:              "cache:6379",
		Password:          "secret",
		DB:                2,
		PoolSize:          7,
		DialTimeoutMillis: 500,
		IOTimeoutMillis:   250,
	})

	assert.Equal(t, "cache:6379", opts.Addr)
	assert.Equal(t, "secret", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 7, opts.PoolSize)
	assert.Equal(t, 500*time.Millisecond, opts.DialTimeout)
	assert.Equal(t, 250*time.Millisecond, opts.ReadTimeout)
	assert.Equal(t, 250*time.Millisecond, opts.WriteTimeout)
}

func TestOptionsTimeoutFallbacks(t *testing.T) {
	opts := options(config.RedisConfig{Addr: "cache:6379"})

	assert.Equal(t, 3*time.Second, opts.DialTimeout)
	assert.Equal(t, 2*time.Second, opts.ReadTimeout)
}
