package database

import (
	"testing"

	"github.com/stretchr/testify/assert"

	c "github.com/life-stream-dev/gaia-sync-server/internal/config"
)

func TestDatabaseURI(t *testing.T) {
	tests := []struct {
		name   string
		config c.DatabaseConfig
		want   string
	}{
		{"explicit uri", c.DatabaseConfig{URI: "mongodb://db:27017/x", Host: "ignored"}, "mongodb://db:27017/x"},
		{"anonymous", c.DatabaseConfig{Host: "localhost", Port: 27017}, "mongodb://localhost:27017/"},
		{"escaped credentials", c.DatabaseConfig{Host: "h", Port: 1, Username: "u@x", Password: "p/w"}, "mongodb://u%40x:p%2Fw@h:1/?authSource=admin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, databaseURI(tt.config))
		})
	}
}

func TestClientOptions(t *testing.T) {
	config := c.Default()
	config.Database.MaxPoolSize = 7
	opts := clientOptions(config)
	assert.Equal(t, uint64(7), *opts.MaxPoolSize)
	assert.Equal(t, "gaia-sync-server", *opts.AppName)
	assert.NotNil(t, opts.PoolMonitor)
}
