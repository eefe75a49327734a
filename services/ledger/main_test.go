package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/matheusmosca/gym-wallet-ledger/internal/alert"
	"github.com/matheusmosca/gym-wallet-ledger/internal/config"
	"github.com/matheusmosca/gym-wallet-ledger/internal/notify"
)

func TestHealthCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name   string
		ping   func(context.Context) error
		status int
	}{
		{name: "healthy", ping: func(context.Context) error { return nil }, status: http.StatusOK},
		{name: "database down", ping: func(context.Context) error { return errors.New("refused") }, status: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/health", healthCheck(tt.ping))

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestInitDeliverer(t *testing.T) {
	logger := zaptest.NewLogger(t)

	d, closeFn := initDeliverer(&config.Config{NotifyDriver: config.NotifyLog}, logger)
	assert.IsType(t, &notify.LogDeliverer{}, d)
	closeFn()

	d, closeFn = initDeliverer(&config.Config{NotifyDriver: config.NotifyHTTP, NotifyURL: "http://localhost:1"}, logger)
	assert.IsType(t, &notify.HTTPDeliverer{}, d)
	closeFn()

	d, closeFn = initDeliverer(&config.Config{
		NotifyDriver:     config.NotifyKafka,
		KafkaBrokers:     []string{"localhost:9092"},
		KafkaNotifyTopic: "notifications",
	}, logger)
	assert.IsType(t, &notify.KafkaDeliverer{}, d)
	closeFn()
}

func TestInitAlerts(t *testing.T) {
	logger := zaptest.NewLogger(t)

	p, closeFn := initAlerts(&config.Config{}, logger)
	require.IsType(t, alert.Multi{}, p)
	assert.Len(t, p.(alert.Multi), 1)
	closeFn()

	p, closeFn = initAlerts(&config.Config{RedisAddr: "localhost:6379", RedisAlertChannel: "alerts"}, logger)
	assert.Len(t, p.(alert.Multi), 2)
	closeFn()
}

func TestOpenRepositories_SQLite(t *testing.T) {
	cfg := &config.Config{
		DatabaseDriver: config.DriverSQLite,
		SQLitePath:     t.TempDir() + "/ledger.db",
	}

	repos, err := openRepositories(context.Background(), cfg, zaptest.NewLogger(t))

	require.NoError(t, err)
	defer repos.close()
	assert.NoError(t, repos.ping(context.Background()))
	assert.NotNil(t, repos.wallets)
	assert.NotNil(t, repos.bookings)
}
