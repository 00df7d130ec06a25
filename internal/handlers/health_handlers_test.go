package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type stubPinger struct {
	err error
}

func (p *stubPinger) Ping(ctx context.Context) error { return p.err }

func TestHealth(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name           string
		pingErr        error
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "Database Up",
			pingErr:        nil,
			expectedStatus: 200,
			expectedBody:   `{"status":"ok","database":"up","running_scans":1,"queued_scans":2}`,
		},
		{
			name:           "Database Down",
			pingErr:        errors.New("connection refused"),
			expectedStatus: 503,
			expectedBody:   `{"status":"degraded","database":"down","running_scans":1,"queued_scans":2}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockScanService)
			mockService.On("QueueStatus").Return(1, 2, 3)

			handler := NewHealthHandler(&stubPinger{err: tt.pingErr}, mockService)
			router := gin.New()
			router.GET("/health", handler.Health)

			req, _ := http.NewRequest("GET", "/health", nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.JSONEq(t, tt.expectedBody, w.Body.String())
		})
	}
}

func TestHealthWithoutScanService(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler := NewHealthHandler(&stubPinger{}, nil)
	router := gin.New()
	router.GET("/health", handler.Health)

	req, _ := http.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, 200, w.Code)
	assert.JSONEq(t, `{"status":"ok","database":"up","running_scans":0,"queued_scans":0}`, w.Body.String())
}
