package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/labelscan/internal/recognition"
	"github.com/MeKo-Tech/labelscan/internal/testutil"
)

func TestServer_HealthHandler(t *testing.T) {
	server := newTestServer(t, nil, nil)

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{"GET request success", http.MethodGet, http.StatusOK},
		{"POST request not allowed", http.MethodPost, http.StatusMethodNotAllowed},
		{"PUT request not allowed", http.MethodPut, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			w := httptest.NewRecorder()

			server.healthHandler(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus != http.StatusOK {
				return
			}
			var response HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
			assert.Equal(t, "healthy", response.Status)
			assert.NotEmpty(t, response.Version)
			assert.NotEmpty(t, response.Time)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
		})
	}
}

func TestServer_ScanSingleColumn(t *testing.T) {
	gateway := &testutil.FakeGateway{Set: testutil.SingleColumnLabel()}
	server := newTestServer(t, gateway, nil)

	req := createMultipartRequest(t, labelPNG(t, testutil.SingleColumnLabel()), nil)
	w := httptest.NewRecorder()
	server.scanHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	response := decodeScanResponse(t, w)
	assert.True(t, response.Success)
	assert.NotEmpty(t, response.SessionID)
	require.NotNil(t, response.Result)
	assert.Equal(t, 1, response.Result.ColumnCount)
	assert.Equal(t, 1, response.Result.SelectedColumn)

	energy, ok := response.Result.Value(recognition.AttributeEnergy)
	require.True(t, ok)
	assert.InDelta(t, 230, energy.Amount, 1e-9)

	require.Len(t, response.Crops, len(response.Result.TextBoxes))
	for _, c := range response.Crops {
		assert.Positive(t, c.Width)
		assert.Positive(t, c.Height)
		assert.Empty(t, c.PNG)
		assert.GreaterOrEqual(t, c.Rotation, -20.0)
		assert.LessOrEqual(t, c.Rotation, 20.0)
	}
	assert.Equal(t, 1, gateway.Calls())
}

func TestServer_ScanNeedsColumn(t *testing.T) {
	gateway := &testutil.FakeGateway{Set: testutil.TwoColumnLabel()}
	server := newTestServer(t, gateway, nil)

	req := createMultipartRequest(t, labelPNG(t, testutil.TwoColumnLabel()), nil)
	w := httptest.NewRecorder()
	server.scanHandler(w, req)

	require.Equal(t, http.StatusConflict, w.Code, w.Body.String())
	response := decodeScanResponse(t, w)
	assert.False(t, response.Success)
	assert.Equal(t, 2, response.ColumnCount)
	require.Len(t, response.Columns, 2)
	assert.Equal(t, "per 100g", response.Columns[0].Header)
	assert.Nil(t, response.Result)
	assert.Empty(t, response.Crops)
}

func TestServer_ScanWithColumn(t *testing.T) {
	gateway := &testutil.FakeGateway{Set: testutil.TwoColumnLabel()}
	server := newTestServer(t, gateway, nil)

	req := createMultipartRequest(t, labelPNG(t, testutil.TwoColumnLabel()), map[string]string{
		"column": "2",
		"camera": "true",
		"crops":  "png",
	})
	w := httptest.NewRecorder()
	server.scanHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	response := decodeScanResponse(t, w)
	require.NotNil(t, response.Result)
	assert.Equal(t, 2, response.Result.SelectedColumn)

	protein, ok := response.Result.Value(recognition.AttributeProtein)
	require.True(t, ok)
	assert.InDelta(t, 2.5, protein.Amount, 1e-9)

	require.NotEmpty(t, response.Crops)
	assert.NotEmpty(t, response.Crops[0].PNG)
}

func TestServer_ScanInvalidColumnChoice(t *testing.T) {
	gateway := &testutil.FakeGateway{Set: testutil.TwoColumnLabel()}
	server := newTestServer(t, gateway, nil)

	req := createMultipartRequest(t, labelPNG(t, testutil.TwoColumnLabel()), map[string]string{"column": "3"})
	w := httptest.NewRecorder()
	server.scanHandler(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, decodeScanResponse(t, w).Error, "invalid column")
}

func TestServer_ScanBadRequests(t *testing.T) {
	gateway := &testutil.FakeGateway{Set: testutil.SingleColumnLabel()}
	server := newTestServer(t, gateway, nil)
	png := labelPNG(t, testutil.SingleColumnLabel())

	tests := []struct {
		name    string
		image   []byte
		fields  map[string]string
		wantErr string
	}{
		{"no image", nil, nil, "no image file provided"},
		{"not an image", []byte("hello"), nil, "invalid image"},
		{"bad column", png, map[string]string{"column": "abc"}, "invalid column"},
		{"zero column", png, map[string]string{"column": "0"}, "invalid column"},
		{"bad camera flag", png, map[string]string{"camera": "maybe"}, "invalid camera flag"},
		{"bad page", png, map[string]string{"page": "-1"}, "invalid page"},
		{"half display", png, map[string]string{"display_width": "400"}, "invalid display size"},
		{"zero display", png, map[string]string{"display_width": "0", "display_height": "800"}, "invalid display size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			server.scanHandler(w, createMultipartRequest(t, tt.image, tt.fields))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, decodeScanResponse(t, w).Error, tt.wantErr)
		})
	}
	assert.Zero(t, gateway.Calls())
}

func TestServer_ScanMethodNotAllowed(t *testing.T) {
	server := newTestServer(t, &testutil.FakeGateway{}, nil)

	w := httptest.NewRecorder()
	server.scanHandler(w, httptest.NewRequest(http.MethodGet, "/scan", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestServer_ScanWithoutGateway(t *testing.T) {
	server := newTestServer(t, nil, nil)

	w := httptest.NewRecorder()
	server.scanHandler(w, createMultipartRequest(t, labelPNG(t, nil), nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServer_ScanRecognitionFailure(t *testing.T) {
	gateway := &testutil.FakeGateway{Err: errors.New("engine crashed")}
	server := newTestServer(t, gateway, nil)

	w := httptest.NewRecorder()
	server.scanHandler(w, createMultipartRequest(t, labelPNG(t, nil), nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decodeScanResponse(t, w).Error, "engine crashed")
}

func TestServer_ScanTimeout(t *testing.T) {
	gateway := &testutil.FakeGateway{Block: make(chan struct{})}
	server := newTestServer(t, gateway, func(c *Config) { c.TimeoutSec = 1 })

	w := httptest.NewRecorder()
	server.scanHandler(w, createMultipartRequest(t, labelPNG(t, nil), nil))

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Equal(t, "scan timed out", decodeScanResponse(t, w).Error)
}

func TestServer_SetupRoutes(t *testing.T) {
	server := newTestServer(t, &testutil.FakeGateway{Set: testutil.SingleColumnLabel()}, nil)
	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, createMultipartRequest(t, labelPNG(t, testutil.SingleColumnLabel()), nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "labelscan_sessions_total")
}
