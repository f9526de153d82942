package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/labelscan/internal/geometry"
	"github.com/MeKo-Tech/labelscan/internal/recognition"
	"github.com/MeKo-Tech/labelscan/internal/session"
	"github.com/MeKo-Tech/labelscan/internal/testutil"
)

func newTestServer(t *testing.T, gateway recognition.Gateway, mutate func(*Config)) *Server {
	t.Helper()

	cfg := Config{
		CORSOrigin:  "*",
		MaxUploadMB: 5,
		TimeoutSec:  10,
		Display:     geometry.Size{Width: 400, Height: 800},
		Pacing:      session.NoPacing(),
		CropWorkers: 2,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewServer(cfg, gateway, nil)
}

func labelPNG(t *testing.T, set *recognition.TextSet) []byte {
	t.Helper()
	return testutil.EncodePNG(t, testutil.LabelImage(set))
}

// createMultipartRequest builds a POST /scan request with an image part and
// form fields.
func createMultipartRequest(t *testing.T, image []byte, fields map[string]string) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if image != nil {
		part, err := writer.CreateFormFile("image", "label.png")
		require.NoError(t, err)
		_, err = part.Write(image)
		require.NoError(t, err)
	}
	for k, v := range fields {
		require.NoError(t, writer.WriteField(k, v))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/scan", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func decodeScanResponse(t *testing.T, w *httptest.ResponseRecorder) ScanResponse {
	t.Helper()

	var response ScanResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response), w.Body.String())
	return response
}
