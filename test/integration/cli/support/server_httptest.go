package support

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/labelscan/internal/geometry"
	"github.com/MeKo-Tech/labelscan/internal/recognition"
	"github.com/MeKo-Tech/labelscan/internal/server"
	"github.com/MeKo-Tech/labelscan/internal/session"
	"github.com/MeKo-Tech/labelscan/internal/testutil"
)

// HTTPTestServerWrapper wraps httptest.Server for integration tests.
type HTTPTestServerWrapper struct {
	Server     *httptest.Server
	ScanServer *server.Server
	Gateway    *testutil.FakeGateway
}

// startTestHTTPServer serves the scan API in-process over a fake gateway
// returning the named fixture's texts.
func (testCtx *TestContext) startTestHTTPServer(fixture string, columnTimeout time.Duration) error {
	if testCtx.HTTPTestServer != nil {
		return nil
	}

	gateway := &testutil.FakeGateway{}
	if fixture != "" {
		gateway.Set = fixtureTexts(fixture)
		if gateway.Set == nil {
			return fmt.Errorf("unknown label fixture %q", fixture)
		}
	}

	scanServer := server.NewServer(server.Config{
		CORSOrigin:    "*",
		MaxUploadMB:   10,
		TimeoutSec:    10,
		Display:       geometry.Size{Width: 390, Height: 844},
		Pacing:        session.NoPacing(),
		CropWorkers:   2,
		ColumnTimeout: columnTimeout,
	}, gateway, nil)

	mux := http.NewServeMux()
	scanServer.SetupRoutes(mux)

	testCtx.HTTPTestServer = &HTTPTestServerWrapper{
		Server:     httptest.NewServer(mux),
		ScanServer: scanServer,
		Gateway:    gateway,
	}
	return nil
}

func (testCtx *TestContext) stopTestHTTPServer() error {
	if testCtx.HTTPTestServer == nil {
		return nil
	}
	testCtx.HTTPTestServer.Server.Close()
	testCtx.HTTPTestServer = nil
	return nil
}

func fixtureTexts(name string) *recognition.TextSet {
	for _, f := range testutil.LabelFixtures() {
		if f.Name == name {
			return f.Texts
		}
	}
	return nil
}

// GetServerURL returns the base URL of the running server.
func (testCtx *TestContext) GetServerURL() string {
	if testCtx.HTTPTestServer != nil {
		return testCtx.HTTPTestServer.Server.URL
	}
	return fmt.Sprintf("http://%s:%d", testCtx.ServerHost, testCtx.ServerPort)
}

func (testCtx *TestContext) storeHTTPResponse(resp *http.Response) error {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	testCtx.LastHTTPStatusCode = resp.StatusCode
	testCtx.LastHTTPResponse = string(body)
	testCtx.LastHTTPHeaders = make(map[string]string)
	for k, v := range resp.Header {
		testCtx.LastHTTPHeaders[k] = strings.Join(v, ", ")
	}
	return nil
}

// postScan uploads the named fixture image to POST /scan with form fields.
func (testCtx *TestContext) postScan(fixture string, fields map[string]string) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if fixture != "" {
		paths, ok := testCtx.Fixtures[fixture]
		if !ok {
			return fmt.Errorf("fixture %q is not available", fixture)
		}
		data, err := os.ReadFile(paths.Image)
		if err != nil {
			return err
		}
		part, err := writer.CreateFormFile("image", fixture+".png")
		if err != nil {
			return err
		}
		if _, err := part.Write(data); err != nil {
			return err
		}
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return err
		}
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, testCtx.GetServerURL()+"/scan", &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("scan request failed: %w", err)
	}
	return testCtx.storeHTTPResponse(resp)
}

// dialWebSocket opens a websocket to /scan/ws.
func (testCtx *TestContext) dialWebSocket() error {
	url := "ws" + strings.TrimPrefix(testCtx.GetServerURL(), "http") + "/scan/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect websocket: %w", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	testCtx.WSConn = conn
	testCtx.WSMessages = nil
	testCtx.WSCursor = 0
	return nil
}

func (testCtx *TestContext) sendWebSocket(msg server.WebSocketRequest) error {
	if testCtx.WSConn == nil {
		return fmt.Errorf("websocket is not connected")
	}
	return testCtx.WSConn.WriteJSON(msg)
}

// awaitWebSocket returns the next message match accepts, reading more
// messages until one arrives or the timeout passes.
func (testCtx *TestContext) awaitWebSocket(match func(map[string]interface{}) bool) (map[string]interface{}, error) {
	if testCtx.WSConn == nil {
		return nil, fmt.Errorf("websocket is not connected")
	}
	for i := testCtx.WSCursor; i < len(testCtx.WSMessages); i++ {
		if m := testCtx.WSMessages[i]; match(m) {
			testCtx.WSCursor = i + 1
			return m, nil
		}
	}
	if err := testCtx.WSConn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return nil, err
	}
	for {
		_, data, err := testCtx.WSConn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("no matching websocket message: %w", err)
		}
		var m map[string]interface{}
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("invalid websocket message: %w", err)
		}
		testCtx.WSMessages = append(testCtx.WSMessages, m)
		if match(m) {
			testCtx.WSCursor = len(testCtx.WSMessages)
			return m, nil
		}
	}
}
