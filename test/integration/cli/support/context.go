package support

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/labelscan/internal/form"
	"github.com/MeKo-Tech/labelscan/internal/session"
	"github.com/MeKo-Tech/labelscan/internal/testutil"
)

// TestContext holds the state for integration tests.
type TestContext struct {
	// Command execution state
	LastCommand   string
	LastOutput    string
	LastStderr    string
	LastError     error
	LastExitCode  int
	LastStartTime time.Time
	LastDuration  time.Duration

	// Test environment
	WorkingDir string
	TempDir    string
	EnvVars    []string
	// Fixtures maps fixture names to their image and recorded text paths.
	Fixtures map[string]FixturePaths

	// Server management
	ServerProcess  *os.Process
	ServerPort     int
	ServerHost     string
	ServerExited   chan error
	HTTPTestServer *HTTPTestServerWrapper

	// HTTP response state
	LastHTTPStatusCode int
	LastHTTPResponse   string
	LastHTTPHeaders    map[string]string

	// WebSocket state
	WSConn     *websocket.Conn
	WSMessages []map[string]interface{}
	// WSCursor is the index after the last matched message.
	WSCursor int

	// In-process session state
	Gateway  *testutil.FakeGateway
	Session  *session.Session
	Fields   *form.Fields
	Sources  *form.Sources
	Recorder *SessionRecorder
	// LastResolveErr is the error of the last column decision.
	LastResolveErr  error
	gatewayReleased bool

	// Test artifacts
	CreatedFiles       []string
	CreatedDirectories []string
}

// FixturePaths locates a label fixture written to disk.
type FixturePaths struct {
	Image string
	Texts string
}

// SessionRecorder captures the events and handler calls of a session.
type SessionRecorder struct {
	mu       sync.Mutex
	events   []session.Event
	handlers []string
}

// Emit implements session.EventSink.
func (r *SessionRecorder) Emit(e session.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *SessionRecorder) record(handler string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, handler)
}

// Events returns the events emitted so far.
func (r *SessionRecorder) Events() []session.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]session.Event(nil), r.events...)
}

// Handlers returns the names of the handlers called so far, in order.
func (r *SessionRecorder) Handlers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.handlers...)
}

// NewTestContext creates a new test context.
func NewTestContext() (*TestContext, error) {
	workingDir, err := testutil.GetProjectRoot()
	if err != nil {
		return nil, fmt.Errorf("failed to find project root: %w", err)
	}

	tempDir, err := os.MkdirTemp("", "labelscan-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}

	ctx := &TestContext{
		WorkingDir:         workingDir,
		TempDir:            tempDir,
		EnvVars:            []string{},
		Fixtures:           map[string]FixturePaths{},
		CreatedFiles:       []string{},
		CreatedDirectories: []string{},
		ServerPort:         8080,
		ServerHost:         "localhost",
	}

	return ctx, nil
}

// Cleanup stops servers and sessions and removes all temporary files and
// directories created during the scenario.
func (testCtx *TestContext) Cleanup() error {
	var errors []error

	if testCtx.Session != nil {
		testCtx.Session.Cancel()
	}
	if testCtx.Gateway != nil && testCtx.Gateway.Block != nil {
		testCtx.releaseGateway()
	}
	if testCtx.WSConn != nil {
		_ = testCtx.WSConn.Close()
		testCtx.WSConn = nil
	}
	if err := testCtx.StopServer(); err != nil {
		errors = append(errors, fmt.Errorf("failed to stop server: %w", err))
	}

	for _, file := range testCtx.CreatedFiles {
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			errors = append(errors, fmt.Errorf("failed to remove file %s: %w", file, err))
		}
	}

	for _, dir := range testCtx.CreatedDirectories {
		if err := os.RemoveAll(dir); err != nil && !os.IsNotExist(err) {
			errors = append(errors, fmt.Errorf("failed to remove directory %s: %w", dir, err))
		}
	}

	if err := os.RemoveAll(testCtx.TempDir); err != nil && !os.IsNotExist(err) {
		errors = append(errors, fmt.Errorf("failed to remove temp directory %s: %w", testCtx.TempDir, err))
	}

	if len(errors) > 0 {
		return fmt.Errorf("cleanup errors: %v", errors)
	}

	return nil
}

// AddEnvVar adds an environment variable for command execution.
func (testCtx *TestContext) AddEnvVar(name, value string) {
	testCtx.EnvVars = append(testCtx.EnvVars, fmt.Sprintf("%s=%s", name, value))
}

// TrackFile adds a file to be cleaned up after tests.
func (testCtx *TestContext) TrackFile(filename string) {
	absPath := filename
	if !filepath.IsAbs(filename) {
		absPath = filepath.Join(testCtx.WorkingDir, filename)
	}
	testCtx.CreatedFiles = append(testCtx.CreatedFiles, absPath)
}

// TrackDirectory adds a directory to be cleaned up after tests.
func (testCtx *TestContext) TrackDirectory(dirname string) {
	absPath := dirname
	if !filepath.IsAbs(dirname) {
		absPath = filepath.Join(testCtx.WorkingDir, dirname)
	}
	testCtx.CreatedDirectories = append(testCtx.CreatedDirectories, absPath)
}

// GetTempFile returns a path to a temporary file.
func (testCtx *TestContext) GetTempFile(suffix string) string {
	return filepath.Join(testCtx.TempDir, fmt.Sprintf("test-%d%s", time.Now().UnixNano(), suffix))
}
