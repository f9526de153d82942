package support

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// freePort asks the kernel for an unused TCP port.
func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer func() { _ = l.Close() }()
	return l.Addr().(*net.TCPAddr).Port, nil
}

// StartServer starts the labelscan server process. A {port} placeholder in
// command is replaced with a free port.
func (testCtx *TestContext) StartServer(command string) error {
	port, err := freePort()
	if err != nil {
		return fmt.Errorf("failed to find a free port: %w", err)
	}
	testCtx.ServerPort = port
	testCtx.ServerHost = "127.0.0.1"

	command = strings.ReplaceAll(command, "{port}", strconv.Itoa(port))
	command = testCtx.substituteCommandVariables(command)

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return errors.New("empty command")
	}

	cmd := exec.Command(testCtx.binaryPath(parts[0]), parts[1:]...) //nolint:gosec // G204: test binary with scenario arguments
	cmd.Dir = testCtx.TempDir
	cmd.Env = append(os.Environ(), testCtx.EnvVars...)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	testCtx.ServerProcess = cmd.Process
	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()
	testCtx.ServerExited = exited

	if err := testCtx.waitForServerReady(); err != nil {
		if stopErr := testCtx.StopServer(); stopErr != nil {
			return fmt.Errorf("server failed to start and also failed to stop: %w; stop error: %w", err, stopErr)
		}
		return err
	}
	return nil
}

// StopServer stops the in-process or external server, if any.
func (testCtx *TestContext) StopServer() error {
	if testCtx.HTTPTestServer != nil {
		return testCtx.stopTestHTTPServer()
	}

	if testCtx.ServerProcess != nil {
		if err := testCtx.ServerProcess.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("failed to kill server process: %w", err)
		}
		testCtx.ServerProcess = nil
	}
	return nil
}

func (testCtx *TestContext) isServerHealthy() bool {
	client := &http.Client{Timeout: time.Second}
	resp, err := client.Get(testCtx.GetServerURL() + "/health")
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (testCtx *TestContext) waitForServerReady() error {
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case err := <-testCtx.ServerExited:
			return fmt.Errorf("server exited before becoming ready: %v", err)
		default:
		}
		if testCtx.isServerHealthy() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("server did not become ready on port %d", testCtx.ServerPort)
}

// iStartTheServerWith starts the server with given command.
func (testCtx *TestContext) iStartTheServerWith(command string) error {
	return testCtx.StartServer(command)
}

// theHealthEndpointShouldRespondWithStatus verifies health endpoint response.
func (testCtx *TestContext) theHealthEndpointShouldRespondWithStatus(expectedStatus int) error {
	if err := testCtx.iRequest(http.MethodGet, "/health"); err != nil {
		return err
	}
	return testCtx.theResponseStatusShouldBe(expectedStatus)
}

// iStopTheServer sends SIGTERM to the server process.
func (testCtx *TestContext) iStopTheServer() error {
	if testCtx.ServerProcess == nil {
		return errors.New("no server process running")
	}
	return testCtx.ServerProcess.Signal(syscall.SIGTERM)
}

// theServerShouldHaveShutDownGracefully waits for a clean exit after SIGTERM.
func (testCtx *TestContext) theServerShouldHaveShutDownGracefully() error {
	select {
	case err := <-testCtx.ServerExited:
		testCtx.ServerProcess = nil
		if err != nil {
			return fmt.Errorf("server exited with error: %w", err)
		}
		return nil
	case <-time.After(15 * time.Second):
		return errors.New("server did not shut down in time")
	}
}
