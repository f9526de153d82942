package support

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/labelscan/internal/server"
)

// aScanServerReplaying starts an in-process scan server for the fixture.
func (testCtx *TestContext) aScanServerReplaying(fixture string) error {
	return testCtx.startTestHTTPServer(fixture, 0)
}

// aScanServerReplayingWithColumnTimeout starts a server whose websocket
// sessions give up waiting for a column decision after ms milliseconds.
func (testCtx *TestContext) aScanServerReplayingWithColumnTimeout(fixture string, ms int) error {
	return testCtx.startTestHTTPServer(fixture, time.Duration(ms)*time.Millisecond)
}

// iRequest sends a request without body.
func (testCtx *TestContext) iRequest(method, path string) error {
	req, err := http.NewRequest(method, testCtx.GetServerURL()+path, nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return testCtx.storeHTTPResponse(resp)
}

// iUploadTheLabel posts the fixture image to /scan.
func (testCtx *TestContext) iUploadTheLabel(fixture string) error {
	return testCtx.postScan(fixture, nil)
}

// iUploadTheLabelWith posts the fixture image with the form fields of table.
func (testCtx *TestContext) iUploadTheLabelWith(fixture string, table *godog.Table) error {
	fields := make(map[string]string)
	for i, row := range table.Rows {
		if len(row.Cells) != 2 {
			return fmt.Errorf("row %d: expected field and value", i+1)
		}
		if i == 0 && row.Cells[0].Value == "field" {
			continue
		}
		fields[row.Cells[0].Value] = row.Cells[1].Value
	}
	return testCtx.postScan(fixture, fields)
}

// iUploadWithoutImage posts a form without an image part.
func (testCtx *TestContext) iUploadWithoutImage() error {
	return testCtx.postScan("", map[string]string{"camera": "true"})
}

// theResponseStatusShouldBe checks the last HTTP status code.
func (testCtx *TestContext) theResponseStatusShouldBe(status int) error {
	if testCtx.LastHTTPStatusCode != status {
		return fmt.Errorf("expected status %d, got %d\nBody: %s", status, testCtx.LastHTTPStatusCode, testCtx.LastHTTPResponse)
	}
	return nil
}

// theResponseJSONFieldShouldBe checks a field of the last JSON response.
func (testCtx *TestContext) theResponseJSONFieldShouldBe(field, want string) error {
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(testCtx.LastHTTPResponse), &data); err != nil {
		return fmt.Errorf("response is not valid JSON: %w\nBody: %s", err, testCtx.LastHTTPResponse)
	}
	return jsonFieldEquals(data, field, want)
}

// theResponseShouldContain checks the raw response body.
func (testCtx *TestContext) theResponseShouldContain(text string) error {
	if !strings.Contains(testCtx.LastHTTPResponse, text) {
		return fmt.Errorf("response does not contain '%s'\nBody: %s", text, testCtx.LastHTTPResponse)
	}
	return nil
}

// theResponseHeaderShouldBe checks a header of the last response.
func (testCtx *TestContext) theResponseHeaderShouldBe(name, want string) error {
	got := testCtx.LastHTTPHeaders[http.CanonicalHeaderKey(name)]
	if got != want {
		return fmt.Errorf("header %s is %q, want %q", name, got, want)
	}
	return nil
}

// iOpenAScanWebSocket connects to /scan/ws.
func (testCtx *TestContext) iOpenAScanWebSocket() error {
	return testCtx.dialWebSocket()
}

// iBeginAWebSocketScan sends a begin message with the fixture image.
func (testCtx *TestContext) iBeginAWebSocketScan(fixture string) error {
	paths, ok := testCtx.Fixtures[fixture]
	if !ok {
		return fmt.Errorf("fixture %q is not available", fixture)
	}
	data, err := os.ReadFile(paths.Image)
	if err != nil {
		return err
	}
	return testCtx.sendWebSocket(server.WebSocketRequest{Type: server.MessageBegin, Image: data})
}

// iSendAColumnDecision sends resolve_columns.
func (testCtx *TestContext) iSendAColumnDecision(column int) error {
	return testCtx.sendWebSocket(server.WebSocketRequest{Type: server.MessageResolveColumns, Column: column})
}

// iCancelOverTheWebSocket sends cancel.
func (testCtx *TestContext) iCancelOverTheWebSocket() error {
	return testCtx.sendWebSocket(server.WebSocketRequest{Type: server.MessageCancel})
}

// iShouldReceiveAnEvent waits for a session event of the given kind.
func (testCtx *TestContext) iShouldReceiveAnEvent(kind string) error {
	_, err := testCtx.awaitWebSocket(func(m map[string]interface{}) bool {
		if m["type"] != server.MessageEvent {
			return false
		}
		event, _ := m["event"].(map[string]interface{})
		return event["kind"] == kind
	})
	return err
}

// iShouldReceiveAMessage waits for a server message of the given type.
func (testCtx *TestContext) iShouldReceiveAMessage(typ string) error {
	_, err := testCtx.awaitWebSocket(func(m map[string]interface{}) bool {
		return m["type"] == typ
	})
	return err
}

// iShouldReceiveAnErrorOfType waits for an error message with error_type.
func (testCtx *TestContext) iShouldReceiveAnErrorOfType(errorType string) error {
	_, err := testCtx.awaitWebSocket(func(m map[string]interface{}) bool {
		return m["type"] == server.MessageError && m["error_type"] == errorType
	})
	return err
}

// theLastWebSocketMessageFieldShouldBe checks the last matched message.
func (testCtx *TestContext) theLastWebSocketMessageFieldShouldBe(field, want string) error {
	if testCtx.WSCursor == 0 {
		return fmt.Errorf("no websocket message matched yet")
	}
	return jsonFieldEquals(testCtx.WSMessages[testCtx.WSCursor-1], field, want)
}

// theWebSocketPhasesShouldBe compares the phase events received so far.
func (testCtx *TestContext) theWebSocketPhasesShouldBe(list string) error {
	var got []string
	for _, m := range testCtx.WSMessages {
		event, _ := m["event"].(map[string]interface{})
		if m["type"] == server.MessageEvent && event["kind"] == "phase" {
			got = append(got, fmt.Sprint(event["phase"]))
		}
	}
	return comparePhaseList(got, list)
}

// RegisterServerSteps registers the HTTP and websocket steps.
func (testCtx *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a scan server replaying the "([^"]*)" label$`, testCtx.aScanServerReplaying)
	sc.Step(`^a scan server replaying the "([^"]*)" label with a column timeout of (\d+)ms$`,
		testCtx.aScanServerReplayingWithColumnTimeout)

	sc.Step(`^I request (GET|POST|PUT|OPTIONS) "([^"]*)"$`, testCtx.iRequest)
	sc.Step(`^I upload the "([^"]*)" label to /scan$`, testCtx.iUploadTheLabel)
	sc.Step(`^I upload the "([^"]*)" label to /scan with:$`, testCtx.iUploadTheLabelWith)
	sc.Step(`^I upload a form without image to /scan$`, testCtx.iUploadWithoutImage)
	sc.Step(`^the response status should be (\d+)$`, testCtx.theResponseStatusShouldBe)
	sc.Step(`^the response JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseJSONFieldShouldBe)
	sc.Step(`^the response should contain "([^"]*)"$`, testCtx.theResponseShouldContain)
	sc.Step(`^the response header "([^"]*)" should be "([^"]*)"$`, testCtx.theResponseHeaderShouldBe)

	sc.Step(`^I open a scan websocket$`, testCtx.iOpenAScanWebSocket)
	sc.Step(`^I begin a websocket scan of the "([^"]*)" label$`, testCtx.iBeginAWebSocketScan)
	sc.Step(`^I send a column decision for column (\d+)$`, testCtx.iSendAColumnDecision)
	sc.Step(`^I cancel the websocket scan$`, testCtx.iCancelOverTheWebSocket)
	sc.Step(`^I should receive a "([^"]*)" event$`, testCtx.iShouldReceiveAnEvent)
	sc.Step(`^I should receive a "([^"]*)" message$`, testCtx.iShouldReceiveAMessage)
	sc.Step(`^I should receive an error of type "([^"]*)"$`, testCtx.iShouldReceiveAnErrorOfType)
	sc.Step(`^the message field "([^"]*)" should be "([^"]*)"$`, testCtx.theLastWebSocketMessageFieldShouldBe)
	sc.Step(`^the websocket phases should be "([^"]*)"$`, testCtx.theWebSocketPhasesShouldBe)

	sc.Step(`^I start the server with "([^"]*)"$`, testCtx.iStartTheServerWith)
	sc.Step(`^the health endpoint should respond with status (\d+)$`, testCtx.theHealthEndpointShouldRespondWithStatus)
	sc.Step(`^I stop the server$`, testCtx.iStopTheServer)
	sc.Step(`^the server should have shut down gracefully$`, testCtx.theServerShouldHaveShutDownGracefully)
}
