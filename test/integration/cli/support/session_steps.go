package support

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cucumber/godog"

	"github.com/MeKo-Tech/labelscan/internal/crop"
	"github.com/MeKo-Tech/labelscan/internal/form"
	"github.com/MeKo-Tech/labelscan/internal/geometry"
	"github.com/MeKo-Tech/labelscan/internal/recognition"
	"github.com/MeKo-Tech/labelscan/internal/session"
	"github.com/MeKo-Tech/labelscan/internal/testutil"
)

const sessionStepTimeout = 5 * time.Second

var errEngineOffline = errors.New("engine offline")

func (testCtx *TestContext) releaseGateway() {
	if !testCtx.gatewayReleased {
		close(testCtx.Gateway.Block)
		testCtx.gatewayReleased = true
	}
}

func (testCtx *TestContext) aGatewayReturningTheLabel(fixture string) error {
	set := fixtureTexts(fixture)
	if set == nil {
		return fmt.Errorf("unknown label fixture %q", fixture)
	}
	testCtx.Gateway = &testutil.FakeGateway{Set: set}
	return nil
}

func (testCtx *TestContext) aGatewayThatFails() error {
	testCtx.Gateway = &testutil.FakeGateway{Err: errEngineOffline}
	return nil
}

func (testCtx *TestContext) aGatewayThatBlocksOnTheLabel(fixture string) error {
	if err := testCtx.aGatewayReturningTheLabel(fixture); err != nil {
		return err
	}
	testCtx.Gateway.Block = make(chan struct{})
	testCtx.gatewayReleased = false
	return nil
}

func (testCtx *TestContext) iReleaseTheGateway() error {
	if testCtx.Gateway == nil || testCtx.Gateway.Block == nil {
		return errors.New("the recognition gateway does not block")
	}
	testCtx.releaseGateway()
	return nil
}

// beginScan starts an unpaced in-process session over the fixture image.
// Handler calls are recorded before they reach the form.
func (testCtx *TestContext) beginScan(fixture string, camera bool) error {
	if testCtx.Gateway == nil {
		return errors.New("no recognition gateway configured")
	}
	set := fixtureTexts(fixture)
	if set == nil {
		return fmt.Errorf("unknown label fixture %q", fixture)
	}

	testCtx.Fields = form.NewFields()
	testCtx.Sources = form.NewSources()
	recorder := &SessionRecorder{}
	testCtx.Recorder = recorder

	inner := form.Handlers(testCtx.Fields, testCtx.Sources)
	handlers := session.Handlers{
		Image: func(img image.Image, result recognition.ScanResult) {
			recorder.record("image")
			inner.Image(img, result)
		},
		ScanResult: func(result recognition.ScanResult) {
			recorder.record("scan_result")
			inner.ScanResult(result)
		},
		Dismiss: func() {
			recorder.record("dismiss")
		},
	}

	testCtx.Session = session.New(session.Options{
		Gateway:     testCtx.Gateway,
		Mapper:      geometry.NewMapper(geometry.Size{Width: 390, Height: 844}),
		Pacing:      session.NoPacing(),
		Handlers:    handlers,
		Events:      recorder,
		CropWorkers: 2,
	})
	return testCtx.Session.Begin(context.Background(), session.Source{
		Image:    testutil.LabelImage(set),
		IsCamera: camera,
	})
}

func (testCtx *TestContext) iBeginAScanOfTheLabel(fixture string) error {
	return testCtx.beginScan(fixture, false)
}

func (testCtx *TestContext) iBeginACameraScanOfTheLabel(fixture string) error {
	return testCtx.beginScan(fixture, true)
}

func (testCtx *TestContext) requireSession() error {
	if testCtx.Session == nil {
		return errors.New("no scan session started")
	}
	return nil
}

// theSessionShouldReachThePhase polls until the session is in phase.
func (testCtx *TestContext) theSessionShouldReachThePhase(phase string) error {
	if err := testCtx.requireSession(); err != nil {
		return err
	}
	deadline := time.Now().Add(sessionStepTimeout)
	for time.Now().Before(deadline) {
		if testCtx.Session.Phase().String() == phase {
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return fmt.Errorf("session is in phase %s, want %s", testCtx.Session.Phase(), phase)
}

func (testCtx *TestContext) iChooseColumn(column int) error {
	if err := testCtx.requireSession(); err != nil {
		return err
	}
	testCtx.LastResolveErr = testCtx.Session.Resolve(session.ColumnDecision{Column: column})
	return nil
}

func (testCtx *TestContext) choosingTheColumnShouldFailWith(text string) error {
	if testCtx.LastResolveErr == nil {
		return errors.New("column decision was accepted")
	}
	if !strings.Contains(testCtx.LastResolveErr.Error(), text) {
		return fmt.Errorf("column decision failed with %q, want it to mention %q", testCtx.LastResolveErr, text)
	}
	return nil
}

func (testCtx *TestContext) iCancelTheScan() error {
	if err := testCtx.requireSession(); err != nil {
		return err
	}
	if !testCtx.Session.Cancel() {
		return errors.New("cancel had no effect")
	}
	return nil
}

func (testCtx *TestContext) cancellingAgainShouldHaveNoEffect() error {
	if err := testCtx.requireSession(); err != nil {
		return err
	}
	if testCtx.Session.Cancel() {
		return errors.New("second cancel reported an effect")
	}
	return nil
}

func (testCtx *TestContext) theScanShouldFinishWithOutcome(outcome string) error {
	if err := testCtx.requireSession(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), sessionStepTimeout)
	defer cancel()
	got, err := testCtx.Session.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) && got == session.OutcomePending {
		return fmt.Errorf("session still running in phase %s", testCtx.Session.Phase())
	}
	if got.String() != outcome {
		return fmt.Errorf("session finished %s (err %v), want %s", got, err, outcome)
	}
	return nil
}

func (testCtx *TestContext) theScanErrorShouldMention(text string) error {
	if err := testCtx.requireSession(); err != nil {
		return err
	}
	_, err := testCtx.Session.Wait(context.Background())
	if err == nil || !strings.Contains(err.Error(), text) {
		return fmt.Errorf("session error %v does not mention %q", err, text)
	}
	return nil
}

// comparePhaseList compares phases with a comma separated list of names.
func comparePhaseList(got []string, list string) error {
	var want []string
	for _, p := range strings.Split(list, ",") {
		want = append(want, strings.TrimSpace(p))
	}
	if !slices.Equal(got, want) {
		return fmt.Errorf("phases were %v, want %v", got, want)
	}
	return nil
}

func (testCtx *TestContext) thePhasesShouldBe(list string) error {
	if testCtx.Recorder == nil {
		return errors.New("no scan session started")
	}
	var got []string
	for _, e := range testCtx.Recorder.Events() {
		if e.Kind == session.EventPhase {
			got = append(got, e.Phase.String())
		}
	}
	return comparePhaseList(got, list)
}

func (testCtx *TestContext) anEventShouldHaveBeenEmitted(kind string) error {
	if testCtx.Recorder == nil {
		return errors.New("no scan session started")
	}
	for _, e := range testCtx.Recorder.Events() {
		if string(e.Kind) == kind {
			return nil
		}
	}
	return fmt.Errorf("no %s event was emitted", kind)
}

func (testCtx *TestContext) theHandlersShouldBe(list string) error {
	if testCtx.Recorder == nil {
		return errors.New("no scan session started")
	}
	got := testCtx.Recorder.Handlers()
	var want []string
	if list != "" {
		for _, h := range strings.Split(list, ",") {
			want = append(want, strings.TrimSpace(h))
		}
	}
	if !slices.Equal(got, want) {
		return fmt.Errorf("handlers ran as %v, want %v", got, want)
	}
	return nil
}

func (testCtx *TestContext) noHandlersShouldHaveRun() error {
	return testCtx.theHandlersShouldBe("")
}

func (testCtx *TestContext) theFormFieldShouldBe(name, amount string) error {
	if testCtx.Fields == nil {
		return errors.New("no form state")
	}
	want, err := strconv.ParseFloat(amount, 64)
	if err != nil {
		return err
	}
	values := testCtx.Fields.Values()
	var field form.Field
	switch name {
	case "energy":
		field = values.Energy
	case "carb":
		field = values.Carb
	case "fat":
		field = values.Fat
	case "protein":
		field = values.Protein
	case "amount":
		field = values.Amount
	case "serving":
		field = values.Serving
	default:
		return fmt.Errorf("unknown form field %q", name)
	}
	if field.IsEmpty() {
		return fmt.Errorf("form field %s is empty", name)
	}
	if math.Abs(field.Amount-want) > 1e-9 {
		return fmt.Errorf("form field %s is %v, want %v", name, field.Amount, want)
	}
	return nil
}

func (testCtx *TestContext) theFormStatusShouldBe(status string) error {
	if testCtx.Fields == nil {
		return errors.New("no form state")
	}
	if got := form.StatusMessage(testCtx.Fields, testCtx.Sources); got != status {
		return fmt.Errorf("form status is %q, want %q", got, status)
	}
	return nil
}

func (testCtx *TestContext) theFormShouldHaveAttachedImages(n int) error {
	if testCtx.Sources == nil {
		return errors.New("no form state")
	}
	if got := len(testCtx.Sources.Images()); got != n {
		return fmt.Errorf("form has %d images, want %d", got, n)
	}
	return nil
}

func (testCtx *TestContext) theSelectedColumnShouldBe(column int) error {
	if err := testCtx.requireSession(); err != nil {
		return err
	}
	result, ok := testCtx.Session.Result()
	if !ok {
		return errors.New("session has no result")
	}
	if result.SelectedColumn != column {
		return fmt.Errorf("selected column is %d, want %d", result.SelectedColumn, column)
	}
	return nil
}

func (testCtx *TestContext) thereShouldBeOneCropPerResultBox() error {
	if err := testCtx.requireSession(); err != nil {
		return err
	}
	result, ok := testCtx.Session.Result()
	if !ok {
		return errors.New("session has no result")
	}
	crops := testCtx.Session.Crops()
	if len(crops) != len(result.TextBoxes) {
		return fmt.Errorf("got %d crops for %d result boxes", len(crops), len(result.TextBoxes))
	}
	return nil
}

func (testCtx *TestContext) everyCropShouldBeRotatedWithinTheLimit() error {
	if err := testCtx.requireSession(); err != nil {
		return err
	}
	for _, c := range testCtx.Session.Crops() {
		if math.Abs(c.Rotation) > crop.MaxRotation {
			return fmt.Errorf("crop %s rotated %.2f degrees", c.BoxID, c.Rotation)
		}
	}
	return nil
}

// RegisterSessionSteps registers the in-process session steps.
func (testCtx *TestContext) RegisterSessionSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a recognition gateway returning the "([^"]*)" label$`, testCtx.aGatewayReturningTheLabel)
	sc.Step(`^a recognition gateway that fails$`, testCtx.aGatewayThatFails)
	sc.Step(`^a recognition gateway that blocks on the "([^"]*)" label$`, testCtx.aGatewayThatBlocksOnTheLabel)
	sc.Step(`^I release the recognition gateway$`, testCtx.iReleaseTheGateway)

	sc.Step(`^I begin a scan of the "([^"]*)" label$`, testCtx.iBeginAScanOfTheLabel)
	sc.Step(`^I begin a camera scan of the "([^"]*)" label$`, testCtx.iBeginACameraScanOfTheLabel)
	sc.Step(`^the session should reach the "([^"]*)" phase$`, testCtx.theSessionShouldReachThePhase)
	sc.Step(`^I choose column (-?\d+)$`, testCtx.iChooseColumn)
	sc.Step(`^choosing the column should fail with "([^"]*)"$`, testCtx.choosingTheColumnShouldFailWith)
	sc.Step(`^I cancel the scan$`, testCtx.iCancelTheScan)
	sc.Step(`^cancelling again should have no effect$`, testCtx.cancellingAgainShouldHaveNoEffect)
	sc.Step(`^the scan should finish with outcome "([^"]*)"$`, testCtx.theScanShouldFinishWithOutcome)
	sc.Step(`^the scan error should mention "([^"]*)"$`, testCtx.theScanErrorShouldMention)

	sc.Step(`^the phases should be "([^"]*)"$`, testCtx.thePhasesShouldBe)
	sc.Step(`^a "([^"]*)" event should have been emitted$`, testCtx.anEventShouldHaveBeenEmitted)
	sc.Step(`^the handlers should have run as "([^"]*)"$`, testCtx.theHandlersShouldBe)
	sc.Step(`^no handlers should have run$`, testCtx.noHandlersShouldHaveRun)

	sc.Step(`^the form field "([^"]*)" should be ([0-9.]+)$`, testCtx.theFormFieldShouldBe)
	sc.Step(`^the form status should be "([^"]*)"$`, testCtx.theFormStatusShouldBe)
	sc.Step(`^the form should have (\d+) attached images?$`, testCtx.theFormShouldHaveAttachedImages)
	sc.Step(`^the selected column should be (\d+)$`, testCtx.theSelectedColumnShouldBe)
	sc.Step(`^there should be one crop per result box$`, testCtx.thereShouldBeOneCropPerResultBox)
	sc.Step(`^every crop should be rotated within the limit$`, testCtx.everyCropShouldBeRotatedWithinTheLimit)
}
