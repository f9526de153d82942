// Package session runs a label scan: it zooms to the scanned image, detects
// text, waits for a column choice when the label is ambiguous, crops the
// result boxes, collapses them and hands the result to the form.
//
// All state changes and callbacks happen on a single run goroutine per
// session. Cancel may be called from any goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MeKo-Tech/labelscan/internal/crop"
	"github.com/MeKo-Tech/labelscan/internal/geometry"
	"github.com/MeKo-Tech/labelscan/internal/recognition"
)

var (
	ErrAlreadyStarted    = errors.New("session: already started")
	ErrClosed            = errors.New("session: closed")
	ErrInvalidTransition = errors.New("session: invalid transition")
	ErrRecognition       = errors.New("session: recognition failed")
	ErrNoImage           = errors.New("session: no image")
)

// Handlers are the downstream callbacks of a session. Image is called before
// ScanResult and each is called at most once. Dismiss is called only when the
// session is cancelled. Handlers must not call Cancel.
type Handlers struct {
	Image      func(img image.Image, result recognition.ScanResult)
	ScanResult func(result recognition.ScanResult)
	Dismiss    func()
}

// Metrics receives session measurements. Implementations must be safe for
// concurrent use.
type Metrics interface {
	ObservePhase(phase Phase, d time.Duration)
	SessionFinished(outcome Outcome)
	CropFailed()
}

type nopMetrics struct{}

func (nopMetrics) ObservePhase(Phase, time.Duration) {}
func (nopMetrics) SessionFinished(Outcome)           {}
func (nopMetrics) CropFailed()                       {}

// Options configures a Session.
type Options struct {
	Gateway   recognition.Gateway
	Mapper    geometry.Mapper
	Extractor crop.Builder // nil uses crop.NewExtractor(Mapper)
	Pacing    Pacing
	Handlers  Handlers
	Events    EventSink
	Logger    *slog.Logger
	Metrics   Metrics

	Mode            recognition.Mode
	IncludeBarcodes bool
	// CropWorkers bounds concurrent crops (0 = runtime.NumCPU()).
	CropWorkers int
}

// Source is the image a session scans.
type Source struct {
	Image    image.Image
	IsCamera bool
	// ScreenFill is the normalised part of a camera image that filled the
	// preview. When empty it is derived from the display size.
	ScreenFill geometry.Rect
}

// ColumnDecision picks the value column of an ambiguous label (1 or 2).
type ColumnDecision struct {
	Column int `json:"column"`
}

// Session is a single label scan.
type Session struct {
	id      uuid.UUID
	opts    Options
	logger  *slog.Logger
	metrics Metrics

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// handlerMu serialises callbacks with Cancel.
	handlerMu sync.Mutex

	mu         sync.Mutex
	started    bool
	cancelled  bool
	phase      Phase
	phaseStart time.Time
	outcome    Outcome
	err        error
	view       ViewState
	pending    *recognition.ScanResult
	result     *recognition.ScanResult
	resolving  bool
	resolveCh  chan recognition.ScanResult
	crops      *crop.Collection
}

// New creates an idle session.
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if opts.Extractor == nil {
		opts.Extractor = crop.NewExtractor(opts.Mapper)
	}
	id := uuid.New()
	return &Session{
		id:        id,
		opts:      opts,
		logger:    logger.With("session_id", id.String()),
		metrics:   metrics,
		done:      make(chan struct{}),
		resolveCh: make(chan recognition.ScanResult, 1),
		crops:     crop.NewCollection(),
		view:      ViewState{BlackBackground: true},
	}
}

// ID returns the session id.
func (s *Session) ID() uuid.UUID { return s.id }

// Begin starts scanning src. The session keeps running after Begin returns;
// use Wait to block until it finishes. ctx bounds the whole session.
func (s *Session) Begin(ctx context.Context, src Source) error {
	if src.Image == nil || src.Image.Bounds().Empty() {
		return ErrNoImage
	}
	if s.opts.Gateway == nil {
		return fmt.Errorf("session: no recognition gateway")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return ErrClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.view.HideCamera = !src.IsCamera
	s.phaseStart = time.Now()

	go s.run(s.ctx, src)
	return nil
}

// Resolve supplies the column choice for an ambiguous label. It fails with
// ErrInvalidTransition unless the session is waiting for one, and leaves the
// session untouched on error.
func (s *Session) Resolve(decision ColumnDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseAwaitingColumnResolution || s.resolving || s.cancelled || s.outcome != OutcomePending {
		return fmt.Errorf("%w: resolve columns in phase %s", ErrInvalidTransition, s.phase)
	}
	resolved, err := s.pending.Resolve(decision.Column)
	if err != nil {
		return err
	}
	s.resolving = true
	s.resolveCh <- resolved
	return nil
}

// Cancel tears the session down: pending timers and recognition stop, the
// Dismiss handler runs once and neither result handler runs afterwards. If a
// handler is running, Cancel waits for it. It reports whether this call
// cancelled the session; later calls and calls after completion are no-ops.
func (s *Session) Cancel() bool {
	s.handlerMu.Lock()
	s.mu.Lock()
	if s.cancelled || s.outcome != OutcomePending {
		s.mu.Unlock()
		s.handlerMu.Unlock()
		return false
	}
	s.cancelled = true
	started := s.started
	phase := s.phase
	if started {
		s.cancel()
	}
	s.mu.Unlock()
	s.handlerMu.Unlock()

	s.logger.Info("scan session cancelled", "phase", phase.String())
	if !started {
		s.finish(OutcomeCancelled, nil)
		close(s.done)
	}
	if s.opts.Handlers.Dismiss != nil {
		s.opts.Handlers.Dismiss()
	}
	return true
}

// Wait blocks until the session finishes or ctx is done.
func (s *Session) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.outcome, s.err
	case <-ctx.Done():
		return OutcomePending, ctx.Err()
	}
}

// Done is closed when the session finishes.
func (s *Session) Done() <-chan struct{} { return s.done }

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// Outcome returns how the session ended, or OutcomePending.
func (s *Session) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcome
}

// View returns a snapshot of the view state.
func (s *Session) View() ViewState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view.clone()
}

// Result returns the session's scan result once it has been settled, after
// column resolution if one was needed.
func (s *Session) Result() (recognition.ScanResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return recognition.ScanResult{}, false
	}
	return *s.result, true
}

// PendingColumns returns the candidate columns while the session waits for a
// column decision.
func (s *Session) PendingColumns() []recognition.Column {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseAwaitingColumnResolution || s.pending == nil {
		return nil
	}
	return append([]recognition.Column(nil), s.pending.Columns...)
}

// Crops returns the cropped entries produced so far.
func (s *Session) Crops() []crop.Entry { return s.crops.Entries() }

func (s *Session) run(ctx context.Context, src Source) {
	defer close(s.done)
	start := time.Now()

	outcome, err := s.execute(ctx, src)
	if outcome == OutcomePending {
		s.cancel()
		return
	}
	// Record the outcome first so a racing Cancel sees a finished session.
	outcome, err, ok := s.record(outcome, err)
	if !ok {
		return
	}
	switch outcome {
	case OutcomeAborted:
		s.logger.Error("scan session aborted", "phase", s.Phase().String(), "error", err)
	case OutcomeCancelled:
		s.logger.Debug("scan session stopped", "phase", s.Phase().String(), "duration_ms", time.Since(start).Milliseconds())
	}
	s.publish(outcome, err)
}

// execute runs the phases in order. It returns OutcomePending after a
// successful completion, which deliverResult has already recorded.
func (s *Session) execute(ctx context.Context, src Source) (Outcome, error) {
	img := src.Image
	imageSize := geometry.SizeOf(img.Bounds())

	// zooming
	s.enter(PhaseZooming)
	screenFill := src.ScreenFill
	if src.IsCamera && screenFill.IsEmpty() {
		screenFill = s.opts.Mapper.ScreenFillBox(imageSize)
	}
	zoom := s.opts.Mapper.ZoomBox(imageSize, screenFill, src.IsCamera)
	s.update(func(v *ViewState) { v.ZoomBox = &zoom })
	s.emit(Event{Kind: EventZoom, Zoom: &zoom})
	if err := sleep(ctx, s.opts.Pacing.ZoomSettle); err != nil {
		return s.stopped(err)
	}
	s.haptic(HapticSelection)

	// detecting text
	s.enter(PhaseDetectingText)
	if src.IsCamera {
		s.update(func(v *ViewState) { v.HideCamera = true })
	} else if err := sleep(ctx, s.opts.Pacing.SlideUpSettle); err != nil {
		return s.stopped(err)
	}

	detectStart := time.Now()
	set, err := s.opts.Gateway.DetectText(ctx, img, s.opts.Mode, s.opts.IncludeBarcodes)
	if ctx.Err() != nil {
		return s.stopped(ctx.Err())
	}
	if err != nil {
		return OutcomeAborted, fmt.Errorf("%w: %w", ErrRecognition, err)
	}
	if set == nil {
		set = &recognition.TextSet{}
	}
	s.logger.Debug("text detected", "texts", len(set.Texts), "barcodes", len(set.Barcodes),
		"duration_ms", time.Since(detectStart).Milliseconds())

	boxes := set.TextBoxes()
	s.haptic(HapticSelection)
	s.update(func(v *ViewState) {
		v.TextBoxes = boxes
		v.ShowingBoxes = true
	})
	if err := sleep(ctx, s.opts.Pacing.RevealDelay); err != nil {
		return s.stopped(err)
	}
	shimmerOn := time.Now()
	s.update(func(v *ViewState) { v.Shimmering = true })

	result := set.ScanResult()
	if err := sleep(ctx, s.opts.Pacing.MinShimmer-time.Since(shimmerOn)); err != nil {
		return s.stopped(err)
	}
	s.update(func(v *ViewState) { v.BlackBackground = false })

	// column gate
	if result.IsAmbiguous() {
		resolved, err := s.awaitColumns(ctx, result)
		if err != nil {
			return s.stopped(err)
		}
		result = resolved
	}
	s.mu.Lock()
	s.result = &result
	s.mu.Unlock()

	// cropping
	s.enter(PhaseCropping)
	err = crop.ExtractAll(ctx, s.opts.Extractor, img, result.TextBoxes, s.crops, crop.ExtractConfig{
		MaxWorkers: s.opts.CropWorkers,
		IsCamera:   src.IsCamera,
		OnFailure: func(box recognition.TextBox) {
			s.metrics.CropFailed()
			s.logger.Warn("could not crop text box", "box_id", box.ID.String(), "box", box.BoundingBox.String())
		},
	})
	if err != nil {
		return s.stopped(err)
	}
	for _, e := range s.crops.Entries() {
		s.emit(Event{Kind: EventCrop, Crop: &e})
	}
	s.haptic(HapticSelection)
	s.update(func(v *ViewState) {
		v.ShowingCroppedImages = true
		v.TextBoxes = nil
		v.ScannedTextBoxes = result.TextBoxes
	})
	if err := sleep(ctx, s.opts.Pacing.CropReveal); err != nil {
		return s.stopped(err)
	}
	s.haptic(HapticSoft)
	s.update(func(v *ViewState) { v.StackedOnTop = true })
	if err := sleep(ctx, s.opts.Pacing.StackDelay); err != nil {
		return s.stopped(err)
	}

	// collapsing
	s.enter(PhaseCollapsing)
	s.update(func(v *ViewState) { v.CollapsingCutouts = true })
	if !s.deliver(ctx, func() {
		if s.opts.Handlers.Image != nil {
			s.opts.Handlers.Image(img, result)
		}
	}) {
		return s.stopped(ctx.Err())
	}
	if err := sleep(ctx, s.opts.Pacing.CollapseDelay); err != nil {
		return s.stopped(err)
	}
	s.update(func(v *ViewState) { v.CollapsingCroppedImgs = true })
	if err := sleep(ctx, s.opts.Pacing.FinalizeDelay); err != nil {
		return s.stopped(err)
	}
	if !s.deliverResult(ctx, result) {
		return s.stopped(ctx.Err())
	}
	return OutcomePending, nil
}

func (s *Session) awaitColumns(ctx context.Context, result recognition.ScanResult) (recognition.ScanResult, error) {
	s.mu.Lock()
	s.pending = &result
	s.mu.Unlock()

	s.enter(PhaseAwaitingColumnResolution)
	s.update(func(v *ViewState) {
		v.ShowingColumnPicker = true
		v.Columns = result.Columns
	})
	s.emit(Event{Kind: EventColumnsRequired, Columns: result.Columns})
	s.logger.Info("waiting for column resolution", "columns", result.ColumnCount)

	select {
	case <-ctx.Done():
		return recognition.ScanResult{}, ctx.Err()
	case resolved := <-s.resolveCh:
		s.mu.Lock()
		s.pending = nil
		s.mu.Unlock()
		s.update(func(v *ViewState) { v.ShowingColumnPicker = false })
		s.logger.Info("columns resolved", "column", resolved.SelectedColumn)
		return resolved, nil
	}
}

// deliver runs fn unless the session has been cancelled. Cancel cannot
// complete while fn runs.
func (s *Session) deliver(ctx context.Context, fn func()) bool {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	fn()
	return true
}

// deliverResult runs the ScanResult handler and records completion under the
// handler lock, so a concurrent Cancel either prevents it or becomes a no-op.
func (s *Session) deliverResult(ctx context.Context, result recognition.ScanResult) bool {
	s.update(func(v *ViewState) { v.ClearSelectedImage = true })

	s.handlerMu.Lock()
	if ctx.Err() != nil {
		s.handlerMu.Unlock()
		return false
	}
	if s.opts.Handlers.ScanResult != nil {
		s.opts.Handlers.ScanResult(result)
	}
	s.mu.Lock()
	s.outcome = OutcomeCompleted
	s.mu.Unlock()
	s.handlerMu.Unlock()

	s.enter(PhaseDone)
	s.metrics.SessionFinished(OutcomeCompleted)
	s.emit(Event{Kind: EventFinished, Outcome: OutcomeCompleted})
	s.logger.Info("scan session completed",
		"columns", result.ColumnCount,
		"selected_column", result.SelectedColumn,
		"line_items", len(result.LineItems),
		"crops", s.crops.Len())
	return true
}

// stopped maps a context error to a cancelled outcome.
func (s *Session) stopped(err error) (Outcome, error) {
	s.mu.Lock()
	cancelled := s.cancelled
	s.mu.Unlock()
	if cancelled || errors.Is(err, context.Canceled) {
		return OutcomeCancelled, nil
	}
	// the parent context expired without an explicit Cancel
	return OutcomeAborted, err
}

func (s *Session) finish(outcome Outcome, err error) {
	if outcome, err, ok := s.record(outcome, err); ok {
		s.publish(outcome, err)
	}
}

// record stores the terminal outcome once. An abort that loses the race
// against Cancel is recorded as a cancellation, since Dismiss already ran.
func (s *Session) record(outcome Outcome, err error) (Outcome, error, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome != OutcomePending {
		return s.outcome, s.err, false
	}
	if outcome == OutcomeAborted && s.cancelled {
		outcome, err = OutcomeCancelled, nil
	}
	s.outcome = outcome
	s.err = err
	return outcome, err, true
}

// publish stops remaining work and reports a recorded outcome.
func (s *Session) publish(outcome Outcome, err error) {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.metrics.SessionFinished(outcome)
	ev := Event{Kind: EventFinished, Outcome: outcome}
	if err != nil {
		ev.Error = err.Error()
	}
	s.emit(ev)
}

func (s *Session) enter(p Phase) {
	s.mu.Lock()
	prev := s.phase
	if p <= prev {
		s.mu.Unlock()
		panic(fmt.Sprintf("session: phase %s after %s", p, prev))
	}
	now := time.Now()
	elapsed := now.Sub(s.phaseStart)
	s.phase = p
	s.phaseStart = now
	s.mu.Unlock()

	if prev != PhaseIdle {
		s.metrics.ObservePhase(prev, elapsed)
	}
	s.logger.Debug("phase changed", "from", prev.String(), "to", p.String())
	s.emit(Event{Kind: EventPhase})
}

func (s *Session) update(fn func(*ViewState)) {
	s.mu.Lock()
	fn(&s.view)
	view := s.view.clone()
	s.mu.Unlock()
	s.emit(Event{Kind: EventView, View: &view})
}

func (s *Session) haptic(h Haptic) {
	s.emit(Event{Kind: EventHaptic, Haptic: h})
}

func (s *Session) emit(e Event) {
	if s.opts.Events == nil {
		return
	}
	e.SessionID = s.id
	e.Phase = s.Phase()
	s.opts.Events.Emit(e)
}
