package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"strconv"
	"time"

	"github.com/MeKo-Tech/labelscan/internal/crop"
	"github.com/MeKo-Tech/labelscan/internal/geometry"
	"github.com/MeKo-Tech/labelscan/internal/imagesource"
	"github.com/MeKo-Tech/labelscan/internal/recognition"
	"github.com/MeKo-Tech/labelscan/internal/session"
	"github.com/MeKo-Tech/labelscan/internal/version"
)

// scanRequest is a parsed POST /scan request.
type scanRequest struct {
	Image      image.Image
	IsCamera   bool
	Column     int
	Display    geometry.Size
	IncludePNG bool
}

// scanRun is the outcome of a non-interactive session.
type scanRun struct {
	SessionID string
	Outcome   session.Outcome
	Err       error
	Result    recognition.ScanResult
	Crops     []crop.Entry
	// Columns is set when the label needed a column decision that the
	// request did not supply.
	Columns    []recognition.Column
	ResolveErr error
}

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	v, _, _ := version.Info()
	response := HealthResponse{
		Status:  "healthy",
		Version: v,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}

	s.writeJSON(w, http.StatusOK, response)
}

// scanHandler runs a complete, unpaced scan session over an uploaded image.
func (s *Server) scanHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, status, err := s.parseScanRequest(w, r)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), status)
		return
	}

	if s.gateway == nil {
		s.writeErrorResponse(w, "Recognition gateway not initialized", http.StatusServiceUnavailable)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(s.timeoutSec)*time.Second)
	defer cancel()

	start := time.Now()
	run, err := s.runScan(ctx, req)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	response := ScanResponse{SessionID: run.SessionID, DurationMs: elapsed}
	switch {
	case run.ResolveErr != nil:
		response.Error = fmt.Sprintf("invalid column: %v", run.ResolveErr)
		s.writeJSON(w, http.StatusBadRequest, response)
	case run.Columns != nil:
		response.Error = "label has several value columns; repeat the request with a column field"
		response.ColumnCount = len(run.Columns)
		response.Columns = run.Columns
		s.writeJSON(w, http.StatusConflict, response)
	case run.Outcome == session.OutcomeCompleted:
		response.Success = true
		response.Result = &run.Result
		response.Crops = cropInfos(run.Crops, req.IncludePNG)
		s.writeJSON(w, http.StatusOK, response)
	case errors.Is(run.Err, context.DeadlineExceeded):
		response.Error = "scan timed out"
		s.writeJSON(w, http.StatusGatewayTimeout, response)
	case run.Outcome == session.OutcomeAborted:
		response.Error = fmt.Sprintf("scan failed: %v", run.Err)
		s.writeJSON(w, http.StatusInternalServerError, response)
	default:
		// the client went away
		response.Error = "scan cancelled"
		s.writeJSON(w, http.StatusServiceUnavailable, response)
	}
}

// parseScanRequest reads the multipart form of POST /scan.
func (s *Server) parseScanRequest(w http.ResponseWriter, r *http.Request) (scanRequest, int, error) {
	limit := s.maxUploadMB * 1024 * 1024
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(limit); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return scanRequest{}, http.StatusRequestEntityTooLarge, errors.New("file too large")
		}
		return scanRequest{}, http.StatusBadRequest, errors.New("failed to parse form data")
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		return scanRequest{}, http.StatusBadRequest, errors.New("no image file provided")
	}
	defer func() { _ = file.Close() }()
	uploadSizeBytes.Observe(float64(header.Size))

	page := 0
	if v := r.FormValue("page"); v != "" {
		page, err = strconv.Atoi(v)
		if err != nil || page < 1 {
			return scanRequest{}, http.StatusBadRequest, fmt.Errorf("invalid page: %q", v)
		}
	}

	img, _, err := imagesource.Decode(file, imagesource.Options{Page: page, MaxBytes: limit})
	if err != nil {
		return scanRequest{}, http.StatusBadRequest, fmt.Errorf("invalid image: %w", err)
	}

	req := scanRequest{Image: img, Display: s.display}

	if v := r.FormValue("camera"); v != "" {
		req.IsCamera, err = strconv.ParseBool(v)
		if err != nil {
			return scanRequest{}, http.StatusBadRequest, fmt.Errorf("invalid camera flag: %q", v)
		}
	}
	if v := r.FormValue("column"); v != "" {
		req.Column, err = strconv.Atoi(v)
		if err != nil || req.Column < 1 {
			return scanRequest{}, http.StatusBadRequest, fmt.Errorf("invalid column: %q", v)
		}
	}
	if dw, dh := r.FormValue("display_width"), r.FormValue("display_height"); dw != "" || dh != "" {
		width, errW := strconv.ParseFloat(dw, 64)
		height, errH := strconv.ParseFloat(dh, 64)
		if errW != nil || errH != nil || width <= 0 || height <= 0 {
			return scanRequest{}, http.StatusBadRequest, fmt.Errorf("invalid display size: %q x %q", dw, dh)
		}
		req.Display = geometry.Size{Width: width, Height: height}
	}
	req.IncludePNG = r.FormValue("crops") == "png"

	return req, http.StatusOK, nil
}

// runScan runs one session to the end without pacing. A column decision, when
// needed, comes from the request; without one the session is cancelled and
// the candidate columns are reported.
func (s *Server) runScan(ctx context.Context, req scanRequest) (scanRun, error) {
	var (
		sess *session.Session
		run  scanRun
	)
	events := session.EventFunc(func(e session.Event) {
		if e.Kind != session.EventColumnsRequired {
			return
		}
		if req.Column == 0 {
			run.Columns = append([]recognition.Column{}, e.Columns...)
			sess.Cancel()
			return
		}
		if err := sess.Resolve(session.ColumnDecision{Column: req.Column}); err != nil {
			run.ResolveErr = err
			sess.Cancel()
		}
	})

	sess = session.New(s.sessionOptions(req.Display, session.NoPacing(), events))
	if err := sess.Begin(ctx, session.Source{Image: req.Image, IsCamera: req.IsCamera}); err != nil {
		return scanRun{}, err
	}

	// Wait on Done rather than ctx: the session stops itself when ctx ends.
	<-sess.Done()
	outcome, err := sess.Wait(context.Background())

	run.SessionID = sess.ID().String()
	run.Outcome = outcome
	run.Err = err
	if result, ok := sess.Result(); ok {
		run.Result = result
	}
	run.Crops = sess.Crops()
	return run, nil
}

func cropInfos(entries []crop.Entry, includePNG bool) []CropInfo {
	infos := make([]CropInfo, 0, len(entries))
	for _, e := range entries {
		info := CropInfo{BoxID: e.BoxID, Rect: e.Rect, Rotation: e.Rotation}
		if e.Image != nil {
			b := e.Image.Bounds()
			info.Width, info.Height = b.Dx(), b.Dy()
			if includePNG {
				var buf bytes.Buffer
				if err := png.Encode(&buf, e.Image); err == nil {
					info.PNG = buf.Bytes()
				}
			}
		}
		infos = append(infos, info)
	}
	return infos
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", "error", err)
	}
}

// writeErrorResponse writes an error response in JSON format.
func (s *Server) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, ScanResponse{Success: false, Error: message})
}
