package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/serveroute/serveroute/internal/attempt"
	"github.com/serveroute/serveroute/internal/model"
)

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFrom(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		if isTooLarge(err) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "upload too large"})
			return
		}
		badRequest(w, "expected a multipart form")
		return
	}

	in := attempt.CaptureInput{
		AddressID: chi.URLParam(r, "addressID"),
		PhotoURL:  r.FormValue("photo_url"),
		Notes:     r.FormValue("notes"),
	}

	if file, header, err := r.FormFile("photo"); err == nil {
		data, err := io.ReadAll(file)
		_ = file.Close()
		if err != nil {
			writeError(w, r, err)
			return
		}
		in.Photo = data
		in.PhotoContentType = header.Header.Get("Content-Type")
	}

	lat, latErr := strconv.ParseFloat(r.FormValue("latitude"), 64)
	lng, lngErr := strconv.ParseFloat(r.FormValue("longitude"), 64)
	if latErr == nil && lngErr == nil {
		in.Locator = attempt.Fixed(lat, lng)
	}

	res, err := s.attempts.Capture(r.Context(), sess, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

type finalizeRequest struct {
	Outcome model.Outcome `json:"outcome"`
	Notes   string        `json:"notes"`
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFrom(r.Context())

	var req finalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		badRequest(w, "invalid request body")
		return
	}

	a, err := s.attempts.Finalize(r.Context(), sess, attempt.FinalizeInput{
		AddressID: chi.URLParam(r, "addressID"),
		Outcome:   req.Outcome,
		Notes:     req.Notes,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type manualRequest struct {
	WorkerID    string        `json:"worker_id"`
	AttemptTime time.Time     `json:"attempt_time"`
	Outcome     model.Outcome `json:"outcome"`
	Notes       string        `json:"notes"`
	PhotoURLs   []string      `json:"photo_urls"`
}

func (s *Server) handleManual(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFrom(r.Context())

	var req manualRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	a, err := s.attempts.ManualAttempt(r.Context(), sess, attempt.ManualInput{
		AddressID:   chi.URLParam(r, "addressID"),
		WorkerID:    req.WorkerID,
		AttemptTime: req.AttemptTime,
		Outcome:     req.Outcome,
		Notes:       req.Notes,
		PhotoURLs:   req.PhotoURLs,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFrom(r.Context())
	out, err := s.attempts.Attempts(r.Context(), sess, chi.URLParam(r, "addressID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if out == nil {
		out = []model.Attempt{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleQualifiers(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFrom(r.Context())
	st, err := s.attempts.NeededQualifiers(r.Context(), sess, chi.URLParam(r, "addressID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	at := time.Now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(w, "at must be an RFC3339 timestamp")
			return
		}
		at = t
	}
	writeJSON(w, http.StatusOK, s.attempts.Classifier().Classify(at))
}
