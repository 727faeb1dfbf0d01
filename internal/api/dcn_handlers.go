package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/serveroute/serveroute/internal/dcn"
	"github.com/serveroute/serveroute/internal/model"
)

func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	data, err := dcn.Template()
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+dcn.TemplateFilename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFrom(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		if isTooLarge(err) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "upload too large"})
			return
		}
		badRequest(w, "multipart field \"file\" is required")
		return
	}
	defer file.Close() //nolint:errcheck

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, err)
		return
	}

	batch, err := s.processor.Process(r.Context(), sess, header.Filename, content)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFrom(r.Context())
	batches, err := s.processor.Batches(r.Context(), sess, queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if batches == nil {
		batches = []model.DCNUploadBatch{}
	}
	writeJSON(w, http.StatusOK, batches)
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFrom(r.Context())
	batch, err := s.processor.Batch(r.Context(), sess, chi.URLParam(r, "batchID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFrom(r.Context())

	var statuses []model.MatchStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				statuses = append(statuses, model.MatchStatus(part))
			}
		}
	}

	recs, err := s.reviewer.Queue(r.Context(), sess, statuses, queryInt(r, "limit", 0), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []model.DCNRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFrom(r.Context())

	var req struct {
		AddressID string `json:"address_id"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			badRequest(w, "invalid request body")
			return
		}
	}

	rec, err := s.reviewer.Confirm(r.Context(), sess, chi.URLParam(r, "recordID"), req.AddressID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFrom(r.Context())
	rec, err := s.reviewer.Reject(r.Context(), sess, chi.URLParam(r, "recordID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFrom(r.Context())
	entries, err := s.reviewer.Audit(r.Context(), sess, chi.URLParam(r, "recordID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []model.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	sess, _ := SessionFrom(r.Context())
	hits, err := s.reviewer.Search(r.Context(), sess, r.URL.Query().Get("q"), queryInt(r, "limit", 0))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if hits == nil {
		hits = []model.Address{}
	}
	writeJSON(w, http.StatusOK, hits)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func isTooLarge(err error) bool {
	var merr *http.MaxBytesError
	return errors.As(err, &merr)
}
