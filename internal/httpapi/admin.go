package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/xtxerr/rigwatch/internal/errors"
	"github.com/xtxerr/rigwatch/internal/storage"
	"github.com/xtxerr/rigwatch/internal/storage/export"
	"github.com/xtxerr/rigwatch/internal/storage/types"
)

// =============================================================================
// Retention
// =============================================================================

func (h *Handler) handleGetRetention(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.backend.Retention(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

// handleSetRetention replaces all three windows. Omitted keys keep their
// current value.
func (h *Handler) handleSetRetention(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.backend.Retention(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}

	if err := h.decode(w, r, &cfg); err != nil {
		respondError(w, err)
		return
	}

	cfg, err = h.backend.SetRetention(r.Context(), cfg)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, cfg)
}

// =============================================================================
// Statistics
// =============================================================================

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.backend.Stats(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

// =============================================================================
// Maintenance
// =============================================================================

// handleCleanup deletes rows of one resolution older than a given age.
func (h *Handler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var req CleanupRequest
	if err := h.decode(w, r, &req); err != nil {
		respondError(w, err)
		return
	}

	errs := errors.NewValidationErrors()

	tier, err := types.ParseTier(req.Resolution)
	if err != nil {
		errs.Add(fmt.Errorf("resolution %q: %w", req.Resolution, errors.ErrInvalidResolution))
	}

	var age time.Duration
	if req.OlderThan == "" {
		errs.AddMissing("older_than")
	} else if age, err = ParseAge(req.OlderThan); err != nil {
		errs.Add(errors.NewInvalidValue("older_than", req.OlderThan, err.Error()))
	}

	if err := errs.Err(); err != nil {
		respondError(w, err)
		return
	}

	res, err := h.backend.Cleanup(r.Context(), storage.CleanupRequest{
		Tier:      tier,
		OlderThan: age,
		MachineID: req.MachineID,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// handleReaggregate recomputes summaries over a range. Without a
// resolution hourly is recomputed first and daily after it.
func (h *Handler) handleReaggregate(w http.ResponseWriter, r *http.Request) {
	var req ReaggregateRequest
	if err := h.decode(w, r, &req); err != nil {
		respondError(w, err)
		return
	}

	errs := errors.NewValidationErrors()
	start := timeField(req.Start, "start", errs)
	end := timeField(req.End, "end", errs)
	if err := errs.Err(); err != nil {
		respondError(w, err)
		return
	}

	results, err := h.backend.Reaggregate(r.Context(), req.MachineID, start, end, req.Resolution)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, results)
}

// timeField parses a required JSON time, recording problems in errs.
func timeField(raw json.RawMessage, name string, errs *errors.ValidationErrors) time.Time {
	if len(raw) == 0 || string(raw) == "null" {
		errs.AddMissing(name)
		return time.Time{}
	}
	ms, err := parseTimeJSON(raw)
	if err != nil {
		errs.Add(errors.NewInvalidValue(name, string(raw), err.Error()))
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func (h *Handler) handleFlush(w http.ResponseWriter, r *http.Request) {
	n, err := h.backend.Flush(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, FlushResponse{Flushed: n})
}

// =============================================================================
// Export
// =============================================================================

// handleExport streams GET /v1/admin/export?machine=&resolution=&start=&end=
// as a Parquet file. Errors after the first byte cannot change the status,
// so they only cut the stream short.
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	errs := errors.NewValidationErrors()
	tier, err := types.ParseTier(q.Get("resolution"))
	if err != nil {
		errs.Add(fmt.Errorf("resolution %q: %w", q.Get("resolution"), errors.ErrInvalidResolution))
	}
	start := timeParam(q.Get("start"), "start", errs)
	end := timeParam(q.Get("end"), "end", errs)
	if err := errs.Err(); err != nil {
		respondError(w, err)
		return
	}

	req := export.Request{
		MachineID: q.Get("machine"),
		Tier:      tier,
		StartMs:   start.UnixMilli(),
		EndMs:     end.UnixMilli(),
	}
	if err := req.Validate(); err != nil {
		respondError(w, err)
		return
	}

	// The stream may outlive the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	cw := &countingWriter{w: w}
	w.Header().Set("Content-Type", "application/vnd.apache.parquet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", req.Filename()))

	rows, err := h.backend.Export(r.Context(), cw, req)
	if err != nil {
		if cw.n == 0 {
			w.Header().Del("Content-Disposition")
			respondError(w, err)
			return
		}
		log.Error("export aborted", "rows", rows, "bytes", cw.n, "error", err)
		return
	}
}

type countingWriter struct {
	w http.ResponseWriter
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
