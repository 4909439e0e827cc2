package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/xtxerr/rigwatch/internal/constants"
	"github.com/xtxerr/rigwatch/internal/errors"
	"github.com/xtxerr/rigwatch/internal/registry"
	"github.com/xtxerr/rigwatch/internal/storage"
	"github.com/xtxerr/rigwatch/internal/storage/query"
	"github.com/xtxerr/rigwatch/internal/storage/types"
)

// =============================================================================
// Ingestion
// =============================================================================

// handleIngest accepts one machine's batch. The batch is validated as a
// whole; a sync batch is written in one transaction or not at all.
func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := h.decode(w, r, &req); err != nil {
		respondError(w, err)
		return
	}

	if req.Address == "" {
		req.Address = remoteHost(r)
	}

	res, err := h.backend.Ingest(r.Context(), storage.Batch{
		MachineID:   req.MachineID,
		Hostname:    req.Hostname,
		DisplayName: req.DisplayName,
		Address:     req.Address,
		Metadata:    req.Metadata,
		Samples:     req.samples(),
		Sync:        req.Sync,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, res)
}

// =============================================================================
// Machines
// =============================================================================

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := h.decode(w, r, &req); err != nil {
		respondError(w, err)
		return
	}

	if req.Address == "" {
		req.Address = remoteHost(r)
	}

	res, err := h.backend.Registry().Register(r.Context(), registry.Registration{
		MachineID:   req.MachineID,
		Hostname:    req.Hostname,
		DisplayName: req.DisplayName,
		Address:     req.Address,
		Metadata:    req.Metadata,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	resp := RegisterResponse{Created: res.Created, MetadataChanged: res.MetadataChanged}
	if res.Fingerprint != 0 {
		resp.Fingerprint = formatFingerprint(res.Fingerprint)
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	respondJSON(w, status, resp)
}

// handleListMachines lists the registry. ?active=true restricts the list
// to active machines, most recently contacted first.
func (h *Handler) handleListMachines(w http.ResponseWriter, r *http.Request) {
	activeOnly := false
	if v := r.URL.Query().Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, errors.NewInvalidValue("active", v, "must be a boolean"))
			return
		}
		activeOnly = b
	}

	var (
		machines []types.Machine
		err      error
	)
	if activeOnly {
		machines, err = h.backend.Registry().ListActive(r.Context())
	} else {
		machines, err = h.backend.Registry().List(r.Context())
	}
	if err != nil {
		respondError(w, err)
		return
	}

	now := h.opts.Now()
	views := make([]MachineView, len(machines))
	for i := range machines {
		views[i] = machineView(&machines[i], now)
	}
	respondJSON(w, http.StatusOK, views)
}

func (h *Handler) handleGetMachine(w http.ResponseWriter, r *http.Request) {
	m, err := h.backend.Registry().Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, machineView(m, h.opts.Now()))
}

func (h *Handler) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req ActiveRequest
	if err := h.decode(w, r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.Active == nil {
		respondError(w, errors.NewMissingField("active"))
		return
	}

	id := mux.Vars(r)["id"]
	if err := h.backend.Registry().SetActive(r.Context(), id, *req.Active); err != nil {
		respondError(w, err)
		return
	}

	m, err := h.backend.Registry().Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, machineView(m, h.opts.Now()))
}

// =============================================================================
// Query
// =============================================================================

// handleQuery serves GET /v1/query?machine=&start=&end=&resolution=.
func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := query.Request{
		MachineID:  q.Get("machine"),
		Resolution: q.Get("resolution"),
	}

	errs := errors.NewValidationErrors()
	req.Start = timeParam(q.Get("start"), "start", errs)
	req.End = timeParam(q.Get("end"), "end", errs)
	if err := errs.Err(); err != nil {
		respondError(w, err)
		return
	}

	res, err := h.backend.Query(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// timeParam parses a required time parameter, recording problems in errs.
func timeParam(raw, name string, errs *errors.ValidationErrors) time.Time {
	if raw == "" {
		errs.AddMissing(name)
		return time.Time{}
	}
	t, err := ParseTime(raw)
	if err != nil {
		errs.Add(errors.NewInvalidValue(name, raw, err.Error()))
	}
	return t
}

// =============================================================================
// Health
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := h.backend.Health(r.Context())

	status := http.StatusOK
	if health.Status == constants.HealthDown {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, health)
}
