// Package registry tracks which machines exist, when they were last heard
// from and their static hardware profile.
//
// The registry never judges whether a machine is online. A machine that
// stops reporting keeps an increasingly stale last-contact time; callers
// derive liveness from it.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/xtxerr/rigwatch/internal/errors"
	"github.com/xtxerr/rigwatch/internal/logging"
	"github.com/xtxerr/rigwatch/internal/metrics"
	"github.com/xtxerr/rigwatch/internal/storage/types"
	"github.com/xtxerr/rigwatch/internal/store"
	"github.com/xtxerr/rigwatch/internal/validation"
)

var log = logging.Component("registry")

// MaxIDLength bounds machine identifiers.
const MaxIDLength = validation.MaxMachineIDLength

// Store is the subset of the store the registry needs.
type Store interface {
	UpsertMachine(ctx context.Context, m *types.Machine) (store.UpsertResult, error)
	GetMachine(ctx context.Context, id string) (*types.Machine, error)
	ListMachines(ctx context.Context) ([]types.Machine, error)
	ListActiveMachines(ctx context.Context) ([]types.Machine, error)
	SetMachineActive(ctx context.Context, id string, active bool) error
}

// Registration is one identity update for a machine.
type Registration struct {
	MachineID   string          `json:"machine_id"`
	Hostname    string          `json:"hostname,omitempty"`
	DisplayName string          `json:"display_name,omitempty"`
	Address     string          `json:"address,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`

	// ContactMs is the contact time; zero means now.
	ContactMs int64 `json:"contact_ms,omitempty"`
}

// Result reports what a registration changed.
type Result struct {
	Created         bool   `json:"created"`
	MetadataChanged bool   `json:"metadata_changed"`
	Fingerprint     uint64 `json:"fingerprint,omitempty"`
}

// Registry upserts machine rows.
type Registry struct {
	store   Store
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a registry on top of store.
func New(store Store, m *metrics.Metrics) *Registry {
	return &Registry{
		store:   store,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the time source used for registrations without a
// contact time.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// =============================================================================
// Registration
// =============================================================================

// Validate checks the identity fields and the metadata payload.
func (reg *Registration) Validate() error {
	errs := errors.NewValidationErrors()

	if reg.MachineID == "" {
		errs.AddMissing("machine_id")
	} else if err := validation.MachineID(reg.MachineID); err != nil {
		errs.Add(errors.NewInvalidValue("machine_id", reg.MachineID, err.Error()))
	}

	for _, f := range []struct{ name, value string }{
		{"hostname", reg.Hostname},
		{"display_name", reg.DisplayName},
		{"address", reg.Address},
	} {
		if err := validation.Label(f.value); err != nil {
			errs.Add(errors.NewInvalidValue(f.name, f.value, err.Error()))
		}
	}

	if len(reg.Metadata) > 0 && !json.Valid(reg.Metadata) {
		errs.Add(errors.NewInvalidValue("metadata", "<payload>", "not valid JSON"))
	}

	if reg.ContactMs < 0 {
		errs.Add(errors.NewInvalidValue("contact_ms", reg.ContactMs, "must not be negative"))
	}

	return errs.Err()
}

// Register creates the machine or updates its identity. Metadata is only
// replaced when a non-empty payload is supplied.
func (r *Registry) Register(ctx context.Context, reg Registration) (Result, error) {
	if err := reg.Validate(); err != nil {
		return Result{}, err
	}

	m := &types.Machine{
		ID:            reg.MachineID,
		Hostname:      reg.Hostname,
		DisplayName:   reg.DisplayName,
		Address:       reg.Address,
		LastContactMs: reg.ContactMs,
	}
	if m.LastContactMs == 0 {
		m.LastContactMs = r.now().UnixMilli()
	}

	if meta := normalizeMetadata(reg.Metadata); meta != nil {
		m.Metadata = meta
		m.MetadataHash = Fingerprint(meta)
	}

	res, err := r.store.UpsertMachine(ctx, m)
	if err != nil {
		return Result{}, err
	}

	if res.Created {
		log.Info("machine registered", "machine", m.ID, "hostname", m.Hostname)
	}
	if res.MetadataChanged {
		r.metrics.IncMetadataChange()
		if !res.Created {
			log.Info("machine metadata changed", "machine", m.ID, "fingerprint", m.MetadataHash)
		}
	}

	return Result{
		Created:         res.Created,
		MetadataChanged: res.MetadataChanged,
		Fingerprint:     m.MetadataHash,
	}, nil
}

// normalizeMetadata compacts a payload so formatting differences do not
// change the fingerprint. Empty payloads and JSON null mean "not supplied".
func normalizeMetadata(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return json.RawMessage(trimmed)
	}
	return json.RawMessage(buf.Bytes())
}

// Fingerprint returns the xxhash64 of a metadata payload.
func Fingerprint(metadata []byte) uint64 {
	return xxhash.Sum64(metadata)
}

// =============================================================================
// Lookup and Administration
// =============================================================================

// Get returns one machine.
func (r *Registry) Get(ctx context.Context, id string) (*types.Machine, error) {
	return r.store.GetMachine(ctx, id)
}

// List returns every machine, most recently contacted first.
func (r *Registry) List(ctx context.Context) ([]types.Machine, error) {
	return r.store.ListMachines(ctx)
}

// ListActive returns active machines, most recently contacted first.
func (r *Registry) ListActive(ctx context.Context) ([]types.Machine, error) {
	return r.store.ListActiveMachines(ctx)
}

// SetActive deactivates or reactivates a machine.
func (r *Registry) SetActive(ctx context.Context, id string, active bool) error {
	if err := r.store.SetMachineActive(ctx, id, active); err != nil {
		return err
	}
	log.Info("machine active flag changed", "machine", id, "active", active)
	return nil
}
