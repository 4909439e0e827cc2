package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xtxerr/rigwatch/internal/constants"
	"github.com/xtxerr/rigwatch/internal/errors"
	"github.com/xtxerr/rigwatch/internal/storage/types"
)

// =============================================================================
// Samples
// =============================================================================

// WireSample is the JSON form of a sample: a timestamp plus one key per
// catalogue field. A missing key and an explicit null both mean "not
// reported".
//
//	{"timestamp": 1718000000000, "cpu_load": 12.5, "gpu_util": null}
type WireSample struct {
	types.Sample
}

// UnmarshalJSON decodes a sample. Unknown keys are rejected so a typo in a
// field name is not silently dropped as null.
func (w *WireSample) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var s types.Sample
	for key, value := range raw {
		switch key {
		case "machine_id":
			if err := json.Unmarshal(value, &s.MachineID); err != nil {
				return fmt.Errorf("machine_id: %w", err)
			}
		case "timestamp", "ts":
			ms, err := parseTimeJSON(value)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			s.TimestampMs = ms
		default:
			f, ok := types.ParseField(key)
			if !ok {
				return errors.NewInvalidValue(key, "", "unknown sample field, known: "+fieldNames())
			}
			var v *float64
			if err := json.Unmarshal(value, &v); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			if v != nil {
				s.Set(f, *v)
			}
		}
	}

	w.Sample = s
	return nil
}

// MarshalJSON encodes the reported fields only.
func (w WireSample) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, types.NumFields+2)
	if w.MachineID != "" {
		out["machine_id"] = w.MachineID
	}
	out["timestamp"] = w.TimestampMs
	for _, f := range types.AllFields() {
		if v := w.Get(f); v != nil {
			out[f.String()] = *v
		}
	}
	return json.Marshal(out)
}

// IngestRequest is the body of POST /v1/ingest.
type IngestRequest struct {
	MachineID   string          `json:"machine_id"`
	Hostname    string          `json:"hostname,omitempty"`
	DisplayName string          `json:"display_name,omitempty"`
	Address     string          `json:"address,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Samples     []WireSample    `json:"samples"`
	Sync        bool            `json:"sync,omitempty"`
}

func (r *IngestRequest) samples() []types.Sample {
	out := make([]types.Sample, len(r.Samples))
	for i := range r.Samples {
		out[i] = r.Samples[i].Sample
	}
	return out
}

// RegisterRequest is the body of POST /v1/machines.
type RegisterRequest struct {
	MachineID   string          `json:"machine_id"`
	Hostname    string          `json:"hostname,omitempty"`
	DisplayName string          `json:"display_name,omitempty"`
	Address     string          `json:"address,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// RegisterResponse answers POST /v1/machines.
type RegisterResponse struct {
	Created         bool   `json:"created"`
	MetadataChanged bool   `json:"metadata_changed"`
	Fingerprint     string `json:"fingerprint,omitempty"`
}

// ActiveRequest is the body of PUT /v1/machines/{id}/active.
type ActiveRequest struct {
	Active *bool `json:"active"`
}

// =============================================================================
// Machines
// =============================================================================

// OnlineWindow is the staleness window after which a machine is reported
// offline.
const OnlineWindow = constants.OnlineWindow

// MachineView is the API form of a registry row.
type MachineView struct {
	ID          string          `json:"machine_id"`
	Hostname    string          `json:"hostname,omitempty"`
	DisplayName string          `json:"display_name,omitempty"`
	Address     string          `json:"address,omitempty"`
	LastContact time.Time       `json:"last_contact"`
	FirstSeen   time.Time       `json:"first_seen"`
	Active      bool            `json:"active"`
	Online      bool            `json:"online"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	Fingerprint string          `json:"fingerprint,omitempty"`
}

func machineView(m *types.Machine, now time.Time) MachineView {
	last := time.UnixMilli(m.LastContactMs).UTC()
	v := MachineView{
		ID:          m.ID,
		Hostname:    m.Hostname,
		DisplayName: m.DisplayName,
		Address:     m.Address,
		LastContact: last,
		FirstSeen:   time.UnixMilli(m.FirstSeenMs).UTC(),
		Active:      m.Active,
		Online:      m.Active && now.Sub(last) <= OnlineWindow,
		Metadata:    m.Metadata,
	}
	if len(m.Metadata) > 0 {
		v.Fingerprint = formatFingerprint(m.MetadataHash)
	}
	return v
}

func formatFingerprint(h uint64) string {
	return fmt.Sprintf("%016x", h)
}

// =============================================================================
// Admin
// =============================================================================

// CleanupRequest is the body of POST /v1/admin/cleanup.
type CleanupRequest struct {
	Resolution string `json:"resolution"`
	OlderThan  string `json:"older_than"`
	MachineID  string `json:"machine,omitempty"`
}

// ReaggregateRequest is the body of POST /v1/admin/reaggregate.
type ReaggregateRequest struct {
	MachineID  string          `json:"machine,omitempty"`
	Start      json.RawMessage `json:"start"`
	End        json.RawMessage `json:"end"`
	Resolution string          `json:"resolution,omitempty"`
}

// FlushResponse answers POST /v1/admin/flush.
type FlushResponse struct {
	Flushed int `json:"flushed"`
}

// =============================================================================
// Time and Duration Parsing
// =============================================================================

// ParseTime accepts RFC3339 or epoch milliseconds.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("want RFC3339 or epoch ms, got %q", s)
	}
	return t.UTC(), nil
}

func parseTimeJSON(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		t, err := ParseTime(s)
		if err != nil {
			return 0, err
		}
		return t.UnixMilli(), nil
	}
	var ms int64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return 0, fmt.Errorf("want RFC3339 or epoch ms: %w", err)
	}
	return ms, nil
}

// ParseAge accepts Go durations ("36h") and whole days ("3d").
func ParseAge(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid age %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid age %q", s)
	}
	return d, nil
}

func fieldNames() string {
	names := make([]string, 0, types.NumFields)
	for _, f := range types.AllFields() {
		names = append(names, f.String())
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
