package registry

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/xtxerr/rigwatch/internal/errors"
	"github.com/xtxerr/rigwatch/internal/store"
)

var t0 = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func setupRegistry(t *testing.T) *Registry {
	t.Helper()
	s, err := store.New(store.Config{DSN: ":memory:", QueryTimeout: 30 * time.Second})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	r := New(s, nil)
	r.SetClock(func() time.Time { return t0 })
	return r
}

func TestRegister_CreatesAndUpdates(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	res, err := r.Register(ctx, Registration{
		MachineID: "rig-01",
		Hostname:  "rig01.lan",
		Address:   "10.0.0.5",
		Metadata:  json.RawMessage(`{"cpu": "Ryzen 9", "cores": 16}`),
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !res.Created || !res.MetadataChanged || res.Fingerprint == 0 {
		t.Errorf("unexpected first result %+v", res)
	}

	m, err := r.Get(ctx, "rig-01")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !m.Active || m.LastContactMs != t0.UnixMilli() || m.FirstSeenMs != t0.UnixMilli() {
		t.Errorf("unexpected new row %+v", m)
	}
	if string(m.Metadata) != `{"cpu":"Ryzen 9","cores":16}` {
		t.Errorf("metadata not compacted: %s", m.Metadata)
	}

	// Re-register without metadata: identity updates, metadata is kept.
	res, err = r.Register(ctx, Registration{
		MachineID:   "rig-01",
		DisplayName: "Render box",
		ContactMs:   t0.Add(time.Minute).UnixMilli(),
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if res.Created || res.MetadataChanged {
		t.Errorf("unexpected update result %+v", res)
	}

	m, _ = r.Get(ctx, "rig-01")
	if m.Hostname != "rig01.lan" || m.DisplayName != "Render box" {
		t.Errorf("identity not merged: %+v", m)
	}
	if string(m.Metadata) != `{"cpu":"Ryzen 9","cores":16}` {
		t.Errorf("metadata must survive a registration without payload, got %s", m.Metadata)
	}
	if m.LastContactMs != t0.Add(time.Minute).UnixMilli() {
		t.Errorf("last contact did not advance")
	}
}

func TestRegister_MetadataFingerprint(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	first, _ := r.Register(ctx, Registration{MachineID: "m", Metadata: json.RawMessage(`{"gpu":"A4000"}`)})

	// Same document, different formatting.
	same, err := r.Register(ctx, Registration{MachineID: "m", Metadata: json.RawMessage("{ \"gpu\" : \"A4000\" }")})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if same.MetadataChanged || same.Fingerprint != first.Fingerprint {
		t.Errorf("formatting must not change the fingerprint: %+v vs %+v", same, first)
	}

	changed, _ := r.Register(ctx, Registration{MachineID: "m", Metadata: json.RawMessage(`{"gpu":"A6000"}`)})
	if !changed.MetadataChanged {
		t.Error("a different document must be reported as changed")
	}

	null, _ := r.Register(ctx, Registration{MachineID: "m", Metadata: json.RawMessage(`null`)})
	if null.MetadataChanged {
		t.Error("null metadata means not supplied")
	}
	m, _ := r.Get(ctx, "m")
	if string(m.Metadata) != `{"gpu":"A6000"}` {
		t.Errorf("metadata replaced by null: %s", m.Metadata)
	}
}

func TestRegister_LastContactMonotonic(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	r.Register(ctx, Registration{MachineID: "m", ContactMs: 5000})
	r.Register(ctx, Registration{MachineID: "m", ContactMs: 3000})

	m, _ := r.Get(ctx, "m")
	if m.LastContactMs != 5000 {
		t.Errorf("last contact moved backwards to %d", m.LastContactMs)
	}
}

func TestRegister_Validation(t *testing.T) {
	r := setupRegistry(t)

	long := make([]byte, MaxIDLength+1)
	for i := range long {
		long[i] = 'x'
	}

	tests := []struct {
		name string
		reg  Registration
		want error
	}{
		{"missing id", Registration{}, errors.ErrMissingField},
		{"id too long", Registration{MachineID: string(long)}, errors.ErrInvalidValue},
		{"id with slash", Registration{MachineID: "rack/node"}, errors.ErrInvalidValue},
		{"control char in hostname", Registration{MachineID: "m", Hostname: "rig\n01"}, errors.ErrInvalidValue},
		{"bad metadata", Registration{MachineID: "m", Metadata: json.RawMessage(`{"cpu":`)}, errors.ErrInvalidValue},
		{"negative contact", Registration{MachineID: "m", ContactMs: -1}, errors.ErrInvalidValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Register(context.Background(), tt.reg)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestListActiveAndSetActive(t *testing.T) {
	r := setupRegistry(t)
	ctx := context.Background()

	r.Register(ctx, Registration{MachineID: "old", ContactMs: 1000})
	r.Register(ctx, Registration{MachineID: "new", ContactMs: 3000})
	r.Register(ctx, Registration{MachineID: "mid", ContactMs: 2000})

	if err := r.SetActive(ctx, "mid", false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	active, err := r.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 2 || active[0].ID != "new" || active[1].ID != "old" {
		t.Errorf("unexpected active list %+v", active)
	}

	// Later contact does not reactivate.
	r.Register(ctx, Registration{MachineID: "mid", ContactMs: 4000})
	m, _ := r.Get(ctx, "mid")
	if m.Active {
		t.Error("registration must not reactivate a deactivated machine")
	}

	all, _ := r.List(ctx)
	if len(all) != 3 || all[0].ID != "mid" {
		t.Errorf("unexpected full list %+v", all)
	}

	if err := r.SetActive(ctx, "ghost", true); !errors.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint([]byte(`{"a":1}`))
	if a != Fingerprint([]byte(`{"a":1}`)) {
		t.Error("fingerprint must be deterministic")
	}
	if a == Fingerprint([]byte(`{"a":2}`)) {
		t.Error("different payloads should differ")
	}
}
