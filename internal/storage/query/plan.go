// Package query answers range queries at an automatically chosen or
// explicitly requested resolution.
//
// Planning and shaping are pure functions; the Service only adds the store
// reads around them.
package query

import (
	"fmt"
	"strings"
	"time"

	"github.com/xtxerr/rigwatch/internal/errors"
	"github.com/xtxerr/rigwatch/internal/storage/types"
)

// ResolutionAuto lets the planner choose the tier.
const ResolutionAuto = "auto"

// Request is one range query.
type Request struct {
	MachineID string
	Start     time.Time
	End       time.Time

	// Resolution is "auto" (or empty), "raw", "hourly" or "daily".
	Resolution string
}

// Limits bound the spans served from the finer tiers in auto mode.
type Limits struct {
	RawMaxSpan    time.Duration
	HourlyMaxSpan time.Duration
}

// DefaultLimits returns 24h for raw and 90 days for hourly.
func DefaultLimits() Limits {
	return Limits{RawMaxSpan: types.RawMaxSpan, HourlyMaxSpan: types.HourlyMaxSpan}
}

// Plan is the resolved form of a Request.
type Plan struct {
	Tier types.Tier

	// Auto is true when the tier was chosen by span.
	Auto bool

	// StartMs and EndMs are the effective, grid-aligned bounds, [StartMs, EndMs).
	StartMs int64
	EndMs   int64
}

// EffectiveStart returns the aligned start.
func (p Plan) EffectiveStart() time.Time { return time.UnixMilli(p.StartMs).UTC() }

// EffectiveEnd returns the aligned end.
func (p Plan) EffectiveEnd() time.Time { return time.UnixMilli(p.EndMs).UTC() }

// Widened reports whether alignment moved either bound.
func (p Plan) Widened(req Request) bool {
	return p.StartMs != req.Start.UnixMilli() || p.EndMs != req.End.UnixMilli()
}

// ParseResolution maps a resolution string to a tier; auto is true for
// "auto" and the empty string.
func ParseResolution(s string) (tier types.Tier, auto bool, err error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == ResolutionAuto {
		return types.TierRaw, true, nil
	}
	tier, err = types.ParseTier(s)
	if err != nil {
		return types.TierRaw, false, fmt.Errorf("%q: %w", s, errors.ErrInvalidResolution)
	}
	return tier, false, nil
}

// PlanRequest validates req and resolves its tier and aligned range.
func PlanRequest(req Request, limits Limits) (Plan, error) {
	if req.MachineID == "" {
		return Plan{}, errors.NewMissingField("machine")
	}
	if req.Start.IsZero() || req.End.IsZero() {
		return Plan{}, errors.NewInvalidRange("start and end are required")
	}
	if !req.End.After(req.Start) {
		return Plan{}, errors.NewInvalidRange("end must be after start")
	}

	tier, auto, err := ParseResolution(req.Resolution)
	if err != nil {
		return Plan{}, err
	}
	if auto {
		tier = types.SelectTier(req.End.Sub(req.Start), limits.RawMaxSpan, limits.HourlyMaxSpan)
	}

	return Plan{
		Tier:    tier,
		Auto:    auto,
		StartMs: tier.TruncateMs(req.Start.UnixMilli()),
		EndMs:   tier.CeilMs(req.End.UnixMilli()),
	}, nil
}
