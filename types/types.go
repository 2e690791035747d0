package types

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Tier identifies a phase of the pipeline.
type Tier string

const (
	TierOffline Tier = "offline"
	TierOnline  Tier = "online"
)

// LaneStatus represents the possible outcomes of a lane execution.
type LaneStatus string

const (
	LaneStatusPass  LaneStatus = "pass"
	LaneStatusFail  LaneStatus = "fail"
	LaneStatusError LaneStatus = "error"
)

// AxisValue is one concrete binding of an axis name to a value.
type AxisValue struct {
	Axis  string
	Value string
}

// Lane is one concrete combination of axis values. Its identity is the
// ordered tuple of axis values; Slot is set for lanes that own a live
// account and is not part of the identity.
type Lane struct {
	ID     string
	Values []AxisValue
	Slot   string
}

// LaneID renders the canonical lane identity for an ordered set of
// axis values, e.g. "platform=linux,runtime=1.22".
func LaneID(values []AxisValue) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, fmt.Sprintf("%s=%s", v.Axis, v.Value))
	}
	return strings.Join(parts, ",")
}

// Get returns the value bound to the named axis, or "" if the lane has
// no binding for it.
func (l Lane) Get(axis string) string {
	for _, v := range l.Values {
		if v.Axis == axis {
			return v.Value
		}
	}
	return ""
}

// AccessToken is a short-lived credential derived from a credential slot
// for one lane's exclusive use. The raw value is unexported; String and
// LogValue mask it so it cannot leak through a logging pathway.
type AccessToken struct {
	value  string
	Slot   string
	Expiry time.Time
}

// NewAccessToken wraps a raw token value. The value is reachable only
// through Value().
func NewAccessToken(value, slot string, expiry time.Time) AccessToken {
	return AccessToken{value: value, Slot: slot, Expiry: expiry}
}

// Value returns the raw token for injection into a lane's environment.
func (t AccessToken) Value() string { return t.value }

// Expired reports whether the token's declared expiry has passed.
func (t AccessToken) Expired(now time.Time) bool {
	return !t.Expiry.IsZero() && now.After(t.Expiry)
}

func (t AccessToken) String() string {
	return fmt.Sprintf("AccessToken(slot=%s, value=****, expiry=%s)", t.Slot, t.Expiry.Format(time.RFC3339))
}

// LogValue implements slog.LogValuer so structured logging sees the
// masked form even when the token is passed as a raw attribute.
func (t AccessToken) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("slot", t.Slot),
		slog.String("value", "****"),
		slog.Time("expiry", t.Expiry),
	)
}

// LaneResult captures the outcome of running a lane.
type LaneResult struct {
	Lane     Lane
	Tier     Tier
	Status   LaneStatus
	Err      error
	Attempts int // executions consumed, including the first
	Duration time.Duration
	Artifact string // coverage artifact reference, "" if none produced
	Stdout   string // tail of command output for failing lanes
}

// ResultStats tracks lane counts at tier and pipeline level.
type ResultStats struct {
	Total     int
	Passed    int
	Failed    int
	Errored   int
	StartTime time.Time
	EndTime   time.Time
}

// TierResult aggregates all lane results for one tier.
type TierResult struct {
	Tier     Tier
	Lanes    map[string]*LaneResult
	Status   LaneStatus
	Duration time.Duration
	Stats    ResultStats
}

// NewTierResult returns an empty result for the given tier.
func NewTierResult(tier Tier) *TierResult {
	return &TierResult{
		Tier:  tier,
		Lanes: make(map[string]*LaneResult),
		Stats: ResultStats{StartTime: time.Now()},
	}
}

// Add records a lane result and updates the tier stats.
func (t *TierResult) Add(r *LaneResult) {
	t.Lanes[r.Lane.ID] = r
	t.Stats.Total++
	switch r.Status {
	case LaneStatusPass:
		t.Stats.Passed++
	case LaneStatusFail:
		t.Stats.Failed++
	case LaneStatusError:
		t.Stats.Errored++
	}
}

// Finalize computes the tier status once all lanes are collected.
func (t *TierResult) Finalize() {
	t.Stats.EndTime = time.Now()
	t.Duration = t.Stats.EndTime.Sub(t.Stats.StartTime)
	t.Status = t.computeStatus()
}

func (t *TierResult) computeStatus() LaneStatus {
	if t.Stats.Errored > 0 {
		return LaneStatusError
	}
	if t.Stats.Failed > 0 {
		return LaneStatusFail
	}
	return LaneStatusPass
}

// Success reports whether every lane in the tier passed.
func (t *TierResult) Success() bool {
	return t.Stats.Total > 0 && t.Stats.Passed == t.Stats.Total
}

// PipelineResult is the ordered composition of the offline tier result
// and, when the offline tier fully passed, the online tier result.
type PipelineResult struct {
	RunID    string
	Offline  *TierResult
	Online   *TierResult // nil when the pipeline halted after offline
	Halted   bool
	Status   LaneStatus
	Duration time.Duration
}

// Finalize derives the pipeline status from its tiers.
func (p *PipelineResult) Finalize() {
	switch {
	case p.Offline == nil:
		p.Status = LaneStatusError
	case !p.Offline.Success():
		p.Halted = true
		p.Status = p.Offline.Status
	case p.Online != nil:
		p.Status = p.Online.Status
	default:
		p.Status = p.Offline.Status
	}
}

// FailedLanes enumerates lanes that did not pass, with their consumed
// retry counts, across both tiers.
func (p *PipelineResult) FailedLanes() []*LaneResult {
	var failed []*LaneResult
	for _, tier := range []*TierResult{p.Offline, p.Online} {
		if tier == nil {
			continue
		}
		for _, lane := range tier.Lanes {
			if lane.Status != LaneStatusPass {
				failed = append(failed, lane)
			}
		}
	}
	return failed
}

// String returns a one-line pipeline summary suitable for CI logs.
func (p *PipelineResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pipeline %s: %s", p.RunID, p.Status)
	if p.Offline != nil {
		fmt.Fprintf(&b, " | offline: %d/%d passed", p.Offline.Stats.Passed, p.Offline.Stats.Total)
	}
	if p.Online != nil {
		fmt.Fprintf(&b, " | online: %d/%d passed", p.Online.Stats.Passed, p.Online.Stats.Total)
	} else if p.Halted {
		b.WriteString(" | online: skipped (offline tier did not pass)")
	}
	return b.String()
}
