// Package resolver is the binding over the external timeline resolver. The
// resolution algorithm itself is treated as a black box: cyclic references
// between timeline objects are the resolver's concern, and the core
// receives already-resolved, acyclic snapshots. This package defines the
// narrow contract the conductor depends on, plus a deterministic reference
// implementation adequate to drive the engine and its tests.
//
// Grounded on internal/devices/normalizer.go's treatment of raw SOAP
// payloads as an opaque external shape it normalizes rather than computes:
// the same posture applies here to the resolver's algorithm.
package resolver

import (
	"fmt"
	"sort"
	"strings"

	"github.com/strefethen/playout-conductor/internal/timeline"
)

// ResolvedObject is the resolver's per-layer output: exactly one resolved
// object per active layer at a given time.
type ResolvedObject struct {
	ID          string
	Layer       string
	Content     timeline.Content
	StartMs     int64
	EndMs       int64 // 0 means open-ended (e.g. While-enabled, or unknown duration)
	HasEnd      bool
	IsLookahead bool
	Keyframes   []timeline.Keyframe
}

// State is the resolver's output for one evaluation instant.
type State struct {
	Time   int64
	Layers map[string]ResolvedObject
}

// Resolver is the contract the conductor depends on.
type Resolver interface {
	// Resolve returns the active layer->object mapping at exactly `at`.
	Resolve(tl timeline.Timeline, at int64) (State, error)

	// ChangePoints returns, in ascending order, every instant in
	// (from, to] at which Resolve's output could differ from the instant
	// immediately before it — i.e. the discrete snapshots the conductor's
	// tick loop collects across its look-ahead horizon.
	ChangePoints(tl timeline.Timeline, from, to int64) ([]int64, error)
}

// Reference is a deterministic, dependency-free Resolver implementation.
// It supports absolute-ms starts, "#objectID.start"/"#objectID.end"
// symbolic references (one level, non-cyclic — cycles are a
// caller/authoring error and surface as an error here rather than being
// silently tolerated), and treats While-enabled objects as active for the
// object's entire StartMs..+inf window since a real While-expression
// evaluator is out of scope — the timeline resolver algorithm itself is
// taken as a black box.
type Reference struct{}

// NewReference constructs the reference Resolver.
func NewReference() Reference {
	return Reference{}
}

func (Reference) resolveTimes(tl timeline.Timeline) (map[string]int64, map[string]int64, error) {
	starts := make(map[string]int64, len(tl))
	ends := make(map[string]int64, len(tl))

	for _, obj := range tl {
		if obj.Enable.StartRef == "" {
			starts[obj.ID] = obj.Enable.Start
			if obj.Enable.While == "" && obj.Enable.DurationMs > 0 {
				ends[obj.ID] = obj.Enable.Start + obj.Enable.DurationMs
			}
		}
	}
	// One pass is sufficient: symbolic references point at absolute-start
	// objects in this reference implementation, not at other symbolic ones.
	for _, obj := range tl {
		if obj.Enable.StartRef == "" {
			continue
		}
		start, err := resolveRef(obj.Enable.StartRef, starts, ends)
		if err != nil {
			return nil, nil, fmt.Errorf("object %s: %w", obj.ID, err)
		}
		starts[obj.ID] = start
	}
	for _, obj := range tl {
		if obj.Enable.While != "" || obj.Enable.DurationMs <= 0 {
			continue
		}
		ends[obj.ID] = starts[obj.ID] + obj.Enable.DurationMs
	}
	return starts, ends, nil
}

func resolveRef(ref string, starts, ends map[string]int64) (int64, error) {
	ref = strings.TrimPrefix(ref, "#")
	parts := strings.SplitN(ref, ".", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed time reference %q", ref)
	}
	id, field := parts[0], parts[1]
	switch field {
	case "start":
		v, ok := starts[id]
		if !ok {
			return 0, fmt.Errorf("unresolved reference to %s.start", id)
		}
		return v, nil
	case "end":
		v, ok := ends[id]
		if !ok {
			return 0, fmt.Errorf("unresolved reference to %s.end", id)
		}
		return v, nil
	default:
		return 0, fmt.Errorf("unknown time reference field %q", field)
	}
}

func (r Reference) Resolve(tl timeline.Timeline, at int64) (State, error) {
	starts, ends, err := r.resolveTimes(tl)
	if err != nil {
		return State{}, err
	}

	layers := make(map[string]ResolvedObject)
	for _, obj := range tl {
		start := starts[obj.ID]
		if start > at {
			continue
		}
		end, hasEnd := ends[obj.ID]
		if hasEnd && at >= end {
			continue
		}
		layers[obj.Layer] = ResolvedObject{
			ID:          obj.ID,
			Layer:       obj.Layer,
			Content:     mergeKeyframes(obj.Content, obj.Keyframes, at-start),
			StartMs:     start,
			EndMs:       end,
			HasEnd:      hasEnd,
			IsLookahead: obj.IsLookahead,
			Keyframes:   obj.Keyframes,
		}
	}
	return State{Time: at, Layers: layers}, nil
}

// mergeKeyframes applies every keyframe whose StartMs (relative to the
// object's own start) is <= elapsed, last-write-wins by StartMs ascending,
// onto a shallow copy of content.Payload when it is a map[string]any.
// Non-map payloads are returned unchanged — keyframing is only meaningful
// for structured payloads, where keyframes carry time-scoped partial
// overrides merged into content by the resolver.
func mergeKeyframes(content timeline.Content, keyframes []timeline.Keyframe, elapsed int64) timeline.Content {
	payload, ok := content.Payload.(map[string]any)
	if !ok || len(keyframes) == 0 {
		return content
	}

	sorted := append([]timeline.Keyframe(nil), keyframes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartMs < sorted[j].StartMs })

	merged := make(map[string]any, len(payload))
	for k, v := range payload {
		merged[k] = v
	}
	for _, kf := range sorted {
		if kf.StartMs > elapsed {
			continue
		}
		for k, v := range kf.ContentPart {
			merged[k] = v
		}
	}
	content.Payload = merged
	return content
}

// ChangePoints collects every object boundary (start, and end when known)
// in (from, to], sorted ascending and deduplicated. This mirrors what a
// real resolver reports as "change-points" without re-deriving the
// resolution algorithm itself.
func (r Reference) ChangePoints(tl timeline.Timeline, from, to int64) ([]int64, error) {
	starts, ends, err := r.resolveTimes(tl)
	if err != nil {
		return nil, err
	}

	set := make(map[int64]struct{})
	for _, obj := range tl {
		if s := starts[obj.ID]; s > from && s <= to {
			set[s] = struct{}{}
		}
		if e, ok := ends[obj.ID]; ok && e > from && e <= to {
			set[e] = struct{}{}
		}
		for _, kf := range obj.Keyframes {
			at := starts[obj.ID] + kf.StartMs
			if at > from && at <= to {
				set[at] = struct{}{}
			}
		}
	}

	points := make([]int64, 0, len(set))
	for p := range set {
		points = append(points, p)
	}
	sort.Slice(points, func(i, j int) bool { return points[i] < points[j] })
	return points, nil
}
