package videoplayout

import (
	"github.com/strefethen/playout-conductor/internal/mapping"
	"github.com/strefethen/playout-conductor/internal/resolver"
	"github.com/strefethen/playout-conductor/internal/timeline"
)

const deviceTypeTag = "videoplayout"

// PendingPlay is a scheduled future play paired with a lookahead's
// currently loaded background.
type PendingPlay struct {
	AtMs         int64
	ObjID        string
	Clip         ClipPayload
	Seek         int
	InTransition *timeline.Transition
}

// Convert is the pure, total projection from resolved timeline state to
// this device's own State: it reads states[idx] (and, only to resolve
// lookahead pairing, the later entries in states for the same device) and
// the current mapping table. Unrecognized deviceTypes on a layer are
// ignored.
func Convert(states []resolver.State, idx int, table mapping.Table, deviceID string, now int64, timeBaseFPS int) State {
	out := State{Layers: map[ChannelLayer]ClipState{}}
	snapshot := states[idx]

	for layerName, route := range table {
		if route.DeviceID != deviceID {
			continue
		}
		cl := ChannelLayer{Channel: route.Channel, Layer: route.MixerLayer}

		obj, active := snapshot.Layers[layerName]
		if !active || obj.Content.DeviceType != deviceTypeTag {
			continue
		}

		clip, ok := obj.Content.Payload.(ClipPayload)
		if !ok {
			continue
		}

		cs := ClipState{sourceObjID: obj.ID}

		if obj.IsLookahead {
			bg := clip
			cs.Background = &bg
			if pending := findPendingPlay(states, idx, layerName); pending != nil {
				out.Layers[cl] = withPending(cs, pending, now, timeBaseFPS)
				continue
			}
			out.Layers[cl] = cs
			continue
		}

		seek := computeSeek(clip, obj.StartMs, now, timeBaseFPS)
		cs.Clip = clip
		cs.SeekFrm = seek
		cs.InTransition = obj.Content.InTransition
		cs.OutTransition = obj.Content.OutTransition
		if obj.HasEnd && !clip.NoClear {
			cs.ExitAtMs = obj.EndMs
			cs.HasExit = true
		}
		out.Layers[cl] = cs
	}

	return out
}

// findPendingPlay scans forward through states for the next resolved
// object on layerName that differs from the lookahead object at idx — the
// object the lookahead is preloading for.
func findPendingPlay(states []resolver.State, idx int, layerName string) *resolver.ResolvedObject {
	current, ok := states[idx].Layers[layerName]
	if !ok {
		return nil
	}
	for i := idx + 1; i < len(states); i++ {
		next, ok := states[i].Layers[layerName]
		if !ok {
			continue
		}
		if next.ID == current.ID {
			continue
		}
		if next.Content.DeviceType != deviceTypeTag {
			return nil
		}
		obj := next
		return &obj
	}
	return nil
}

func withPending(cs ClipState, obj *resolver.ResolvedObject, now int64, timeBaseFPS int) ClipState {
	clip, ok := obj.Content.Payload.(ClipPayload)
	if !ok {
		return cs
	}
	seek := computeSeek(clip, obj.StartMs, obj.StartMs, timeBaseFPS) // at its own start, elapsed==0
	cs.pendingPlay = &PendingPlay{
		AtMs:         obj.StartMs,
		ObjID:        obj.ID,
		Clip:         clip,
		Seek:         seek,
		InTransition: obj.Content.InTransition,
	}
	return cs
}

// computeSeek: disabled (0) for live inputs and length-unknown looping
// media; otherwise the elapsed time since start, converted to frames.
// Convert passes objects active at the snapshot and withPending passes a
// future object with now == startMs, so elapsed is always >= 0 in
// practice, but we clamp defensively.
func computeSeek(clip ClipPayload, startMs, now int64, timeBaseFPS int) int {
	if clip.IsLiveInput || clip.LengthUnknown {
		return 0
	}
	elapsed := now - startMs
	if elapsed <= 0 {
		return 0
	}
	return MsToFrames(elapsed, timeBaseFPS)
}
