package videoplayout

import (
	"sort"

	"github.com/strefethen/playout-conductor/internal/device"
)

// Diff is the pure state-state-diffing function every device adapter
// implements: deterministic, minimal (only channel+layers whose desired
// clip/background actually changed produce a command), and composable
// (diff(a,b) followed by diff(b,c) has the same net effect as diff(a,c) up
// to coalescing). It never consults a clock or any external state; every
// command's ExecuteAt is derived purely from old/new, using the object's
// own known timing baked in by Convert.
//
// Commands are returned in ascending ChannelLayer order (channel, then
// layer) for determinism; within one layer, a Clear always precedes a Play
// when both are needed (e.g. a NoClear=false transition to a different
// clip without an explicit out-transition still gets the old clip's own
// end honored by Convert, not re-derived here).
func Diff(old, new State) []device.Command {
	layers := unionLayers(old, new)
	var cmds []device.Command

	for _, cl := range layers {
		o, oldOK := old.Layers[cl]
		n, newOK := new.Layers[cl]

		switch {
		case !newOK || n.Empty:
			if oldOK && !o.Empty {
				cmds = append(cmds, exitCommand(cl, o))
			}
		case !oldOK:
			cmds = append(cmds, enterCommands(cl, n)...)
		default:
			cmds = append(cmds, transitionCommands(cl, o, n)...)
		}
	}
	return cmds
}

func unionLayers(old, new State) []ChannelLayer {
	set := make(map[ChannelLayer]struct{}, len(old.Layers)+len(new.Layers))
	for cl := range old.Layers {
		set[cl] = struct{}{}
	}
	for cl := range new.Layers {
		set[cl] = struct{}{}
	}
	out := make([]ChannelLayer, 0, len(set))
	for cl := range set {
		out = append(out, cl)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Channel != out[j].Channel {
			return out[i].Channel < out[j].Channel
		}
		return out[i].Layer < out[j].Layer
	})
	return out
}

// exitCommand is a layer's final command when it disappears entirely
//. A background-only layer (preloaded but never
// played to air) retracts as a load-background EMPTY rather than a clear —
// there is nothing on air to clear.
func exitCommand(cl ChannelLayer, o ClipState) device.Command {
	if o.Background != nil && o.Clip == (ClipPayload{}) {
		return device.Command{
			Layer: layerName(cl),
			Inner: LoadBackgroundCmd{ChannelLayer: cl, Clip: ""},
		}
	}
	return device.Command{
		Layer: layerName(cl),
		Inner: ClearCmd{ChannelLayer: cl, OutTransition: o.OutTransition},
	}
}

func enterCommands(cl ChannelLayer, n ClipState) []device.Command {
	if n.Background != nil {
		return backgroundCommands(cl, n)
	}
	cmds := []device.Command{{
		Layer: layerName(cl),
		Inner: PlayCmd{
			ChannelLayer:  cl,
			Clip:          n.Clip.Clip,
			Loop:          n.Clip.Loop,
			Seek:          n.SeekFrm,
			NoClear:       n.Clip.NoClear,
			InTransition:  n.InTransition,
			OutTransition: n.OutTransition,
		},
	}}
	if n.HasExit {
		cmds = append(cmds, device.Command{
			Layer:     layerName(cl),
			ExecuteAt: n.ExitAtMs,
			Inner:     ClearCmd{ChannelLayer: cl, OutTransition: n.OutTransition},
		})
	}
	return cmds
}

// backgroundCommands handles lookahead pairing: a LoadBackground now, and —
// when Convert discovered the paired future play — a scheduled Play at
// that object's own start.
func backgroundCommands(cl ChannelLayer, n ClipState) []device.Command {
	cmds := []device.Command{{
		Layer: layerName(cl),
		Inner: LoadBackgroundCmd{ChannelLayer: cl, Clip: n.Background.Clip},
	}}
	if n.pendingPlay == nil {
		return cmds
	}
	p := n.pendingPlay
	cmds = append(cmds, device.Command{
		Layer:     layerName(cl),
		ExecuteAt: p.AtMs,
		Inner: PlayCmd{
			ChannelLayer: cl,
			Clip:         p.Clip.Clip,
			Loop:         p.Clip.Loop,
			Seek:         p.Seek,
			InTransition: p.InTransition,
		},
	})
	return cmds
}

// transitionCommands handles a layer present in both old and new. When old
// held a lookahead background and new holds none, the only command is a
// load-background EMPTY; the ScheduleRemove that retracts the paired play
// ahead of it is added by scheduleTracker.wrapAndTrack, not here.
// Identical clip+seek+background produce no commands at all — diff(s,s)
// is empty.
func transitionCommands(cl ChannelLayer, o, n ClipState) []device.Command {
	if o.sourceObjID == n.sourceObjID && sameClip(o, n) {
		return nil
	}

	if o.Background != nil && n.Background == nil {
		return []device.Command{
			{Layer: layerName(cl), Inner: LoadBackgroundCmd{ChannelLayer: cl, Clip: ""}},
		}
	}

	var cmds []device.Command
	if o.OutTransition != nil && !sameClipPayload(o.Clip, n.Clip) {
		cmds = append(cmds, device.Command{
			Layer: layerName(cl),
			Inner: ClearCmd{ChannelLayer: cl, OutTransition: o.OutTransition},
		})
	}
	cmds = append(cmds, enterCommands(cl, n)...)
	return cmds
}

func sameClip(o, n ClipState) bool {
	if (o.Background == nil) != (n.Background == nil) {
		return false
	}
	if o.Background != nil {
		return *o.Background == *n.Background && samePending(o.pendingPlay, n.pendingPlay)
	}
	return sameClipPayload(o.Clip, n.Clip) && o.SeekFrm == n.SeekFrm
}

func sameClipPayload(a, b ClipPayload) bool { return a == b }

func samePending(a, b *PendingPlay) bool {
	if (a == nil) != (b == nil) {
		return false
	}
	if a == nil {
		return true
	}
	return a.ObjID == b.ObjID && a.AtMs == b.AtMs
}

func layerName(cl ChannelLayer) string {
	return cl.String()
}
