package videoplayout

import (
	"sort"

	"github.com/google/uuid"

	"github.com/strefethen/playout-conductor/internal/device"
)

// scheduleTracker holds the per-channel+layer bookkeeping wrapAndTrack needs
// to retract a previously scheduled command when a later diff invalidates
// it, for scheduling-aware devices that support ScheduleSet(timecode,
// innerCommand) -> token and ScheduleRemove(token). This is deliberately
// kept outside Diff: token identity is ephemeral adapter state, not a pure
// function of two States, so folding it into Diff would break diff
// composability the moment two diffs disagreed only on token values.
type scheduleTracker struct {
	pending map[ChannelLayer]pendingSchedule
}

type pendingSchedule struct {
	token string
	objID string
	atMs  int64
}

func newScheduleTracker() *scheduleTracker {
	return &scheduleTracker{pending: make(map[ChannelLayer]pendingSchedule)}
}

// wrapAndTrack is the Adapter-level stateful half of scheduling-aware
// dispatch. Given the pure commands Diff produced plus the
// old/new states they were derived from, it:
//  1. retracts (ScheduleRemoveCmd) any previously tracked pending schedule on
//     a layer whose new desired future no longer matches what was scheduled,
//     emitting the retraction before any replacement command on that layer;
//  2. wraps every remaining future command (ExecuteAt > now) in a
//     ScheduleSetCmd, recording its token so a later call can retract it.
//
// Commands with ExecuteAt <= now (or zero, meaning "now") pass through
// unwrapped — they are dispatched immediately via the DoOnTime queue
// regardless of whether the device itself supports scheduling.
func (t *scheduleTracker) wrapAndTrack(cmds []device.Command, old, new State, now int64, useScheduling bool, timeBaseFPS int) []device.Command {
	if !useScheduling {
		return cmds
	}

	layers := relevantLayers(cmds, old, new, t.pending)
	var out []device.Command

	for _, cl := range layers {
		wantFuture, wantObjID, _ := futureTarget(new, cl)
		prior, hadPrior := t.pending[cl]

		if hadPrior && (!wantFuture || prior.objID != wantObjID) {
			out = append(out, device.Command{
				Layer: cl.String(),
				Inner: ScheduleRemoveCmd{Token: prior.token},
			})
			delete(t.pending, cl)
			hadPrior = false
		}

		for _, cmd := range cmdsForLayer(cmds, cl) {
			if cmd.ExecuteAt <= now {
				out = append(out, cmd)
				continue
			}
			if hadPrior && prior.atMs == cmd.ExecuteAt {
				// Already scheduled under a live token; nothing to re-send.
				continue
			}
			token := uuid.NewString()
			out = append(out, device.Command{
				Layer:     cmd.Layer,
				ExecuteAt: 0,
				Inner: ScheduleSetCmd{
					Token:    token,
					Timecode: FormatTimecode(cmd.ExecuteAt, timeBaseFPS),
					Inner:    cmd.Inner,
				},
				Context:       cmd.Context,
				TimelineObjID: cmd.TimelineObjID,
			})
			t.pending[cl] = pendingSchedule{token: token, objID: wantObjID, atMs: cmd.ExecuteAt}
		}
	}
	return out
}

// futureTarget reports the object a layer's next scheduled transition
// belongs to, used to decide whether a previously tracked schedule is still
// valid.
func futureTarget(new State, cl ChannelLayer) (has bool, objID string, atMs int64) {
	n, ok := new.Layers[cl]
	if !ok {
		return false, "", 0
	}
	if n.pendingPlay != nil {
		return true, n.pendingPlay.ObjID, n.pendingPlay.AtMs
	}
	if n.HasExit {
		return true, n.sourceObjID, n.ExitAtMs
	}
	return false, "", 0
}

// relevantLayers is every ChannelLayer wrapAndTrack must consider: those
// named by cmds (matched by Layer string against the layers of old and
// new), plus any layer carrying a previously tracked schedule (so a pending
// schedule can be retracted even when Diff emitted no command for it).
func relevantLayers(cmds []device.Command, old, new State, pending map[ChannelLayer]pendingSchedule) []ChannelLayer {
	names := make(map[string]ChannelLayer, len(new.Layers)+len(old.Layers))
	for cl := range new.Layers {
		names[cl.String()] = cl
	}
	for cl := range old.Layers {
		names[cl.String()] = cl
	}

	set := make(map[ChannelLayer]struct{})
	for _, c := range cmds {
		if cl, ok := names[c.Layer]; ok {
			set[cl] = struct{}{}
		}
	}
	for cl := range pending {
		set[cl] = struct{}{}
	}

	out := make([]ChannelLayer, 0, len(set))
	for cl := range set {
		out = append(out, cl)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func cmdsForLayer(cmds []device.Command, cl ChannelLayer) []device.Command {
	var out []device.Command
	for _, c := range cmds {
		if c.Layer == cl.String() {
			out = append(out, c)
		}
	}
	return out
}
