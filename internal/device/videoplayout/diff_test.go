package videoplayout

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/playout-conductor/internal/device"
	"github.com/strefethen/playout-conductor/internal/mapping"
	"github.com/strefethen/playout-conductor/internal/resolver"
	"github.com/strefethen/playout-conductor/internal/timeline"
)

func testTable() mapping.Table {
	return mapping.Table{
		"layer0": {DeviceID: "vp1", Channel: 1, MixerLayer: 10},
	}
}

func resolvedState(at int64, obj resolver.ResolvedObject) resolver.State {
	return resolver.State{Time: at, Layers: map[string]resolver.ResolvedObject{"layer0": obj}}
}

const cl0 = "ch1-layer10"

// Scenario 1: play clip from 1s in the past, 2s duration, looping, length
// unknown. At t=10200, exactly one play with seek:0; the object's own end
// (11000) produces a scheduled clear.
func TestScenario1_LoopingUnknownLengthFromPast(t *testing.T) {
	obj := resolver.ResolvedObject{
		ID: "objA", Layer: "layer0", StartMs: 9000, EndMs: 11000, HasEnd: true,
		Content: timeline.Content{DeviceType: "videoplayout", Payload: ClipPayload{Clip: "AMB", Loop: true, LengthUnknown: true}},
	}
	states := []resolver.State{resolvedState(10200, obj)}
	new := Convert(states, 0, testTable(), "vp1", 10200, 25)

	cmds := Diff(State{Layers: map[ChannelLayer]ClipState{}}, new)
	require.Len(t, cmds, 2)

	play, ok := cmds[0].Inner.(PlayCmd)
	require.True(t, ok)
	assert.Equal(t, "AMB", play.Clip)
	assert.True(t, play.Loop)
	assert.Equal(t, 0, play.Seek)
	assert.False(t, play.NoClear)
	assert.Equal(t, cl0, cmds[0].Layer)

	clear, ok := cmds[1].Inner.(ClearCmd)
	require.True(t, ok)
	assert.Equal(t, int64(11000), cmds[1].ExecuteAt)
	_ = clear
}

// Scenario 2: clip started 10s ago, 60s duration, non-looping, timeBase=25.
// seek = 25*10 = 250 frames.
func TestScenario2_SeekFramesFromElapsed(t *testing.T) {
	obj := resolver.ResolvedObject{
		ID: "objB", Layer: "layer0", StartMs: 200, EndMs: 60200, HasEnd: true,
		Content: timeline.Content{DeviceType: "videoplayout", Payload: ClipPayload{Clip: "FILM"}},
	}
	states := []resolver.State{resolvedState(10200, obj)}
	new := Convert(states, 0, testTable(), "vp1", 10200, 25)

	cmds := Diff(State{Layers: map[ChannelLayer]ClipState{}}, new)
	require.NotEmpty(t, cmds)
	play, ok := cmds[0].Inner.(PlayCmd)
	require.True(t, ok)
	assert.Equal(t, 250, play.Seek)
}

// Scenario 3: live input never seeks regardless of elapsed; clears at
// object end.
func TestScenario3_LiveInputNeverSeeks(t *testing.T) {
	obj := resolver.ResolvedObject{
		ID: "objC", Layer: "layer0", StartMs: 0, EndMs: 20000, HasEnd: true,
		Content: timeline.Content{DeviceType: "videoplayout", Payload: ClipPayload{Clip: "CAM1", IsLiveInput: true}},
	}
	states := []resolver.State{resolvedState(10200, obj)}
	new := Convert(states, 0, testTable(), "vp1", 10200, 25)

	cmds := Diff(State{Layers: map[ChannelLayer]ClipState{}}, new)
	require.Len(t, cmds, 2)
	play := cmds[0].Inner.(PlayCmd)
	assert.Equal(t, 0, play.Seek)
	_, ok := cmds[1].Inner.(ClearCmd)
	assert.True(t, ok)
}

// Scenario 4 + 5: lookahead pairing emits a load-background now and a
// scheduled play at B's start; retraction later emits ScheduleRemove then
// load-background EMPTY, with no further commands.
func TestScenario4And5_LookaheadPairingAndRetraction(t *testing.T) {
	objA := resolver.ResolvedObject{
		ID: "objA", Layer: "layer0", StartMs: 10000, EndMs: 11200, HasEnd: true, IsLookahead: true,
		Content: timeline.Content{DeviceType: "videoplayout", Payload: ClipPayload{Clip: "NEXT"}},
	}
	objB := resolver.ResolvedObject{
		ID: "objB", Layer: "layer0", StartMs: 11200, EndMs: 13200, HasEnd: true,
		Content: timeline.Content{DeviceType: "videoplayout", Payload: ClipPayload{Clip: "NEXT"}},
	}
	states := []resolver.State{resolvedState(10100, objA), resolvedState(11200, objB)}
	new := Convert(states, 0, testTable(), "vp1", 10100, 25)

	cmds := Diff(State{Layers: map[ChannelLayer]ClipState{}}, new)
	require.Len(t, cmds, 2)

	lb, ok := cmds[0].Inner.(LoadBackgroundCmd)
	require.True(t, ok)
	assert.Equal(t, "NEXT", lb.Clip)

	future, ok := cmds[1].Inner.(PlayCmd)
	require.True(t, ok)
	assert.Equal(t, "NEXT", future.Clip)
	assert.Equal(t, int64(11200), cmds[1].ExecuteAt)

	tracker := newScheduleTracker()
	wrapped := tracker.wrapAndTrack(cmds, State{Layers: map[ChannelLayer]ClipState{}}, new, 10100, true, 25)
	require.Len(t, wrapped, 2)
	assert.IsType(t, LoadBackgroundCmd{}, wrapped[0].Inner)
	sched, ok := wrapped[1].Inner.(ScheduleSetCmd)
	require.True(t, ok)
	assert.Equal(t, FormatTimecode(11200, 25), sched.Timecode)
	token := sched.Token
	require.NotEmpty(t, token)

	// Scenario 5: retract by replacing the timeline with [].
	empty := State{Layers: map[ChannelLayer]ClipState{}}
	retractCmds := Diff(new, empty)
	require.Len(t, retractCmds, 1)
	lbEmpty, ok := retractCmds[0].Inner.(LoadBackgroundCmd)
	require.True(t, ok)
	assert.Equal(t, "", lbEmpty.Clip)

	wrappedRetract := tracker.wrapAndTrack(retractCmds, new, empty, 11150, true, 25)
	require.Len(t, wrappedRetract, 2)
	remove, ok := wrappedRetract[0].Inner.(ScheduleRemoveCmd)
	require.True(t, ok)
	assert.Equal(t, token, remove.Token)
	assert.IsType(t, LoadBackgroundCmd{}, wrappedRetract[1].Inner)
}

// Scenario 6: transitions — the enter play carries the in-transition; the
// scheduled exit carries the out-transition; exactly two commands.
func TestScenario6_TransitionsExactlyTwoCommands(t *testing.T) {
	in := &timeline.Transition{Type: timeline.TransitionMix, DurationMs: 1000, Easing: timeline.EasingLinear, Direction: timeline.DirectionLeft}
	out := &timeline.Transition{Type: timeline.TransitionMix, DurationMs: 1000, Easing: timeline.EasingLinear, Direction: timeline.DirectionRight}

	obj := resolver.ResolvedObject{
		ID: "objD", Layer: "layer0", StartMs: 10000, EndMs: 15000, HasEnd: true,
		Content: timeline.Content{
			DeviceType: "videoplayout", Payload: ClipPayload{Clip: "SHOW"},
			InTransition: in, OutTransition: out,
		},
	}
	states := []resolver.State{resolvedState(10000, obj)}
	new := Convert(states, 0, testTable(), "vp1", 10000, 25)

	cmds := Diff(State{Layers: map[ChannelLayer]ClipState{}}, new)
	require.Len(t, cmds, 2)

	play := cmds[0].Inner.(PlayCmd)
	require.NotNil(t, play.InTransition)
	assert.Equal(t, in, play.InTransition)

	exit := cmds[1].Inner.(ClearCmd)
	require.NotNil(t, exit.OutTransition)
	assert.Equal(t, out, exit.OutTransition)
	assert.Equal(t, int64(15000), cmds[1].ExecuteAt)
}

// Invariant 2: diff(s, s) is empty.
func TestInvariantDiffSelfIsEmpty(t *testing.T) {
	obj := resolver.ResolvedObject{
		ID: "objE", Layer: "layer0", StartMs: 0, EndMs: 5000, HasEnd: true,
		Content: timeline.Content{DeviceType: "videoplayout", Payload: ClipPayload{Clip: "X"}},
	}
	states := []resolver.State{resolvedState(1000, obj)}
	s := Convert(states, 0, testTable(), "vp1", 1000, 25)

	assert.Empty(t, Diff(s, s))
}

// Invariant 3: applying diff(a,b) then diff(b,c) in sequence leaves a
// simulated device in the same observable end state as applying diff(a,c)
// directly — verified via a tiny command interpreter rather than literal
// slice equality, since composed and fused diffs may legitimately emit a
// different number of intermediate (coalesced) commands.
func TestInvariantDiffComposability(t *testing.T) {
	a := State{Layers: map[ChannelLayer]ClipState{}}
	objB := resolver.ResolvedObject{
		ID: "objF", Layer: "layer0", StartMs: 0, EndMs: 5000, HasEnd: true,
		Content: timeline.Content{DeviceType: "videoplayout", Payload: ClipPayload{Clip: "Y"}},
	}
	b := Convert([]resolver.State{resolvedState(0, objB)}, 0, testTable(), "vp1", 0, 25)
	c := State{Layers: map[ChannelLayer]ClipState{}}

	composed := applyCmds(applyCmds(map[string]string{}, Diff(a, b)), Diff(b, c))
	direct := applyCmds(map[string]string{}, Diff(a, c))

	assert.Equal(t, direct, composed)
}

// applyCmds is a minimal device simulator tracking only "what clip is on
// air per layer", sufficient to compare two command sequences' externally
// observable end state.
func applyCmds(state map[string]string, cmds []device.Command) map[string]string {
	for _, cmd := range cmds {
		switch inner := cmd.Inner.(type) {
		case PlayCmd:
			state[cmd.Layer] = inner.Clip
		case ClearCmd:
			delete(state, cmd.Layer)
		case LoadBackgroundCmd:
			// background loads never reach air on their own.
		}
	}
	return state
}
