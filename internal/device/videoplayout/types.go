// Package videoplayout is a representative device adapter: a
// CasparCG/AMCP-flavored video playout server. It implements
// scheduling-aware diffing, timecode conversion, transitions/keyframes,
// lookahead pairing and seek — the full device-state-diff policy.
//
// Grounded on internal/sonos/play.go's PlayService (device-specific
// play/stop/seek command construction from a content payload) and
// internal/sonos/soap/client.go's small line-protocol Client, re-expressed
// here as a TCP/AMCP client instead of SOAP-over-HTTP.
package videoplayout

import (
	"fmt"

	"github.com/strefethen/playout-conductor/internal/timeline"
)

// ChannelLayer addresses one mixer layer on one output channel — the
// channel+layer routing convention of a video mixer's device-specific
// mapping.
type ChannelLayer struct {
	Channel int
	Layer   int
}

// String renders a ChannelLayer as the command's Layer attribution string.
func (cl ChannelLayer) String() string {
	return fmt.Sprintf("ch%d-layer%d", cl.Channel, cl.Layer)
}

// ClipPayload is the device-specific content a timeline object carries
// when its Content.DeviceType is "videoplayout". It is what
// timeline.Content.Payload holds, asserted by Convert.
type ClipPayload struct {
	Clip string

	// Loop plays the clip on repeat instead of stopping at its end.
	Loop bool

	// IsLiveInput marks an IP/decklink input: not seekable, never paused.
	IsLiveInput bool

	// LengthUnknown marks looping media whose total length the adapter
	// cannot determine; seek defaults to 0 for these.
	LengthUnknown bool

	// NoClear suppresses the otherwise-automatic clear command that would
	// fire when this object's enable window ends.
	NoClear bool
}

// ClipState is the resolved, idempotent description of what one mixer
// layer should currently be showing.
type ClipState struct {
	Empty bool

	Clip    ClipPayload
	SeekFrm int

	InTransition  *timeline.Transition
	OutTransition *timeline.Transition

	// Background holds a lookahead-loaded clip paired with this layer's
	// eventual foreground play.
	Background *ClipPayload

	// ExitAtMs/HasExit carry this object's own known end time so Diff can
	// bake a future Clear (or ScheduleSet-wrapped Clear) in the same pass,
	// rather than waiting for a separate tick at the boundary.
	ExitAtMs int64
	HasExit  bool

	// pendingPlay pairs a lookahead's Background with the future Play it is
	// preloading for, discovered by
	// peeking forward through the tick's look-ahead window.
	pendingPlay *PendingPlay

	// sourceObjID attributes this layer state to the timeline object that
	// produced it, for command-with-context attribution.
	sourceObjID string
}

// State is the full device-idempotent description for every mapped
// channel+layer.
type State struct {
	Layers map[ChannelLayer]ClipState
}

// DefaultState is the well-defined empty state every adapter must provide
//.
func DefaultState() State {
	return State{Layers: map[ChannelLayer]ClipState{}}
}

// Kind tags a command for the command audit trail and the control API; it
// is not consulted by the diff algorithm itself.
type Kind string

const (
	KindPlay           Kind = "PLAY"
	KindClear          Kind = "CLEAR"
	KindLoadBackground Kind = "LOAD_BACKGROUND"
	KindScheduleSet    Kind = "SCHEDULE_SET"
	KindScheduleRemove Kind = "SCHEDULE_REMOVE"
)

// Kinded is implemented by every command type videoplayout emits, letting
// the audit trail and control API classify a command without a type switch
// of their own.
type Kinded interface {
	Kind() Kind
}

// PlayCmd starts or restarts playback on a channel+layer.
type PlayCmd struct {
	ChannelLayer  ChannelLayer
	Clip          string
	Loop          bool
	Seek          int
	NoClear       bool
	InTransition  *timeline.Transition
	OutTransition *timeline.Transition
}

func (PlayCmd) Kind() Kind { return KindPlay }

// ClearCmd stops playback and clears a channel+layer, optionally carrying
// an out-transition to play before cutting.
type ClearCmd struct {
	ChannelLayer  ChannelLayer
	OutTransition *timeline.Transition
}

func (ClearCmd) Kind() Kind { return KindClear }

// LoadBackgroundCmd preloads media onto a channel+layer's background
// buffer without playing it. A clip of
// "" represents EMPTY, used when retracting a paired play.
type LoadBackgroundCmd struct {
	ChannelLayer ChannelLayer
	Clip         string
}

func (LoadBackgroundCmd) Kind() Kind { return KindLoadBackground }

// ScheduleSetCmd wraps an inner command to run on-device at Timecode,
// returned as Token so a later diff can retract it with ScheduleRemoveCmd
//.
type ScheduleSetCmd struct {
	Token    string
	Timecode string
	Inner    any
}

func (ScheduleSetCmd) Kind() Kind { return KindScheduleSet }

// ScheduleRemoveCmd retracts a previously emitted ScheduleSetCmd by token.
type ScheduleRemoveCmd struct {
	Token string
}

func (ScheduleRemoveCmd) Kind() Kind { return KindScheduleRemove }
