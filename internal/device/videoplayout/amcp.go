package videoplayout

import (
	"fmt"
	"strings"

	"github.com/strefethen/playout-conductor/internal/timeline"
)

// encodeCommand renders a device-specific command into the AMCP-flavored
// line protocol Client.Send speaks. Scheduling wrappers recurse into their
// Inner command and splice in the SCHEDULE verb.
func encodeCommand(cmd any) (string, error) {
	switch c := cmd.(type) {
	case PlayCmd:
		return encodePlay(c), nil
	case ClearCmd:
		return encodeClear(c), nil
	case LoadBackgroundCmd:
		return encodeLoadBackground(c), nil
	case ScheduleSetCmd:
		inner, err := encodeCommand(c.Inner)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("SCHEDULE SET %s %s %s", c.Token, c.Timecode, inner), nil
	case ScheduleRemoveCmd:
		return fmt.Sprintf("SCHEDULE REMOVE %s", c.Token), nil
	default:
		return "", fmt.Errorf("videoplayout: unencodable command %T", cmd)
	}
}

func encodePlay(c PlayCmd) string {
	var b strings.Builder
	fmt.Fprintf(&b, "PLAY %d-%d \"%s\"", c.ChannelLayer.Channel, c.ChannelLayer.Layer, c.Clip)
	if c.Loop {
		b.WriteString(" LOOP")
	}
	if c.Seek > 0 {
		fmt.Fprintf(&b, " SEEK %d", c.Seek)
	}
	if c.NoClear {
		b.WriteString(" NOCLEAR")
	}
	if c.InTransition != nil {
		fmt.Fprintf(&b, " %s", encodeTransition(c.InTransition))
	}
	return b.String()
}

func encodeClear(c ClearCmd) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CLEAR %d-%d", c.ChannelLayer.Channel, c.ChannelLayer.Layer)
	if c.OutTransition != nil {
		fmt.Fprintf(&b, " %s", encodeTransition(c.OutTransition))
	}
	return b.String()
}

func encodeLoadBackground(c LoadBackgroundCmd) string {
	if c.Clip == "" {
		return fmt.Sprintf("LOADBG %d-%d EMPTY", c.ChannelLayer.Channel, c.ChannelLayer.Layer)
	}
	return fmt.Sprintf("LOADBG %d-%d \"%s\"", c.ChannelLayer.Channel, c.ChannelLayer.Layer, c.Clip)
}

func encodeTransition(t *timeline.Transition) string {
	return fmt.Sprintf("%s %d %s %s", t.Type, t.DurationMs, t.Easing, t.Direction)
}
