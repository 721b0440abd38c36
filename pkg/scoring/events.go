// Package scoring implements the behavioral side of the engine: the event
// rule engine, the suspicious-pattern detector, and the score combiner that
// owns per-session risk state.
package scoring

import "time"

// EventType is the closed enumeration of known telemetry events. Unknown
// types are retained but contribute zero score.
type EventType string

const (
	EventDevTools   EventType = "devtools_detected"
	EventExtension  EventType = "extension_detected"
	EventPaste      EventType = "clipboard_paste"
	EventCopy       EventType = "clipboard_copy"
	EventCut        EventType = "clipboard_cut"
	EventTabSwitch  EventType = "tab_switch"
	EventVisibility EventType = "visibility_change"
	EventFace       EventType = "face_detection"
)

// Event is one behavioral telemetry record. Immutable once recorded;
// append-only per session. Timestamp is unix milliseconds - ordering matters
// for pattern detection.
type Event struct {
	SessionID string         `json:"session_id"`
	Type      EventType      `json:"event_type"`
	Timestamp int64          `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Time returns the event timestamp as time.Time.
func (e Event) Time() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// metaFloat reads a numeric metadata field. JSON decoding yields float64 for
// numbers; ints appear when events are constructed in-process.
func metaFloat(meta map[string]any, key string) float64 {
	if meta == nil {
		return 0
	}
	switch v := meta[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	if s, ok := meta[key].(string); ok {
		return s
	}
	return ""
}
