package opencode

import (
	"encoding/json"
	"time"

	"github.com/agentrelay/agentrelay/core"
	"github.com/agentrelay/agentrelay/logging"
)

// wireEvent is the envelope the server pushes on the event stream. The type
// string doubles as the core.RuntimeEventKind; properties vary by type.
type wireEvent struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

type partUpdatedProps struct {
	Part struct {
		SessionID string `json:"sessionID"`
		Type      string `json:"type"`
		Text      string `json:"text"`
	} `json:"part"`
}

type messageUpdatedProps struct {
	Info struct {
		SessionID string `json:"sessionID"`
	} `json:"info"`
	Text string `json:"text"`
}

type sessionStatusProps struct {
	SessionID string `json:"sessionID"`
	Status    string `json:"status"`
}

type sessionIdleProps struct {
	SessionID string `json:"sessionID"`
}

type permissionProps struct {
	ID        string            `json:"id"`
	SessionID string            `json:"sessionID"`
	Title     string            `json:"title"`
	Metadata  map[string]string `json:"metadata"`
}

type sessionErrorProps struct {
	SessionID string `json:"sessionID"`
	Error     struct {
		Name string `json:"name"`
		Data struct {
			Message string `json:"message"`
		} `json:"data"`
	} `json:"error"`
}

// translateEvent decodes one wire event into a core.RuntimeEvent. Unknown
// types and non-text parts are skipped; they are other subscribers' concern.
func translateEvent(data []byte, logger logging.Logger) (core.RuntimeEvent, bool) {
	var env wireEvent
	if err := json.Unmarshal(data, &env); err != nil {
		logger.Warn("undecodable runtime event", "error", err)
		return core.RuntimeEvent{}, false
	}

	switch core.RuntimeEventKind(env.Type) {
	case core.RuntimeMessageDelta:
		var p partUpdatedProps
		if err := json.Unmarshal(env.Properties, &p); err != nil || p.Part.Type != "text" {
			return core.RuntimeEvent{}, false
		}
		return core.RuntimeEvent{Kind: core.RuntimeMessageDelta, SessionID: p.Part.SessionID, Text: p.Part.Text}, true

	case core.RuntimeMessageUpdated:
		var p messageUpdatedProps
		if err := json.Unmarshal(env.Properties, &p); err != nil {
			return core.RuntimeEvent{}, false
		}
		return core.RuntimeEvent{Kind: core.RuntimeMessageUpdated, SessionID: p.Info.SessionID, Text: p.Text}, true

	case core.RuntimeSessionStatus:
		var p sessionStatusProps
		if err := json.Unmarshal(env.Properties, &p); err != nil {
			return core.RuntimeEvent{}, false
		}
		return core.RuntimeEvent{Kind: core.RuntimeSessionStatus, SessionID: p.SessionID, Status: p.Status}, true

	case core.RuntimeSessionIdle:
		var p sessionIdleProps
		if err := json.Unmarshal(env.Properties, &p); err != nil {
			return core.RuntimeEvent{}, false
		}
		return core.RuntimeEvent{Kind: core.RuntimeSessionIdle, SessionID: p.SessionID}, true

	case core.RuntimePermissionUpdated:
		var p permissionProps
		if err := json.Unmarshal(env.Properties, &p); err != nil {
			return core.RuntimeEvent{}, false
		}
		return core.RuntimeEvent{
			Kind:      core.RuntimePermissionUpdated,
			SessionID: p.SessionID,
			Permission: &core.Permission{
				ID:        p.ID,
				Title:     p.Title,
				Metadata:  p.Metadata,
				SessionID: p.SessionID,
				Requested: time.Now(),
			},
		}, true

	case core.RuntimeSessionError:
		var p sessionErrorProps
		if err := json.Unmarshal(env.Properties, &p); err != nil {
			return core.RuntimeEvent{}, false
		}
		msg := p.Error.Data.Message
		if msg == "" {
			msg = p.Error.Name
		}
		return core.RuntimeEvent{Kind: core.RuntimeSessionError, SessionID: p.SessionID, Error: msg}, true

	default:
		return core.RuntimeEvent{}, false
	}
}
