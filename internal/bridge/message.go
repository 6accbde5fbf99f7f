package bridge

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dmdmdm-nz/netstatusd/internal/connectivity"
)

// PluginName is the name web code uses to address this plugin.
const PluginName = "networkStatus"

// Envelope types.
const (
	TypePlugin   = "plugin"
	TypeCallback = "callback"
)

// Actions understood or emitted by the plugin.
const (
	ActionGetState              = "getState"
	ActionGetType               = "getType"
	ActionStartStatusMonitoring = "startStatusMonitoring"
	ActionStopStatusMonitoring  = "stopStatusMonitoring"
	ActionOnStatusChanged       = "onStatusChanged"
)

var (
	// ErrMalformed is returned for messages that are not valid JSON objects,
	// miss a required field or are addressed to another plugin.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownAction is returned for well-formed messages with an action
	// the plugin does not implement.
	ErrUnknownAction = errors.New("unknown action")

	errMissingCallback = errors.New("callback field missing")
)

// Envelope is the JSON frame exchanged with the web layer in both
// directions.
type Envelope struct {
	Type     string `json:"type,omitempty"`
	Name     string `json:"name,omitempty"`
	Action   string `json:"action,omitempty"`
	Callback string `json:"callback,omitempty"`
	Data     any    `json:"data,omitempty"`
}

// Request is one of GetState, GetType, StartStatusMonitoring or
// StopStatusMonitoring.
type Request interface {
	Action() string
	isRequest()
}

// GetState asks for the current connectivity state.
type GetState struct {
	Callback string
}

// GetType asks for the current transport type.
type GetType struct {
	Callback string
}

// StartStatusMonitoring enables onStatusChanged pushes.
type StartStatusMonitoring struct{}

// StopStatusMonitoring disables onStatusChanged pushes.
type StopStatusMonitoring struct{}

func (GetState) Action() string              { return ActionGetState }
func (GetType) Action() string               { return ActionGetType }
func (StartStatusMonitoring) Action() string { return ActionStartStatusMonitoring }
func (StopStatusMonitoring) Action() string  { return ActionStopStatusMonitoring }

func (GetState) isRequest()              {}
func (GetType) isRequest()               {}
func (StartStatusMonitoring) isRequest() {}
func (StopStatusMonitoring) isRequest()  {}

// inbound mirrors Envelope with strictly typed fields so that a non-string
// action or callback fails to decode.
type inbound struct {
	Type     string          `json:"type"`
	Name     string          `json:"name"`
	Action   *string         `json:"action"`
	Callback *string         `json:"callback"`
	Data     json.RawMessage `json:"data"`
}

// DecodeRequest parses a frame from the web layer.
func DecodeRequest(b []byte) (Request, error) {
	var msg inbound
	if err := json.Unmarshal(b, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if msg.Name != "" && msg.Name != PluginName {
		return nil, fmt.Errorf("%w: addressed to plugin %q", ErrMalformed, msg.Name)
	}
	if msg.Action == nil || *msg.Action == "" {
		return nil, fmt.Errorf("%w: action field missing", ErrMalformed)
	}

	callback := func() (string, error) {
		if msg.Callback == nil || *msg.Callback == "" {
			return "", fmt.Errorf("%w: %w for %s", ErrMalformed, errMissingCallback, *msg.Action)
		}
		return *msg.Callback, nil
	}

	switch *msg.Action {
	case ActionGetState:
		cb, err := callback()
		if err != nil {
			return nil, err
		}
		return GetState{Callback: cb}, nil
	case ActionGetType:
		cb, err := callback()
		if err != nil {
			return nil, err
		}
		return GetType{Callback: cb}, nil
	case ActionStartStatusMonitoring:
		return StartStatusMonitoring{}, nil
	case ActionStopStatusMonitoring:
		return StopStatusMonitoring{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, *msg.Action)
	}
}

// StateResponse is the callback payload for getState.
type StateResponse struct {
	State connectivity.State `json:"state"`
}

// TypeResponse is the callback payload for getType.
type TypeResponse struct {
	Type connectivity.Type `json:"type"`
}

// CallbackEnvelope answers a request identified by callback.
func CallbackEnvelope(callback string, data any) Envelope {
	return Envelope{
		Type:     TypeCallback,
		Callback: callback,
		Data:     data,
	}
}

// StatusChangedEnvelope is the push sent on every connectivity change while
// monitoring.
func StatusChangedEnvelope(status connectivity.Status) Envelope {
	return Envelope{
		Type:   TypePlugin,
		Name:   PluginName,
		Action: ActionOnStatusChanged,
		Data:   status,
	}
}
