package host

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Control message types sent by the media host
const (
	MsgOpen             = "open"
	MsgParam            = "param"
	MsgStartInputTimers = "start_input_timers"
	MsgPause            = "pause"
	MsgResume           = "resume"
	MsgLoadGrammar      = "load_grammar"
	MsgUnloadGrammar    = "unload_grammar"
	MsgClose            = "close"
)

// ControlMessage is a text frame from the media host. Only the fields
// relevant to Type are set.
type ControlMessage struct {
	Type string `mapstructure:"type"`

	// open
	Codec       string            `mapstructure:"codec"`
	Rate        int               `mapstructure:"rate"`
	Destination string            `mapstructure:"destination"`
	AutoResume  bool              `mapstructure:"auto_resume"`
	ChannelUUID string            `mapstructure:"channel_uuid"`
	Params      map[string]string `mapstructure:"params"`

	// param
	Name  string `mapstructure:"name"`
	Value string `mapstructure:"value"`

	// load_grammar
	Grammar string `mapstructure:"grammar"`
}

// DecodeControl parses a host control frame. Values are weakly typed so a
// host may send "rate":"8000" or "value":3000.
func DecodeControl(data []byte) (*ControlMessage, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("invalid control message: %w", err)
	}

	var msg ControlMessage
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		Result:           &msg,
		WeaklyTypedInput: true,
		MatchName: func(mapKey, fieldName string) bool {
			return normalizeKey(mapKey) == normalizeKey(fieldName)
		},
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode control message: %w", err)
	}

	msg.Type = strings.ToLower(msg.Type)
	if msg.Type == "" {
		return nil, fmt.Errorf("control message without type")
	}
	return &msg, nil
}

func normalizeKey(value string) string {
	value = strings.ToLower(value)
	value = strings.ReplaceAll(value, "_", "")
	value = strings.ReplaceAll(value, "-", "")
	return value
}

// OutboundMessage is a text frame sent back to the media host
type OutboundMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Codec     string `json:"codec,omitempty"`
	Rate      int    `json:"rate,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Payload   string `json:"payload,omitempty"`
	Error     string `json:"error,omitempty"`
}
