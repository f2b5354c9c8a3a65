package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CommandRequest is a control message: a command verb plus the option
// fields that accompany it. Requests arrive as a flat JSON object, so
// the envelope and the option are decoded from the same bytes.
type CommandRequest struct {
	Command string
	Option
}

type commandEnvelope struct {
	Command string `json:"command"`
}

func (r *CommandRequest) UnmarshalJSON(data []byte) error {
	var env commandEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode command: %w", err)
	}
	if err := json.Unmarshal(data, &r.Option); err != nil {
		return fmt.Errorf("decode command option: %w", err)
	}
	r.Command = strings.TrimSpace(env.Command)
	return nil
}

func (r CommandRequest) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(r.Option)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	m["command"] = r.Command
	return json.Marshal(m)
}
