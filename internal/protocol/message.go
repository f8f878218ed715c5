// Package protocol defines the update messages exchanged between the
// livedev broadcast server and client runtimes, together with their JSON
// wire encoding.
//
// Every message is a single JSON object whose "type" field selects the
// variant:
//
//	{"type":"reload","reason":"src/index.html"}
//	{"type":"update","moduleId":"src/App","payload":"..."}
//	{"type":"error","detail":"src/App.tsx:3:7: ERROR: ..."}
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Wire discriminators.
const (
	TypeReload = "reload"
	TypeUpdate = "update"
	TypeError  = "error"
)

// ErrUnknownType is returned by Decode for a message whose type field does
// not name a known variant.
var ErrUnknownType = errors.New("unknown message type")

// Message is one update notification. The interface is sealed: Reload,
// ModuleUpdate and BuildError are its only implementations.
type Message interface {
	// Type returns the wire discriminator of the variant.
	Type() string

	sealed()
}

// Reload forces a full page reload.
type Reload struct {
	// Reason is the path whose change made a scoped update impossible.
	Reason string
}

// ModuleUpdate carries new code for a single module.
type ModuleUpdate struct {
	ModuleID string
	Payload  string
}

// BuildError reports a failed rebuild. The served artifact is unchanged.
type BuildError struct {
	Detail string
}

func (Reload) Type() string       { return TypeReload }
func (ModuleUpdate) Type() string { return TypeUpdate }
func (BuildError) Type() string   { return TypeError }

func (Reload) sealed()       {}
func (ModuleUpdate) sealed() {}
func (BuildError) sealed()   {}

// envelope is the flat JSON shape shared by all variants.
type envelope struct {
	Type     string `json:"type"`
	Reason   string `json:"reason,omitempty"`
	ModuleID string `json:"moduleId,omitempty"`
	Payload  string `json:"payload,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Encode serializes msg into its wire form.
func Encode(msg Message) ([]byte, error) {
	var env envelope

	switch m := msg.(type) {
	case Reload:
		env = envelope{Type: TypeReload, Reason: m.Reason}
	case ModuleUpdate:
		env = envelope{Type: TypeUpdate, ModuleID: m.ModuleID, Payload: m.Payload}
	case BuildError:
		env = envelope{Type: TypeError, Detail: m.Detail}
	case nil:
		return nil, errors.New("encoding message: nil message")
	default:
		return nil, fmt.Errorf("encoding message: unsupported variant %T", msg)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}

	return data, nil
}

// Decode parses a wire message. Update messages without a module id are
// rejected.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding message: %w", err)
	}

	switch env.Type {
	case TypeReload:
		return Reload{Reason: env.Reason}, nil
	case TypeUpdate:
		if env.ModuleID == "" {
			return nil, errors.New("decoding message: update without moduleId")
		}

		return ModuleUpdate{ModuleID: env.ModuleID, Payload: env.Payload}, nil
	case TypeError:
		return BuildError{Detail: env.Detail}, nil
	default:
		return nil, fmt.Errorf("decoding message: %w %q", ErrUnknownType, env.Type)
	}
}
