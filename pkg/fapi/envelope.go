package fapi

import (
	"bytes"
	"encoding/json"
)

// ErrorMeta is the optional metadata attached to an API error.
type ErrorMeta struct {
	ParamName      string   `json:"param_name,omitempty"`
	SessionID      string   `json:"session_id,omitempty"`
	EmailAddresses []string `json:"email_addresses,omitempty"`
}

// ErrorJSON is one entry of the "errors" array in a failed response.
type ErrorJSON struct {
	Code        string     `json:"code"`
	Message     string     `json:"message"`
	LongMessage string     `json:"long_message,omitempty"`
	Meta        *ErrorMeta `json:"meta,omitempty"`
}

// Meta holds out-of-band data some endpoints return next to errors.
type Meta struct {
	Client json.RawMessage `json:"client,omitempty"`
}

// ResponseJSON is the envelope every Frontend API response is decoded into.
type ResponseJSON struct {
	Response json.RawMessage `json:"response,omitempty"`
	Client   json.RawMessage `json:"client,omitempty"`
	Meta     *Meta           `json:"meta,omitempty"`
	Errors   []ErrorJSON     `json:"errors,omitempty"`

	raw     json.RawMessage
	wrapped bool
}

// Decode parses a response body into the envelope, keeping the raw bytes for
// servers that return the resource without a "response" key.
func Decode(data []byte) (*ResponseJSON, error) {
	var p ResponseJSON
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err == nil {
		_, p.wrapped = keys["response"]
	}
	p.raw = append(json.RawMessage(nil), data...)
	return &p, nil
}

// Resource returns the primary resource payload, or nil if there is none.
func (p *ResponseJSON) Resource() json.RawMessage {
	if p == nil {
		return nil
	}
	if p.wrapped {
		if isNull(p.Response) {
			return nil
		}
		return p.Response
	}
	if len(p.Errors) > 0 || isNull(p.raw) {
		return nil
	}
	return p.raw
}

// Wrapped reports whether the body had a top-level "response" key.
func (p *ResponseJSON) Wrapped() bool { return p != nil && p.wrapped }

// PiggybackedClient returns the client state carried alongside the resource,
// preferring the top-level key over meta.
func (p *ResponseJSON) PiggybackedClient() json.RawMessage {
	if p == nil {
		return nil
	}
	if !isNull(p.Client) {
		return p.Client
	}
	if p.Meta != nil && !isNull(p.Meta.Client) {
		return p.Meta.Client
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
