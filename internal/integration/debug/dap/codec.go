package dap

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Kind is the shape of a generic envelope.
type Kind int

const (
	// KindRequest expects a response carrying the same ID.
	KindRequest Kind = iota
	// KindNotification is fire-and-forget. On the DAP wire it is an event.
	KindNotification
	// KindResponse answers a request.
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Envelope is the generic RPC message the rest of the client works with.
//
// For inbound responses Result holds the whole DAP response message, so
// success, message and body are all still available to the correlator.
type Envelope struct {
	Kind   Kind
	ID     int
	Method string
	Params json.RawMessage
	Result json.RawMessage
	Error  *ResponseError
}

// ResponseError is the failure half of an outbound response.
type ResponseError struct {
	Message string
	Data    json.RawMessage
}

type wireEvent struct {
	Type  string          `json:"type"`
	Seq   int             `json:"seq"`
	Event string          `json:"event"`
	Body  json.RawMessage `json:"body,omitempty"`
}

type wireRequest struct {
	Type      string          `json:"type"`
	Seq       int             `json:"seq"`
	Command   string          `json:"command"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type wireResponse struct {
	Type       string          `json:"type"`
	Seq        int             `json:"seq"`
	RequestSeq int             `json:"request_seq"`
	Command    string          `json:"command,omitempty"`
	Success    bool            `json:"success"`
	Message    string          `json:"message,omitempty"`
	Body       json.RawMessage `json:"body,omitempty"`
}

// Codec translates between Envelope and DAP messages for one connection.
//
// DAP wants a strictly increasing seq on every outbound message while the
// generic envelope only numbers requests. The codec derives seq as the last
// request ID sent plus the number of notifications and responses sent, and
// remembers which seq each request went out with so that the adapter's
// request_seq maps back to the envelope ID.
//
// A Codec is not safe for concurrent use.
type Codec struct {
	lastID int
	sent   int
	ids    map[int]int // seq -> ID
	seqs   map[int]int // ID -> seq
}

// Seq returns the seq the last encoded message carried.
func (c *Codec) Seq() int {
	return c.lastID + c.sent
}

// Encode renders env as a DAP message.
func (c *Codec) Encode(env *Envelope) ([]byte, error) {
	switch env.Kind {
	case KindNotification:
		c.sent++
		return json.Marshal(wireEvent{
			Type:  "event",
			Seq:   c.Seq(),
			Event: env.Method,
			Body:  env.Params,
		})
	case KindRequest:
		c.lastID = env.ID
		seq := c.Seq()
		if c.ids == nil {
			c.ids = make(map[int]int)
			c.seqs = make(map[int]int)
		}
		c.ids[seq] = env.ID
		c.seqs[env.ID] = seq
		return json.Marshal(wireRequest{
			Type:      "request",
			Seq:       seq,
			Command:   env.Method,
			Arguments: env.Params,
		})
	case KindResponse:
		c.sent++
		msg := wireResponse{
			Type:       "response",
			Seq:        c.Seq(),
			RequestSeq: env.ID,
			Command:    env.Method,
			Success:    env.Error == nil,
			Body:       env.Result,
		}
		if env.Error != nil {
			msg.Message = env.Error.Message
			msg.Body = env.Error.Data
		}
		return json.Marshal(msg)
	default:
		return nil, fmt.Errorf("encode %v: unknown envelope kind", env.Kind)
	}
}

// Decode parses one DAP message. Numeric fields sent as strings are
// coerced, since some adapters encode seq that way.
func (c *Codec) Decode(content []byte) (*Envelope, error) {
	if !gjson.ValidBytes(content) {
		return nil, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}
	msg := gjson.ParseBytes(content)

	switch msg.Get("type").String() {
	case "event":
		name := msg.Get("event").String()
		if name == "" {
			return nil, fmt.Errorf("%w: event without name", ErrMalformed)
		}
		return &Envelope{Kind: KindNotification, Method: name, Params: rawOf(msg.Get("body"))}, nil
	case "response":
		requestSeq := msg.Get("request_seq")
		if !requestSeq.Exists() {
			return nil, fmt.Errorf("%w: response without request_seq", ErrMalformed)
		}
		seq := int(requestSeq.Int())
		id, ok := c.ids[seq]
		if !ok {
			return nil, fmt.Errorf("%w: request_seq %d", ErrUnknownResponse, seq)
		}
		c.Forget(id)
		result := make(json.RawMessage, len(content))
		copy(result, content)
		return &Envelope{Kind: KindResponse, ID: id, Method: msg.Get("command").String(), Result: result}, nil
	}

	command := msg.Get("command")
	if !command.Exists() {
		return nil, fmt.Errorf("%w: no event, response or command", ErrMalformed)
	}
	return &Envelope{
		Kind:   KindRequest,
		ID:     int(msg.Get("seq").Int()),
		Method: command.String(),
		Params: rawOf(msg.Get("arguments")),
	}, nil
}

// Forget drops the seq mapping of request id, once it can no longer be
// answered.
func (c *Codec) Forget(id int) {
	seq, ok := c.seqs[id]
	if !ok {
		return
	}
	delete(c.seqs, id)
	delete(c.ids, seq)
}

// Outstanding returns the number of requests still mapped.
func (c *Codec) Outstanding() int {
	return len(c.ids)
}

func rawOf(r gjson.Result) json.RawMessage {
	if !r.Exists() || r.Type == gjson.Null {
		return nil
	}
	return json.RawMessage(r.Raw)
}
