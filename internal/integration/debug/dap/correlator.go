package dap

import (
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"
)

// Callback receives the outcome of a request: the response body on success,
// an *ErrorResponse when the adapter refused, ErrTimeout when no response
// came in time, or ErrConnectionClosed.
type Callback func(body json.RawMessage, err error)

type pendingRequest struct {
	id       int
	command  string
	callback Callback
	timer    *time.Timer
	sent     time.Time
}

// correlator is the table of outstanding requests keyed by envelope ID.
// Every entry leaves the table exactly once, which is what makes each
// callback fire exactly once.
type correlator struct {
	nextID  int
	pending map[int]*pendingRequest
}

func (c *correlator) add(command string, cb Callback) *pendingRequest {
	if c.pending == nil {
		c.pending = make(map[int]*pendingRequest)
	}
	c.nextID++
	req := &pendingRequest{id: c.nextID, command: command, callback: cb, sent: time.Now()}
	c.pending[req.id] = req
	return req
}

func (c *correlator) take(id int) *pendingRequest {
	req, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	if req.timer != nil {
		req.timer.Stop()
	}
	return req
}

func (c *correlator) drain() []*pendingRequest {
	reqs := make([]*pendingRequest, 0, len(c.pending))
	for id := range c.pending {
		reqs = append(reqs, c.take(id))
	}
	return reqs
}

func (c *correlator) len() int {
	return len(c.pending)
}

// responseOutcome splits a whole DAP response into body or error.
func responseOutcome(command string, response json.RawMessage) (json.RawMessage, error) {
	r := gjson.ParseBytes(response)
	if r.Get("success").Bool() {
		return rawOf(r.Get("body")), nil
	}
	msg := r.Get("message").String()
	if msg == "" {
		msg = r.Get("body.error.format").String()
	}
	if msg == "" {
		msg = "request failed"
	}
	return nil, &ErrorResponse{Command: command, Message: msg, Body: rawOf(r.Get("body"))}
}
