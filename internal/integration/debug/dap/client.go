package dap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/timcharper/dape/internal/logflags"
)

// DefaultTimeout bounds how long a request waits for its response.
const DefaultTimeout = 10 * time.Second

// Handler receives everything the adapter initiates. Its methods run on
// the client's loop.
type Handler interface {
	// HandleEvent is called for every adapter event.
	HandleEvent(c *Client, event string, body json.RawMessage)

	// HandleRequest is called for reverse requests. The handler must
	// answer with c.Reply.
	HandleRequest(c *Client, req *Envelope)

	// HandleClose is called once when the connection goes away. err is
	// nil when Close was called locally.
	HandleClose(c *Client, err error)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the per-request response timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithTimeoutNotice sets a function called with the command name whenever
// a request times out, before its callback runs.
func WithTimeoutNotice(fn func(command string)) ClientOption {
	return func(c *Client) {
		c.onTimeout = fn
	}
}

// Client is one DAP connection: a transport, the codec state for it, and
// the table of outstanding requests.
//
// Except for Start and Call, Client methods must be called on the loop.
type Client struct {
	loop      *Loop
	transport Transport
	handler   Handler
	codec     Codec
	requests  correlator

	timeout   time.Duration
	onTimeout func(command string)

	closed bool
	log    *logrus.Entry
}

// NewClient creates a client for transport. Call Start to begin reading.
func NewClient(loop *Loop, transport Transport, handler Handler, opts ...ClientOption) *Client {
	c := &Client{
		loop:      loop,
		transport: transport,
		handler:   handler,
		timeout:   DefaultTimeout,
		log:       logflags.TransportLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start launches the goroutine that reads from the transport.
func (c *Client) Start() {
	go c.receiveLoop()
}

// Loop returns the loop the client runs on.
func (c *Client) Loop() *Loop {
	return c.loop
}

func (c *Client) receiveLoop() {
	for {
		content, err := c.transport.ReadMessage()
		if err != nil {
			c.loop.Do(func() { c.shutdown(err) })
			return
		}
		if !c.loop.Do(func() { c.dispatch(content) }) {
			_ = c.transport.Close()
			return
		}
	}
}

func (c *Client) dispatch(content []byte) {
	if c.closed {
		return
	}
	if logflags.Transport() {
		c.log.Debugf("<- %s", content)
	}

	env, err := c.codec.Decode(content)
	if errors.Is(err, ErrUnknownResponse) {
		c.log.Debugf("dropping message: %v", err)
		return
	}
	if err != nil {
		c.log.Warnf("dropping message: %v", err)
		return
	}

	switch env.Kind {
	case KindResponse:
		req := c.requests.take(env.ID)
		if req == nil {
			c.log.Debugf("ignoring response to unknown or expired request %d", env.ID)
			return
		}
		body, err := responseOutcome(req.command, env.Result)
		if req.callback != nil {
			req.callback(body, err)
		}
	case KindNotification:
		c.handler.HandleEvent(c, env.Method, env.Params)
	case KindRequest:
		c.handler.HandleRequest(c, env)
	}
}

// Request sends command with arguments and arranges for cb to run exactly
// once with the outcome. cb may be nil. cb never runs before Request
// returns.
func (c *Client) Request(command string, arguments any, cb Callback) {
	fail := func(err error) {
		if cb != nil {
			c.loop.Do(func() { cb(nil, err) })
		}
	}
	if c.closed {
		fail(ErrConnectionClosed)
		return
	}
	params, err := marshalParams(arguments)
	if err != nil {
		fail(fmt.Errorf("%s: %w", command, err))
		return
	}

	req := c.requests.add(command, cb)
	if err := c.send(&Envelope{Kind: KindRequest, ID: req.id, Method: command, Params: params}); err != nil {
		c.requests.take(req.id)
		c.codec.Forget(req.id)
		fail(err)
		c.shutdown(err)
		return
	}
	req.timer = time.AfterFunc(c.timeout, func() {
		c.loop.Do(func() { c.expire(req.id) })
	})
}

func (c *Client) expire(id int) {
	req := c.requests.take(id)
	if req == nil {
		return
	}
	c.codec.Forget(id)
	c.log.Warnf("%s request timed out after %s", req.command, c.timeout)
	if c.onTimeout != nil {
		c.onTimeout(req.command)
	}
	if req.callback != nil {
		req.callback(nil, ErrTimeout)
	}
}

// Notify sends an event to the adapter.
func (c *Client) Notify(event string, body any) error {
	if c.closed {
		return ErrConnectionClosed
	}
	params, err := marshalParams(body)
	if err != nil {
		return fmt.Errorf("%s: %w", event, err)
	}
	return c.send(&Envelope{Kind: KindNotification, Method: event, Params: params})
}

// Reply answers the reverse request req. A non-nil err sends a failure
// response carrying err's message.
func (c *Client) Reply(req *Envelope, result any, err error) error {
	if c.closed {
		return ErrConnectionClosed
	}
	resp := &Envelope{Kind: KindResponse, ID: req.ID, Method: req.Method}
	if err != nil {
		resp.Error = &ResponseError{Message: err.Error()}
	} else {
		params, merr := marshalParams(result)
		if merr != nil {
			return fmt.Errorf("%s: %w", req.Method, merr)
		}
		resp.Result = params
	}
	return c.send(resp)
}

func (c *Client) send(env *Envelope) error {
	content, err := c.codec.Encode(env)
	if err != nil {
		return err
	}
	if logflags.Transport() {
		c.log.Debugf("-> %s", content)
	}
	if err := c.transport.WriteMessage(content); err != nil {
		return fmt.Errorf("write %s: %w", env.Method, err)
	}
	return nil
}

// Pending returns the number of requests awaiting a response.
func (c *Client) Pending() int {
	return c.requests.len()
}

// Closed reports whether the connection has shut down.
func (c *Client) Closed() bool {
	return c.closed
}

// Close shuts the connection down. Pending requests resolve with
// ErrConnectionClosed.
func (c *Client) Close() {
	c.shutdown(nil)
}

func (c *Client) shutdown(err error) {
	if c.closed {
		return
	}
	c.closed = true
	if err != nil {
		c.log.Debugf("connection lost: %v", err)
	}
	if cerr := c.transport.Close(); cerr != nil {
		c.log.Debugf("close transport: %v", cerr)
	}
	for _, req := range c.requests.drain() {
		c.codec.Forget(req.id)
		if req.callback != nil {
			req.callback(nil, ErrConnectionClosed)
		}
	}
	c.handler.HandleClose(c, err)
}

// Call sends a request from outside the loop and waits for its outcome.
func (c *Client) Call(ctx context.Context, command string, arguments any) (json.RawMessage, error) {
	type outcome struct {
		body json.RawMessage
		err  error
	}
	ch := make(chan outcome, 1)
	if !c.loop.Do(func() {
		c.Request(command, arguments, func(body json.RawMessage, err error) {
			ch <- outcome{body, err}
		})
	}) {
		return nil, ErrConnectionClosed
	}
	select {
	case o := <-ch:
		return o.body, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func marshalParams(v any) (json.RawMessage, error) {
	switch p := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(v)
	}
}

// Unmarshal decodes a body into v. An absent body leaves v untouched.
func Unmarshal(body json.RawMessage, v any) error {
	if len(body) == 0 || string(body) == "null" {
		return nil
	}
	return json.Unmarshal(body, v)
}
