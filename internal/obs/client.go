// Package obs owns the single logical connection to the external OBS
// instance, speaking the obs-websocket v5 protocol. Command
// acknowledgements from OBS do not guarantee the underlying file is
// finalized; callers that touch the output file must wait out their own
// finalization delay after a stop.
package obs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrNotConnected is returned for any command issued while the
	// device session is not established.
	ErrNotConnected = errors.New("obs: not connected")

	// ErrNotRecording is returned by StopRecord when the device has no
	// active recording.
	ErrNotRecording = errors.New("obs: no active recording")
)

// RequestError is a protocol-level rejection from the device.
type RequestError struct {
	RequestType string
	Code        int
	Comment     string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("obs: %s failed with code %d: %s", e.RequestType, e.Code, e.Comment)
}

const callTimeout = 10 * time.Second

// Client is the device connector. All methods are safe for concurrent
// use; requests are matched to responses by request id.
type Client struct {
	url          string
	password     string
	overlayInput string
	log          *slog.Logger
	onReconnect  func()

	mu      sync.Mutex
	conn    *websocket.Conn
	state   ConnectionState
	pending map[string]chan responseData
	nextID  uint64
}

// Option configures a Client.
type Option func(*Client)

// WithOverlayInput names the OBS text input SetOverlayText writes to.
func WithOverlayInput(name string) Option {
	return func(c *Client) { c.overlayInput = name }
}

// WithLogger sets the client logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithReconnectHook registers fn to run after each successful connect,
// e.g. to bump a metrics counter.
func WithReconnectHook(fn func()) Option {
	return func(c *Client) { c.onReconnect = fn }
}

// NewClient builds a client for the obs-websocket endpoint at addr
// ("host:port"). No connection is attempted until Connect.
func NewClient(addr, password string, opts ...Option) *Client {
	c := &Client{
		url:          "ws://" + addr,
		password:     password,
		overlayInput: "overlay-text",
		log:          slog.Default(),
		pending:      make(map[string]chan responseData),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// State reports the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect establishes the device session. It is idempotent: calling it
// while connected is a no-op. A failure leaves the client disconnected
// and is safe to retry.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.mu.Unlock()

	conn, err := c.handshake(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.mu.Unlock()

	go c.readLoop(conn)
	if c.onReconnect != nil {
		c.onReconnect()
	}
	return nil
}

// handshake dials the endpoint and completes the Hello/Identify
// exchange, including challenge authentication when the server
// requires it.
func (c *Client) handshake(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("obs: dial %s: %w", c.url, err)
	}

	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		conn.Close()
		return nil, fmt.Errorf("obs: read hello: %w", err)
	}
	if env.Op != opHello {
		conn.Close()
		return nil, fmt.Errorf("obs: expected hello, got op %d", env.Op)
	}
	var hello helloData
	if err := json.Unmarshal(env.D, &hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("obs: decode hello: %w", err)
	}

	identify := identifyData{RPCVersion: rpcVersion}
	if hello.Authentication != nil {
		identify.Authentication = authToken(c.password, hello.Authentication.Salt, hello.Authentication.Challenge)
	}
	out, err := marshalEnvelope(opIdentify, identify)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.WriteJSON(out); err != nil {
		conn.Close()
		return nil, fmt.Errorf("obs: write identify: %w", err)
	}

	for {
		if err := conn.ReadJSON(&env); err != nil {
			conn.Close()
			return nil, fmt.Errorf("obs: awaiting identified: %w", err)
		}
		if env.Op == opIdentified {
			return conn, nil
		}
	}
}

// readLoop owns the read side of conn until the transport fails, then
// tears the session down and fails every in-flight request.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.teardown(conn, err)
			return
		}
		if env.Op != opRequestResponse {
			continue
		}
		var resp responseData
		if err := json.Unmarshal(env.D, &resp); err != nil {
			c.log.Warn("obs: undecodable response", slog.String("error", err.Error()))
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.RequestID]
		if ok {
			delete(c.pending, resp.RequestID)
		}
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// teardown marks the session disconnected if conn is still the live
// connection. Pending calls get an ErrNotConnected via closed channels.
func (c *Client) teardown(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.state = StateDisconnected
	stale := c.pending
	c.pending = make(map[string]chan responseData)
	c.mu.Unlock()

	conn.Close()
	for _, ch := range stale {
		close(ch)
	}
	c.log.Warn("obs: connection lost", slog.String("error", cause.Error()))
}

// Close drops the session. A background RetryLoop, if running, will
// reconnect.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		c.teardown(conn, errors.New("closed by caller"))
	}
}

// RetryLoop reconnects in the background whenever the session drops,
// retrying at the given interval until a connect succeeds, then going
// quiet until the next disconnect. It returns when ctx is done.
func (c *Client) RetryLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if c.State() == StateDisconnected {
			if err := c.Connect(ctx); err != nil {
				c.log.Warn("obs: connect failed, will retry",
					slog.String("error", err.Error()),
					slog.Duration("retry_in", interval),
				)
			} else {
				c.log.Info("obs: connected", slog.String("url", c.url))
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// call issues one request and decodes its responseData into out (which
// may be nil when the response carries no payload).
func (c *Client) call(ctx context.Context, requestType string, data, out any) error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.nextID++
	id := strconv.FormatUint(c.nextID, 10)
	ch := make(chan responseData, 1)
	c.pending[id] = ch

	env, err := marshalEnvelope(opRequest, requestData{
		RequestType: requestType,
		RequestID:   id,
		RequestData: data,
	})
	if err == nil {
		// Writes are serialized under c.mu; gorilla connections do not
		// allow concurrent writers.
		err = conn.WriteJSON(env)
	}
	if err != nil {
		delete(c.pending, id)
		c.mu.Unlock()
		c.teardown(conn, err)
		return ErrNotConnected
	}
	c.mu.Unlock()

	timer := time.NewTimer(callTimeout)
	defer timer.Stop()
	select {
	case resp, ok := <-ch:
		if !ok {
			return ErrNotConnected
		}
		if !resp.RequestStatus.Result {
			return &RequestError{
				RequestType: requestType,
				Code:        resp.RequestStatus.Code,
				Comment:     resp.RequestStatus.Comment,
			}
		}
		if out != nil && len(resp.ResponseData) > 0 {
			return json.Unmarshal(resp.ResponseData, out)
		}
		return nil
	case <-timer.C:
		c.forget(id)
		return fmt.Errorf("obs: %s timed out", requestType)
	case <-ctx.Done():
		c.forget(id)
		return ctx.Err()
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// Status returns whether the device is currently recording.
func (c *Client) Status(ctx context.Context) (RecordStatus, error) {
	var resp struct {
		OutputActive   bool    `json:"outputActive"`
		OutputPaused   bool    `json:"outputPaused"`
		OutputTimecode string  `json:"outputTimecode"`
		OutputDuration float64 `json:"outputDuration"`
	}
	if err := c.call(ctx, "GetRecordStatus", nil, &resp); err != nil {
		return RecordStatus{}, err
	}
	return RecordStatus{
		Active:   resp.OutputActive,
		Paused:   resp.OutputPaused,
		Timecode: resp.OutputTimecode,
		Seconds:  resp.OutputDuration / 1000,
	}, nil
}

// StartRecord points the device's record output at dir/filename and
// starts it. The extension is stripped from filename before it is set
// as the formatting template; the device appends its own container
// extension. StartRecord does not guard against double-start; the
// orchestrator is responsible for checking first.
func (c *Client) StartRecord(ctx context.Context, dir, filename string) error {
	if err := c.call(ctx, "SetRecordDirectory", map[string]any{
		"recordDirectory": dir,
	}, nil); err != nil {
		return err
	}
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	if err := c.call(ctx, "SetProfileParameter", map[string]any{
		"parameterCategory": "Output",
		"parameterName":     "FilenameFormatting",
		"parameterValue":    stem,
	}, nil); err != nil {
		return err
	}
	return c.call(ctx, "StartRecord", nil, nil)
}

// StopRecord stops the active recording and returns the absolute path
// the device wrote to. The file may not be finalized yet when this
// returns.
func (c *Client) StopRecord(ctx context.Context) (string, error) {
	var resp struct {
		OutputPath string `json:"outputPath"`
	}
	err := c.call(ctx, "StopRecord", nil, &resp)
	var reqErr *RequestError
	if errors.As(err, &reqErr) && reqErr.Code == codeOutputNotRunning {
		return "", ErrNotRecording
	}
	if err != nil {
		return "", err
	}
	return resp.OutputPath, nil
}

// SetOverlayText pushes text onto the configured device-side text
// input. Best-effort; the input must exist in the current collection.
func (c *Client) SetOverlayText(ctx context.Context, text string) error {
	return c.call(ctx, "SetInputSettings", map[string]any{
		"inputName":     c.overlayInput,
		"inputSettings": map[string]any{"text": text},
		"overlay":       true,
	}, nil)
}

// Screenshot captures the current program scene as PNG bytes.
func (c *Client) Screenshot(ctx context.Context) ([]byte, error) {
	var scene struct {
		CurrentProgramSceneName string `json:"currentProgramSceneName"`
	}
	if err := c.call(ctx, "GetCurrentProgramScene", nil, &scene); err != nil {
		return nil, err
	}
	var shot struct {
		ImageData string `json:"imageData"`
	}
	if err := c.call(ctx, "GetSourceScreenshot", map[string]any{
		"sourceName":  scene.CurrentProgramSceneName,
		"imageFormat": "png",
	}, &shot); err != nil {
		return nil, err
	}
	// imageData is a data URI: "data:image/png;base64,...."
	_, b64, found := strings.Cut(shot.ImageData, ",")
	if !found {
		return nil, fmt.Errorf("obs: unexpected screenshot payload")
	}
	return base64.StdEncoding.DecodeString(b64)
}
