package appserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// Conn is one line-delimited JSON-RPC 2.0 connection over an arbitrary
// reader/writer pair (stdin/stdout in the normal case). Reads happen on a
// single goroutine via Run; writes are serialized under writeMu so
// concurrently-dispatched request handlers and server-initiated
// requests/notifications never interleave partial lines, mirroring the
// teacher's single writePump goroutine behind a buffered send channel.
type Conn struct {
	scanner *bufio.Scanner
	w       io.Writer
	writeMu sync.Mutex
	logger  *zap.Logger
}

func NewConn(r io.Reader, w io.Writer, logger *zap.Logger) *Conn {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Conn{scanner: scanner, w: w, logger: logger}
}

// Handlers is the set of callbacks Run dispatches decoded frames to. A nil
// callback silently drops frames of that kind.
type Handlers struct {
	OnRequest      func(Request)
	OnNotification func(Notification)
	OnResponse     func(Response)
	OnErrorResponse func(ErrorResponse)
}

// Run reads one line at a time until ctx is cancelled, the reader is
// exhausted, or a line fails to parse as JSON. Per the framing contract,
// an unparsable line is fatal for the connection: Run returns the parse
// error rather than skipping the line and continuing.
func (c *Conn) Run(ctx context.Context, h Handlers) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		for c.scanner.Scan() {
			select {
			case lines <- c.scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- c.scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				err := <-scanErr
				return err // nil on clean EOF
			}
			if line == "" {
				continue
			}
			if err := c.dispatchLine(line, h); err != nil {
				return err
			}
		}
	}
}

func (c *Conn) dispatchLine(line string, h Handlers) error {
	var f frame
	if err := json.Unmarshal([]byte(line), &f); err != nil {
		return fmt.Errorf("appserver: unparsable frame, connection closed: %w", err)
	}
	req, notif, resp, errResp := f.classify()
	switch {
	case req != nil && h.OnRequest != nil:
		h.OnRequest(*req)
	case notif != nil && h.OnNotification != nil:
		h.OnNotification(*notif)
	case resp != nil && h.OnResponse != nil:
		h.OnResponse(*resp)
	case errResp != nil && h.OnErrorResponse != nil:
		h.OnErrorResponse(*errResp)
	default:
		c.logger.Warn("appserver: dropped frame matching no registered handler", zap.String("method", f.Method))
	}
	return nil
}

func (c *Conn) SendRequest(id ID, method string, params any) error {
	data, err := encodeRequest(id, method, params)
	if err != nil {
		return err
	}
	return c.writeLine(data)
}

func (c *Conn) SendNotification(method string, params any) error {
	data, err := encodeNotification(method, params)
	if err != nil {
		return err
	}
	return c.writeLine(data)
}

func (c *Conn) SendResponse(id ID, result any) error {
	data, err := encodeResponse(id, result)
	if err != nil {
		return err
	}
	return c.writeLine(data)
}

func (c *Conn) SendError(id ID, rpcErr *RPCError) error {
	data, err := encodeError(id, rpcErr)
	if err != nil {
		return err
	}
	return c.writeLine(data)
}

func (c *Conn) writeLine(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	data = append(data, '\n')
	_, err := c.w.Write(data)
	return err
}
