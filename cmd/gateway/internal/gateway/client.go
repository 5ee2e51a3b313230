package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"
)

const (
	maxMessageSize = 512 * 1024
)

// ErrMessageTooLarge ends the stream when a message, summed over all of its
// fragments, exceeds maxMessageSize.
var ErrMessageTooLarge = errors.New("client message exceeds size limit")

// ClientAdapter is the server side of one client websocket. Writes from the
// session goroutine and control replies from the reader goroutine share
// one lock so frames never interleave.
type ClientAdapter struct {
	conn   net.Conn
	logger *zap.Logger
	reader *wsutil.Reader

	writeWait time.Duration

	wmu       sync.Mutex
	closeSent bool
	closeOnce sync.Once
}

func NewClient(conn net.Conn, logger *zap.Logger, writeWait time.Duration) *ClientAdapter {
	c := &ClientAdapter{
		conn:      conn,
		logger:    logger,
		writeWait: writeWait,
	}
	c.reader = &wsutil.Reader{
		Source:       conn,
		State:        ws.StateServerSide,
		CheckUTF8:    true,
		MaxFrameSize: maxMessageSize,
	}
	c.reader.OnIntermediate = c.handleControl
	return c
}

func (c *ClientAdapter) ID() string { return c.conn.RemoteAddr().String() }

func (c *ClientAdapter) SendJSON(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.SendText(b)
}

func (c *ClientAdapter) SendText(b []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	return wsutil.WriteServerText(c.conn, b)
}

// SendClose starts the closing handshake with a normal closure.
func (c *ClientAdapter) SendClose() error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if c.closeSent {
		return nil
	}
	c.closeSent = true
	c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	return ws.WriteFrame(c.conn, ws.NewCloseFrame(ws.NewCloseFrameBody(ws.StatusNormalClosure, "")))
}

// Receive returns the next data message. Pings are answered in place. A
// close frame from the client ends the stream with an error.
func (c *ClientAdapter) Receive() ([]byte, error) {
	for {
		header, err := c.reader.NextFrame()
		if err != nil {
			return nil, err
		}

		if header.OpCode.IsControl() {
			if err := c.handleControl(header, c.reader); err != nil {
				return nil, err
			}
			continue
		}

		if header.OpCode&(ws.OpText|ws.OpBinary) == 0 {
			if err := c.reader.Discard(); err != nil {
				return nil, err
			}
			continue
		}

		payload, err := io.ReadAll(io.LimitReader(c.reader, maxMessageSize+1))
		if err != nil {
			return nil, err
		}
		if len(payload) > maxMessageSize {
			return nil, ErrMessageTooLarge
		}
		return payload, nil
	}
}

func (c *ClientAdapter) handleControl(header ws.Header, r io.Reader) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	// Our close went out first; this is the acknowledgement.
	if header.OpCode == ws.OpClose && c.closeSent {
		io.Copy(io.Discard, r)
		return wsutil.ClosedError{Code: ws.StatusNormalClosure}
	}

	c.conn.SetWriteDeadline(time.Now().Add(c.writeWait))
	// r is a wsutil.Reader, which already unmasks the payload
	handler := wsutil.ControlHandler{
		Src:                 r,
		Dst:                 c.conn,
		State:               ws.StateServerSide,
		DisableSrcCiphering: true,
	}
	err := handler.Handle(header)
	if header.OpCode == ws.OpClose {
		c.closeSent = true
	}
	return err
}

func (c *ClientAdapter) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.conn.Close() })
	return err
}
