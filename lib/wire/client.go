// Copyright 2026 The Dirigent Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dirigent-project/dirigent/lib/codec"
	"github.com/dirigent-project/dirigent/lib/event"
)

// handshakeTimeout bounds the wait for the server's Hello frame.
const handshakeTimeout = 10 * time.Second

// StreamFrame is one decoded frame delivered by [Client.Next].
// Exactly one of Event and Backlog is populated, according to Type.
type StreamFrame struct {
	Type FrameType

	// Event is the live event, set when Type is FrameEvent.
	Event event.Event

	// Backlog is the history snapshot, set when Type is
	// FrameBacklog. Delivered once, before any live event.
	Backlog []event.Event
}

// Client is one end of an event stream connection. Dial performs the
// Hello handshake; Next then yields the backlog frame followed by
// live events until the connection ends. Next and Ping are safe to
// call from different goroutines, but Next itself is single-consumer.
type Client struct {
	conn  net.Conn
	hello Hello

	frames chan StreamFrame
	pongs  chan struct{}
	stop   chan struct{}
	done   chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once

	errMu   sync.Mutex
	readErr error
}

// Dial connects to a wire server socket and performs the handshake.
// It fails if the server speaks a different protocol version.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("wire: dialing %s: %w", socketPath, err)
	}

	conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	frame, err := ReadFrame(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("wire: reading hello: %w", err)
	}
	if frame.Type != FrameHello {
		conn.Close()
		return nil, fmt.Errorf("wire: expected hello frame, got %s", frame.Type)
	}
	var hello Hello
	if err := codec.Unmarshal(frame.Payload, &hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("wire: decoding hello: %w", err)
	}
	if hello.Version != ProtocolVersion {
		conn.Close()
		return nil, fmt.Errorf("wire: protocol version %d not supported (want %d)", hello.Version, ProtocolVersion)
	}
	conn.SetReadDeadline(time.Time{})

	c := &Client{
		conn:   conn,
		hello:  hello,
		frames: make(chan StreamFrame, 64),
		pongs:  make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Hello returns the handshake payload received from the server.
func (c *Client) Hello() Hello {
	return c.hello
}

// Next returns the next frame from the stream. It blocks until a
// frame arrives, the context is done, or the connection ends; a
// server-sent error frame surfaces as the returned error. Frames
// already received are drained before a disconnect is reported.
func (c *Client) Next(ctx context.Context) (StreamFrame, error) {
	select {
	case frame := <-c.frames:
		return frame, nil
	default:
	}

	select {
	case <-ctx.Done():
		return StreamFrame{}, ctx.Err()
	case frame := <-c.frames:
		return frame, nil
	case <-c.done:
		select {
		case frame := <-c.frames:
			return frame, nil
		default:
		}
		return StreamFrame{}, c.readError()
	}
}

// Ping sends a liveness probe and waits for the matching pong.
func (c *Client) Ping(ctx context.Context) error {
	c.writeMu.Lock()
	err := WriteFrame(c.conn, FramePing, nil)
	c.writeMu.Unlock()
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.readError()
	case <-c.pongs:
		return nil
	}
}

// Close tears the connection down and waits for the reader to stop.
// Close is idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
		c.conn.Close()
		<-c.done
	})
	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		frame, err := ReadFrame(c.conn)
		if err != nil {
			c.setReadErr(err)
			return
		}

		switch frame.Type {
		case FrameEvent:
			var ev event.Event
			if err := codec.Unmarshal(frame.Payload, &ev); err != nil {
				c.setReadErr(fmt.Errorf("wire: decoding event: %w", err))
				return
			}
			if !c.deliver(StreamFrame{Type: FrameEvent, Event: ev}) {
				return
			}

		case FrameBacklog:
			var backlog Backlog
			if err := codec.Unmarshal(frame.Payload, &backlog); err != nil {
				c.setReadErr(fmt.Errorf("wire: decoding backlog: %w", err))
				return
			}
			if !c.deliver(StreamFrame{Type: FrameBacklog, Backlog: backlog.Events}) {
				return
			}

		case FramePong:
			select {
			case c.pongs <- struct{}{}:
			default:
			}

		case FrameError:
			var payload ErrorPayload
			if err := codec.Unmarshal(frame.Payload, &payload); err != nil {
				c.setReadErr(fmt.Errorf("wire: decoding error frame: %w", err))
				return
			}
			c.setReadErr(fmt.Errorf("wire: server error: %s", payload.Message))
			return

		default:
			c.setReadErr(fmt.Errorf("wire: unexpected frame type %s", frame.Type))
			return
		}
	}
}

// deliver hands a frame to Next, or reports false when the client is
// closing and the frame should be discarded.
func (c *Client) deliver(frame StreamFrame) bool {
	select {
	case c.frames <- frame:
		return true
	case <-c.stop:
		return false
	}
}

func (c *Client) setReadErr(err error) {
	c.errMu.Lock()
	if c.readErr == nil {
		c.readErr = err
	}
	c.errMu.Unlock()
}

func (c *Client) readError() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.readErr != nil {
		return c.readErr
	}
	return net.ErrClosed
}
