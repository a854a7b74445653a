/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package client is the log-emitting side of the broker: applications call
// ToLog, which enqueues the request; a background send-loop frames and
// writes it to the Server, and a background reply-monitor demultiplexes
// acknowledgements back to the caller's own callback.
package client

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	goatomic "github.com/wentanlee/wtlog/atomic"
	"github.com/wentanlee/wtlog/cmap"
	liberr "github.com/wentanlee/wtlog/errors"
	"github.com/wentanlee/wtlog/fingerprint"
	"github.com/wentanlee/wtlog/logger"
	"github.com/wentanlee/wtlog/metrics"
	"github.com/wentanlee/wtlog/protocol"
	"github.com/wentanlee/wtlog/queue"
	"github.com/wentanlee/wtlog/runner"
)

const (
	ErrorDial liberr.CodeError = liberr.MinPkgClient + iota
	ErrorHandshakeWrite
	ErrorHandshakeRead
	ErrorHandshakeRefused
	ErrorClosed
)

// DefaultDisconnectGrace is how long Disconnect waits for outstanding
// callbacks before declaring them timed out.
const DefaultDisconnectGrace = 6 * time.Second

// Callback receives the outcome of one ToLog call requesting a reply.
type Callback func(status protocol.CallBackStat, message []byte)

// Options configures a Client.
type Options struct {
	// DisconnectGrace bounds how long Disconnect waits for in-flight
	// callbacks before firing them with status=Timeout. Zero uses
	// DefaultDisconnectGrace.
	DisconnectGrace time.Duration

	// QueueInitialCapacity seeds the send queue's ring buffer size.
	QueueInitialCapacity int

	// Log receives diagnostic messages. A nil Log is silently ignored.
	Log logger.Logger

	// Metrics receives queue depth and frame observations. A nil Metrics
	// is silently ignored.
	Metrics *metrics.Registry
}

type pendingSend struct {
	content   []byte
	level     protocol.Level
	needReply bool
	callback  Callback
}

// Client is a disconnected, reusable emitter. The zero value is not usable;
// build one with New.
type Client struct {
	opts Options

	connMu sync.RWMutex
	conn   net.Conn

	connected goatomic.Value[bool]

	sendQueue *queue.Queue[pendingSend]
	callbacks *cmap.Map[uint32, Callback]

	sendRunner  *runner.Runner
	replyRunner *runner.Runner
}

// New constructs a disconnected Client.
func New(opts Options) *Client {
	if opts.DisconnectGrace <= 0 {
		opts.DisconnectGrace = DefaultDisconnectGrace
	}

	c := &Client{
		opts:      opts,
		connected: goatomic.NewValueDefault[bool](false, false),
		sendQueue: queue.New[pendingSend](opts.QueueInitialCapacity),
		callbacks: cmap.New[uint32, Callback](),
	}

	c.sendRunner = runner.New(c.sendLoop, nil)
	c.replyRunner = runner.New(c.replyMonitor, nil)

	return c
}

func (c *Client) logf(format string, args ...interface{}) {
	if c.opts.Log == nil {
		return
	}
	c.opts.Log.Info(fmt.Sprintf(format, args...), nil)
}

func (c *Client) remoteLabel() string {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	if c.conn == nil {
		return "[Client][disconnected]"
	}
	return fmt.Sprintf("[Client][%s]", c.conn.RemoteAddr())
}

// Connect opens a TCP session to ip:port, performs the authorize
// handshake, and starts the send-loop and reply-monitor goroutines. On any
// failure of the handshake, a close_head frame is sent (best effort) and the
// socket is closed; no background state is left running.
func (c *Client) Connect(ctx context.Context, ip string, port int) error {
	addr := fmt.Sprintf("%s:%d", ip, port)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return ErrorDial.Error(err)
	}

	if err := protocol.WriteHead(conn, protocol.HeadAuthorizeInfo); err != nil {
		_ = protocol.WriteHead(conn, protocol.HeadCloseHead)
		conn.Close()
		return ErrorHandshakeWrite.Error(err)
	}

	head, err := protocol.ReadHead(conn)
	if err != nil {
		_ = protocol.WriteHead(conn, protocol.HeadCloseHead)
		conn.Close()
		return ErrorHandshakeRead.Error(err)
	}
	if head != protocol.HeadAuthorizeRet {
		_ = protocol.WriteHead(conn, protocol.HeadCloseHead)
		conn.Close()
		return ErrorHandshakeRefused.Errorf(head)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.connected.Store(true)

	_ = c.sendRunner.Start(ctx)
	_ = c.replyRunner.Start(ctx)

	c.logf("%s connected and authorized", c.remoteLabel())

	return nil
}

// ToLog enqueues content for asynchronous transmission at the given level.
// callback may be nil, in which case no reply is requested and none is
// delivered. The call never blocks and is dropped silently when the
// Client is not connected.
func (c *Client) ToLog(content []byte, level protocol.Level, callback Callback) {
	if !c.connected.Load() {
		return
	}

	if len(content) > protocol.MaxContentSize {
		c.logf("dropping log of size %d, exceeds max %d", len(content), protocol.MaxContentSize)
		return
	}

	c.sendQueue.Push(pendingSend{
		content:   content,
		level:     level,
		needReply: callback != nil,
		callback:  callback,
	})
	c.opts.Metrics.SetQueueDepth(metrics.RoleClient, "send", c.sendQueue.Len())
}

// Stats reports the current send-queue depth and the number of callbacks
// still awaiting a reply, for the operator-facing "stat" console command.
func (c *Client) Stats() (sendDepth, pendingCallbacks int) {
	return c.sendQueue.Len(), c.callbacks.Size()
}

func (c *Client) writeConn() net.Conn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

func (c *Client) sendLoop(ctx context.Context) error {
	emptyStreak := 0

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		req, ok := c.sendQueue.TryPop()
		if !ok {
			emptyStreak++
			if emptyStreak >= 20 {
				time.Sleep(200 * time.Millisecond)
			} else {
				time.Sleep(time.Millisecond)
			}
			continue
		}
		emptyStreak = 0

		conn := c.writeConn()
		if conn == nil {
			return nil
		}

		fp := fingerprint.New(req.content)
		head := protocol.HeadSendLog
		if req.needReply {
			head = protocol.HeadSendLogNeedReply
			c.callbacks.Insert(fp, req.callback)
		}

		frame := protocol.LogFrame{
			Time:        uint32(time.Now().UTC().Unix()),
			Level:       req.level,
			Fingerprint: fp,
			Content:     req.content,
		}

		if err := protocol.WriteLogFrame(conn, head, frame); err != nil {
			c.logf("%s write failed: %v", c.remoteLabel(), err)
			c.failAllPending()
			c.connected.Store(false)
			return nil
		}
		c.opts.Metrics.IncFrame(metrics.RoleClient, metrics.DirectionSent, head)
		c.opts.Metrics.SetQueueDepth(metrics.RoleClient, "send", c.sendQueue.Len())
	}
}

// failAllPending invokes every still-pending callback with status=Failed
// and empties the callback table, used when the send-loop's connection
// breaks mid-session.
func (c *Client) failAllPending() {
	for _, kv := range c.callbacks.GetAll() {
		if _, ok := c.callbacks.FindAndRemove(kv.Key); ok && kv.Val != nil {
			kv.Val(protocol.Failed, nil)
		}
	}
}

func (c *Client) replyMonitor(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		conn := c.writeConn()
		if conn == nil {
			return nil
		}

		head, err := protocol.ReadHead(conn)
		if err != nil {
			return nil
		}

		switch head {
		case protocol.HeadLogReceiveSuccess:
			reply, err := protocol.ReadLogReceiveSuccess(conn)
			if err != nil {
				c.logf("%s malformed reply: %v", c.remoteLabel(), err)
				continue
			}
			c.opts.Metrics.IncFrame(metrics.RoleClient, metrics.DirectionReceived, head)

			if cb, ok := c.callbacks.FindAndRemove(reply.Fingerprint); ok && cb != nil {
				cb(protocol.Success, reply.Message)
			}

		case protocol.HeadCloseRet:
			c.logf("%s server acknowledged graceful close", c.remoteLabel())

		default:
			c.logf("%s unexpected head %s on reply channel", c.remoteLabel(), head)
		}
	}
}

// Disconnect drains the send queue, waits up to the configured grace
// window for outstanding callbacks (firing any remainder with
// status=Timeout), sends close_head, and closes the socket.
func (c *Client) Disconnect(ctx context.Context) error {
	if !c.connected.Load() {
		return nil
	}

	emptyStreak := 0
	for emptyStreak < 20 {
		if c.sendQueue.Len() == 0 {
			emptyStreak++
		} else {
			emptyStreak = 0
		}
		time.Sleep(time.Millisecond)
	}

	deadline := time.Now().Add(c.opts.DisconnectGrace)
	for time.Now().Before(deadline) {
		if c.callbacks.Size() == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	for _, kv := range c.callbacks.GetAll() {
		if _, ok := c.callbacks.FindAndRemove(kv.Key); ok && kv.Val != nil {
			kv.Val(protocol.Timeout, nil)
		}
	}

	_ = c.sendRunner.Stop(ctx)

	conn := c.writeConn()
	if conn != nil {
		_ = protocol.WriteHead(conn, protocol.HeadCloseHead)

		// The reply-monitor is blocked in a framing read with no deadline;
		// force it to return so replyRunner.Stop does not hang waiting on
		// a goroutine that ctx cancellation alone cannot interrupt.
		_ = conn.SetReadDeadline(time.Now())
	}

	_ = c.replyRunner.Stop(ctx)

	c.connected.Store(false)

	if conn != nil {
		if err := conn.Close(); err != nil {
			return ErrorClosed.Error(err)
		}
	}

	return nil
}
