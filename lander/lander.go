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

// Package lander is the storage agent side of the broker: it connects to a
// Server, receives log frames and search requests relayed from Clients, and
// persists logs to dated on-disk files while keeping a search index over
// them. Four goroutines cooperate: a monitor demultiplexes inbound frames
// onto two work queues, a print worker drains the log queue to disk, a
// search worker drains the search queue against the index, and a send
// worker drains an outbound queue of acks and results back to the Server.
package lander

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"

	goatomic "github.com/wentanlee/wtlog/atomic"
	"github.com/wentanlee/wtlog/cmap"
	"github.com/wentanlee/wtlog/diskrecord"
	liberr "github.com/wentanlee/wtlog/errors"
	"github.com/wentanlee/wtlog/logger"
	"github.com/wentanlee/wtlog/metrics"
	"github.com/wentanlee/wtlog/protocol"
	"github.com/wentanlee/wtlog/queue"
	"github.com/wentanlee/wtlog/runner"
	"github.com/wentanlee/wtlog/searchindex"
)

const (
	ErrorDial liberr.CodeError = liberr.MinPkgLander + iota
	ErrorHandshakeWrite
	ErrorHandshakeRead
	ErrorHandshakeRefused
	ErrorOpenWriter
	ErrorOpenIndex
	ErrorClosed
)

// DefaultDisconnectGrace bounds how long Disconnect waits for the Server's
// stop_send_log_reply before forcing the monitor's blocked read to return.
const DefaultDisconnectGrace = 6 * time.Second

// pendingBitsSize is the width of the bitset used as a fast, monotonic
// pre-check in front of the pendingAck map: a clear bit proves a fingerprint
// was never marked pending, letting printLoop skip the map lookup entirely
// for the common case of a frame that asked for no reply.
const pendingBitsSize = 1 << 20

// indexFileName is the sqlite file the search index lives in, alongside the
// dated log files in the same directory.
const indexFileName = "index.db"

// Options configures a Lander.
type Options struct {
	DisconnectGrace      time.Duration
	QueueInitialCapacity int
	Log                  logger.Logger

	// Metrics receives queue depth, frame, disk-byte and search-latency
	// observations. A nil Metrics is silently ignored.
	Metrics *metrics.Registry
}

type printItem struct {
	frame     protocol.LogFrame
	needReply bool
}

type searchItem struct {
	request    protocol.SearchRequest
	enqueuedAt time.Time
}

type sendItem struct {
	head        protocol.Head
	fingerprint uint32
	message     []byte
	results     [][]byte
}

// Lander is a disconnected, reusable storage agent. The zero value is not
// usable; build one with New.
type Lander struct {
	dir  string
	opts Options

	connMu sync.RWMutex
	conn   net.Conn

	onRecv            goatomic.Value[bool]
	sendQueueOnAppend goatomic.Value[bool]

	printQueue  *queue.Queue[printItem]
	searchQueue *queue.Queue[searchItem]
	sendQueue   *queue.Queue[sendItem]
	pendingAck  *cmap.Map[uint32, struct{}]

	pendingBitsMu sync.Mutex
	pendingBits   *bitset.BitSet

	writer *diskrecord.Writer
	index  *searchindex.Index

	monitorRunner *runner.Runner
	printRunner   *runner.Runner
	searchRunner  *runner.Runner
	sendRunner    *runner.Runner
}

// New constructs a disconnected Lander that will persist under dir.
func New(dir string, opts Options) *Lander {
	if opts.DisconnectGrace <= 0 {
		opts.DisconnectGrace = DefaultDisconnectGrace
	}

	l := &Lander{
		dir:               dir,
		opts:              opts,
		onRecv:            goatomic.NewValueDefault[bool](false, false),
		sendQueueOnAppend: goatomic.NewValueDefault[bool](false, false),
		printQueue:        queue.New[printItem](opts.QueueInitialCapacity),
		searchQueue:       queue.New[searchItem](opts.QueueInitialCapacity),
		sendQueue:         queue.New[sendItem](opts.QueueInitialCapacity),
		pendingAck:        cmap.New[uint32, struct{}](),
		pendingBits:       bitset.New(pendingBitsSize),
	}

	l.monitorRunner = runner.New(l.monitorLoop, nil)
	l.printRunner = runner.New(l.printLoop, nil)
	l.searchRunner = runner.New(l.searchLoop, nil)
	l.sendRunner = runner.New(l.sendLoop, nil)

	return l
}

// markPendingBit records that fingerprint may have an ack outstanding. Bits
// are never cleared, so a collision only ever costs a redundant map lookup,
// never a missed ack.
func (l *Lander) markPendingBit(fingerprint uint32) {
	l.pendingBitsMu.Lock()
	l.pendingBits.Set(uint(fingerprint) % pendingBitsSize)
	l.pendingBitsMu.Unlock()
}

func (l *Lander) testPendingBit(fingerprint uint32) bool {
	l.pendingBitsMu.Lock()
	ok := l.pendingBits.Test(uint(fingerprint) % pendingBitsSize)
	l.pendingBitsMu.Unlock()
	return ok
}

func (l *Lander) logf(format string, args ...interface{}) {
	if l.opts.Log == nil {
		return
	}
	l.opts.Log.Info(fmt.Sprintf(format, args...), nil)
}

// Stats reports the current depth of the print, search and send queues plus
// the number of acks still awaited, for the operator-facing "stat" console
// command.
func (l *Lander) Stats() (printDepth, searchDepth, sendDepth, pendingAcks int) {
	return l.printQueue.Len(), l.searchQueue.Len(), l.sendQueue.Len(), l.pendingAck.Size()
}

func (l *Lander) readConn() net.Conn {
	l.connMu.RLock()
	defer l.connMu.RUnlock()
	return l.conn
}

// Connect opens the dated log file and search index under dir, dials
// ip:port, performs the handshake_info/handshake_ret handshake, and starts
// the monitor, print, search and send goroutines.
func (l *Lander) Connect(ctx context.Context, ip string, port int) error {
	writer, err := diskrecord.NewWriter(l.dir)
	if err != nil {
		return ErrorOpenWriter.Error(err)
	}

	index, err := searchindex.Open(filepath.Join(l.dir, indexFileName))
	if err != nil {
		writer.Close()
		return ErrorOpenIndex.Error(err)
	}

	addr := fmt.Sprintf("%s:%d", ip, port)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		writer.Close()
		index.Close()
		return ErrorDial.Error(err)
	}

	if err := protocol.WriteHead(conn, protocol.HeadHandshakeInfo); err != nil {
		conn.Close()
		writer.Close()
		index.Close()
		return ErrorHandshakeWrite.Error(err)
	}

	head, err := protocol.ReadHead(conn)
	if err != nil {
		conn.Close()
		writer.Close()
		index.Close()
		return ErrorHandshakeRead.Error(err)
	}
	if head != protocol.HeadHandshakeRet {
		conn.Close()
		writer.Close()
		index.Close()
		return ErrorHandshakeRefused.Errorf(head)
	}

	l.writer = writer
	l.index = index

	l.connMu.Lock()
	l.conn = conn
	l.connMu.Unlock()

	l.onRecv.Store(true)
	l.sendQueueOnAppend.Store(true)

	_ = l.monitorRunner.Start(ctx)
	_ = l.printRunner.Start(ctx)
	_ = l.searchRunner.Start(ctx)
	_ = l.sendRunner.Start(ctx)

	l.logf("[Lander][%s] connected and handshaked", conn.RemoteAddr())

	return nil
}

func sleepBackoff(emptyStreak int) {
	if emptyStreak >= 20 {
		time.Sleep(200 * time.Millisecond)
	} else {
		time.Sleep(time.Millisecond)
	}
}

// monitorLoop reads frames from the Server and dispatches them onto the
// print and search queues. It is the only goroutine reading the socket, and
// it is the one that flips onRecv false on stop_send_log_reply — so its own
// loop condition, re-checked before every blocking read, is what lets it
// exit cleanly instead of blocking on a read that will never come.
func (l *Lander) monitorLoop(ctx context.Context) error {
	for {
		if !l.onRecv.Load() {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}

		conn := l.readConn()
		if conn == nil {
			return nil
		}

		head, err := protocol.ReadHead(conn)
		if err != nil {
			return nil
		}

		switch head {
		case protocol.HeadSendLog, protocol.HeadSendLogNeedReply:
			needReply := head == protocol.HeadSendLogNeedReply

			frame, err := protocol.ReadLogFrame(conn)
			if err != nil {
				l.logf("malformed log frame: %v", err)
				continue
			}

			l.opts.Metrics.IncFrame(metrics.RoleLander, metrics.DirectionReceived, head)

			if l.onRecv.Load() {
				l.printQueue.Push(printItem{frame: frame, needReply: needReply})
				l.opts.Metrics.SetQueueDepth(metrics.RoleLander, "print", l.printQueue.Len())
				if needReply {
					l.pendingAck.Insert(frame.Fingerprint, struct{}{})
					l.markPendingBit(frame.Fingerprint)
				}
			}

		case protocol.HeadSearchRequest:
			req, err := protocol.ReadSearchRequest(conn)
			if err != nil {
				l.logf("malformed search request: %v", err)
				continue
			}
			l.opts.Metrics.IncFrame(metrics.RoleLander, metrics.DirectionReceived, head)

			if l.onRecv.Load() {
				l.searchQueue.Push(searchItem{request: req, enqueuedAt: time.Now()})
				l.opts.Metrics.SetQueueDepth(metrics.RoleLander, "search", l.searchQueue.Len())
			}

		case protocol.HeadStopSendLogReply:
			l.onRecv.Store(false)

		case protocol.HeadCloseWithLanderReply:
			l.logf("received close_with_lander_reply while still connected")
			l.sendQueueOnAppend.Store(false)
			l.onRecv.Store(false)

		default:
			l.logf("unsupported head on monitor channel: %s", head)
		}
	}
}

// printLoop drains the print queue to disk. It does not watch ctx: the
// disconnect sequence relies on this loop draining every queued record
// before it exits, driven only by onRecv and queue length, the same
// condition the original's print-queue thread joins on.
func (l *Lander) printLoop(context.Context) error {
	emptyStreak := 0

	for l.onRecv.Load() || l.printQueue.Len() > 0 {
		item, ok := l.printQueue.TryPop()
		if !ok {
			emptyStreak++
			sleepBackoff(emptyStreak)
			continue
		}
		emptyStreak = 0

		dayFile, offset, err := l.writer.WriteRecord(diskrecord.Record{
			Time:    item.frame.Time,
			Level:   item.frame.Level,
			Content: item.frame.Content,
		})
		if err != nil {
			l.logf("write log to disk failed: %v", err)
			continue
		}
		l.opts.Metrics.AddBytesWritten(metrics.RoleLander, len(item.frame.Content))

		if err := l.index.Insert(item.frame.Fingerprint, dayFile, offset, item.frame.Level, item.frame.Time); err != nil {
			l.logf("index insert failed: %v", err)
		}

		wasPending := false
		if l.testPendingBit(item.frame.Fingerprint) {
			_, wasPending = l.pendingAck.FindAndRemove(item.frame.Fingerprint)
		}
		if wasPending {
			l.sendQueue.Push(sendItem{
				head:        protocol.HeadLogReceiveSuccess,
				fingerprint: item.frame.Fingerprint,
			})
			l.opts.Metrics.SetQueueDepth(metrics.RoleLander, "send", l.sendQueue.Len())
		}
	}

	return nil
}

// searchLoop drains the search queue against the index, reading matched
// records back off disk by their indexed offset.
func (l *Lander) searchLoop(context.Context) error {
	emptyStreak := 0

	for l.onRecv.Load() || l.searchQueue.Len() > 0 {
		item, ok := l.searchQueue.TryPop()
		if !ok {
			emptyStreak++
			sleepBackoff(emptyStreak)
			continue
		}
		emptyStreak = 0

		rows, err := l.index.Query(item.request.Level, item.request.Start, item.request.End)
		if err != nil {
			l.logf("search index query failed: %v", err)
			rows = nil
		}

		results := make([][]byte, 0, len(rows))
		for _, row := range rows {
			rec, err := diskrecord.ReadAt(filepath.Join(l.dir, row.DayFile), row.Offset)
			if err != nil {
				l.logf("read matched record failed: %v", err)
				continue
			}
			results = append(results, rec.Content)
		}

		outcome := "matched"
		if len(results) == 0 {
			outcome = "empty"
		}
		l.opts.Metrics.ObserveSearchLatency(metrics.RoleLander, outcome, time.Since(item.enqueuedAt))

		l.sendQueue.Push(sendItem{
			head:        protocol.HeadSearchFin,
			fingerprint: item.request.Fingerprint,
			results:     results,
		})
		l.opts.Metrics.SetQueueDepth(metrics.RoleLander, "send", l.sendQueue.Len())
	}

	return nil
}

// sendLoop drains the outbound queue onto the socket. Like printLoop and
// searchLoop it ignores ctx and relies solely on sendQueueOnAppend and
// queue length so Disconnect's join waits for every queued frame to go out.
func (l *Lander) sendLoop(context.Context) error {
	emptyStreak := 0

	for l.sendQueueOnAppend.Load() || l.sendQueue.Len() > 0 {
		item, ok := l.sendQueue.TryPop()
		if !ok {
			emptyStreak++
			sleepBackoff(emptyStreak)
			continue
		}
		emptyStreak = 0

		conn := l.readConn()
		if conn == nil {
			return nil
		}

		var err error
		switch item.head {
		case protocol.HeadLogReceiveSuccess:
			err = protocol.WriteLogReceiveSuccess(conn, protocol.LogReceiveSuccess{
				Fingerprint: item.fingerprint,
				Message:     item.message,
			})
		case protocol.HeadStopSendLog:
			err = protocol.WriteHead(conn, protocol.HeadStopSendLog)
		case protocol.HeadSearchFin:
			err = protocol.WriteSearchFin(conn, protocol.SearchFin{
				Fingerprint: item.fingerprint,
				Results:     item.results,
			})
		default:
			l.logf("unsupported head in send queue: %s", item.head)
		}

		if err != nil {
			l.logf("send failed: %v", err)
		} else {
			l.opts.Metrics.IncFrame(metrics.RoleLander, metrics.DirectionSent, item.head)
		}
		l.opts.Metrics.SetQueueDepth(metrics.RoleLander, "send", l.sendQueue.Len())
	}

	return nil
}

// Disconnect tells the Server to stop routing logs here, waits for the
// monitor and the print/search workers to drain, stops the send worker,
// and finally exchanges close_with_lander/close_with_lander_reply
// synchronously before closing the socket, disk writer and search index.
func (l *Lander) Disconnect(ctx context.Context) error {
	if !l.sendQueueOnAppend.Load() {
		return nil
	}

	l.sendQueue.Push(sendItem{head: protocol.HeadStopSendLog})

	deadline := time.Now().Add(l.opts.DisconnectGrace)
	for l.onRecv.Load() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if conn := l.readConn(); conn != nil {
		// Force the monitor's in-flight read to return if the Server never
		// answered within the grace window, so monitorRunner.Stop below
		// does not hang on a goroutine ctx cancellation alone cannot
		// interrupt.
		_ = conn.SetReadDeadline(time.Now())
	}
	l.onRecv.Store(false)

	_ = l.monitorRunner.Stop(ctx)

	_ = l.printRunner.Stop(ctx)
	_ = l.searchRunner.Stop(ctx)

	l.sendQueueOnAppend.Store(false)

	_ = l.sendRunner.Stop(ctx)

	conn := l.readConn()
	if conn != nil {
		_ = conn.SetReadDeadline(time.Time{})

		if err := protocol.WriteHead(conn, protocol.HeadCloseWithLander); err != nil {
			l.logf("write close_with_lander failed: %v", err)
		} else if head, err := protocol.ReadHead(conn); err != nil {
			l.logf("read close_with_lander_reply failed: %v", err)
		} else if head != protocol.HeadCloseWithLanderReply {
			l.logf("unexpected reply to close_with_lander: %s", head)
		}
	}

	var closeErr error
	if conn != nil {
		closeErr = conn.Close()
	}
	if l.writer != nil {
		l.writer.Close()
	}
	if l.index != nil {
		l.index.Close()
	}

	if closeErr != nil {
		return ErrorClosed.Error(closeErr)
	}

	return nil
}
