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

// Package server is the broker's routing hub: Clients authorize against it
// and push log frames, Landers handshake against it and drain them, and the
// Server shuttles frames and their replies between the two sides without
// ever decoding or storing a log itself. One accept loop classifies each new
// socket as a Client or a Lander; from then on each side gets its own
// goroutine shape, fanned through two shared queues.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	goatomic "github.com/wentanlee/wtlog/atomic"
	"github.com/wentanlee/wtlog/cmap"
	liberr "github.com/wentanlee/wtlog/errors"
	"github.com/wentanlee/wtlog/logger"
	"github.com/wentanlee/wtlog/metrics"
	"github.com/wentanlee/wtlog/protocol"
	"github.com/wentanlee/wtlog/queue"
	"github.com/wentanlee/wtlog/runner"
)

const (
	ErrorListen liberr.CodeError = liberr.MinPkgServer + iota
	ErrorClosed
	ErrorNoLander
)

// DefaultCloseGrace is how long a Client's close_head handler waits before
// answering close_ret, giving any reply already in flight to that Client a
// window to land first.
const DefaultCloseGrace = 3 * time.Second

// DefaultLanderPollInterval bounds how long the from-Lander listener blocks
// on any one Lander socket before moving on to poll the next, the Go
// equivalent of the original's non-blocking per-socket read.
const DefaultLanderPollInterval = 50 * time.Millisecond

// DefaultSearchTimeout bounds how long Search waits for the owning Lander to
// answer before giving up.
const DefaultSearchTimeout = 10 * time.Second

// Options configures a Server.
type Options struct {
	// CloseGrace is the pause between deregistering a departing Client and
	// answering its close_head with close_ret. Zero uses DefaultCloseGrace.
	CloseGrace time.Duration

	// LanderPollInterval bounds each pass of the from-Lander listener over
	// one Lander socket. Zero uses DefaultLanderPollInterval.
	LanderPollInterval time.Duration

	// QueueInitialCapacity seeds the to-Lander and to-Client ring buffers.
	QueueInitialCapacity int

	// Log receives diagnostic messages. A nil Log is silently ignored.
	Log logger.Logger

	// Metrics receives queue depth, frame, and peer-count observations. A
	// nil Metrics is silently ignored.
	Metrics *metrics.Registry
}

type toLanderItem struct {
	head   protocol.Head
	frame  protocol.LogFrame
	search protocol.SearchRequest
}

type toClientItem struct {
	head        protocol.Head
	fingerprint uint32
	message     []byte
	results     [][]byte
}

// landerPeer tracks one connected Lander's send-side state: its socket, the
// flag its sender goroutine watches, and a channel that goroutine closes on
// exit so a stop sequence can join it.
type landerPeer struct {
	conn   net.Conn
	onSend goatomic.Value[bool]
	done   chan struct{}
}

// Server is the broker's routing hub. The zero value is not usable; build
// one with New.
type Server struct {
	opts Options

	lnMu sync.Mutex
	ln   net.Listener

	onListen goatomic.Value[bool]

	classifierWG sync.WaitGroup
	clientWG     sync.WaitGroup
	landerWG     sync.WaitGroup

	clients *cmap.Map[net.Conn, struct{}]
	landers *cmap.Map[net.Conn, *landerPeer]

	// replyCorrelation remembers, for one in-flight fingerprint, which
	// Client socket is owed the eventual reply. A log ack and a search
	// result both resolve through it.
	replyCorrelation *cmap.Map[uint32, net.Conn]

	// searchCorrelation lets a direct Search call wait on the same
	// fingerprint's result without needing a Client socket at all.
	searchCorrelation *cmap.Map[uint32, chan protocol.SearchFin]

	toLanderQueue *queue.Queue[toLanderItem]
	toClientQueue *queue.Queue[toClientItem]

	acceptorRunner   *runner.Runner
	toClientRunner   *runner.Runner
	fromLanderRunner *runner.Runner
}

// New constructs a Server that is not yet listening.
func New(opts Options) *Server {
	if opts.CloseGrace <= 0 {
		opts.CloseGrace = DefaultCloseGrace
	}
	if opts.LanderPollInterval <= 0 {
		opts.LanderPollInterval = DefaultLanderPollInterval
	}

	s := &Server{
		opts:              opts,
		onListen:          goatomic.NewValueDefault[bool](false, false),
		clients:           cmap.New[net.Conn, struct{}](),
		landers:           cmap.New[net.Conn, *landerPeer](),
		replyCorrelation:  cmap.New[uint32, net.Conn](),
		searchCorrelation: cmap.New[uint32, chan protocol.SearchFin](),
		toLanderQueue:     queue.New[toLanderItem](opts.QueueInitialCapacity),
		toClientQueue:     queue.New[toClientItem](opts.QueueInitialCapacity),
	}

	s.acceptorRunner = runner.New(s.acceptLoop, nil)
	s.toClientRunner = runner.New(s.toClientLoop, nil)
	s.fromLanderRunner = runner.New(s.fromLanderLoop, nil)

	return s
}

func (s *Server) logf(format string, args ...interface{}) {
	if s.opts.Log == nil {
		return
	}
	s.opts.Log.Info(fmt.Sprintf(format, args...), nil)
}

func sleepBackoff(emptyStreak int) {
	if emptyStreak >= 20 {
		time.Sleep(200 * time.Millisecond)
	} else {
		time.Sleep(time.Millisecond)
	}
}

// Start listens on address and launches the acceptor, the to-Client sender,
// and the from-Lander listener.
func (s *Server) Start(ctx context.Context, address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return ErrorListen.Error(err)
	}

	s.lnMu.Lock()
	s.ln = ln
	s.lnMu.Unlock()

	s.onListen.Store(true)

	_ = s.acceptorRunner.Start(ctx)
	_ = s.toClientRunner.Start(ctx)
	_ = s.fromLanderRunner.Start(ctx)

	s.logf("[Server] listening on %s", ln.Addr())

	return nil
}

// Stats reports how many Clients and Landers are currently connected, for
// the operator-facing "stat" console command.
func (s *Server) Stats() (clients, landers int) {
	return s.clients.Size(), s.landers.Size()
}

// Addr returns the listener's bound address, or nil if not listening.
func (s *Server) Addr() net.Addr {
	s.lnMu.Lock()
	defer s.lnMu.Unlock()

	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) acceptLoop(ctx context.Context) error {
	for {
		if !s.onListen.Load() {
			return nil
		}

		s.lnMu.Lock()
		ln := s.ln
		s.lnMu.Unlock()
		if ln == nil {
			return nil
		}

		conn, err := ln.Accept()
		if err != nil {
			if !s.onListen.Load() {
				return nil
			}
			s.logf("[Server] accept failed: %v", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		s.classifierWG.Add(1)
		go s.classify(ctx, conn)
	}
}

// classify reads the single head that opens every new socket and decides
// whether it belongs to a Client (authorize_info) or a Lander
// (handshake_info); anything else is dropped.
func (s *Server) classify(ctx context.Context, conn net.Conn) {
	defer s.classifierWG.Done()

	head, err := protocol.ReadHead(conn)
	if err != nil {
		conn.Close()
		return
	}

	switch head {
	case protocol.HeadAuthorizeInfo:
		s.clients.Insert(conn, struct{}{})
		s.opts.Metrics.SetConnectedPeers(metrics.RoleServer, "client", s.clients.Size())

		if err := protocol.WriteHead(conn, protocol.HeadAuthorizeRet); err != nil {
			s.logf("[Server] write authorize_ret to %s failed: %v", conn.RemoteAddr(), err)
			s.clients.FindAndRemove(conn)
			s.opts.Metrics.SetConnectedPeers(metrics.RoleServer, "client", s.clients.Size())
			conn.Close()
			return
		}

		s.clientWG.Add(1)
		go s.clientListener(ctx, conn)

	case protocol.HeadHandshakeInfo:
		if err := protocol.WriteHead(conn, protocol.HeadHandshakeRet); err != nil {
			s.logf("[Server] write handshake_ret to %s failed: %v", conn.RemoteAddr(), err)
			conn.Close()
			return
		}

		peer := &landerPeer{
			conn:   conn,
			onSend: goatomic.NewValueDefault[bool](false, false),
			done:   make(chan struct{}),
		}
		peer.onSend.Store(true)

		s.landers.Insert(conn, peer)
		s.opts.Metrics.SetConnectedPeers(metrics.RoleServer, "lander", s.landers.Size())

		s.landerWG.Add(1)
		go s.landerSender(peer)

	default:
		s.logf("[Server] unsupported head %s on classifier channel from %s", head, conn.RemoteAddr())
		conn.Close()
	}
}

// clientListener owns one Client socket end to end: it demultiplexes
// send_log/send_log_need_reply onto the shared to-Lander queue, registering
// the reply correlation before the push so a racing ack can never arrive
// before the table entry that would route it, and answers close_head with a
// grace pause and close_ret.
func (s *Server) clientListener(ctx context.Context, conn net.Conn) {
	defer s.clientWG.Done()

	for {
		head, err := protocol.ReadHead(conn)
		if err != nil {
			s.clients.FindAndRemove(conn)
			s.opts.Metrics.SetConnectedPeers(metrics.RoleServer, "client", s.clients.Size())
			conn.Close()
			return
		}

		switch head {
		case protocol.HeadSendLog, protocol.HeadSendLogNeedReply:
			frame, err := protocol.ReadLogFrame(conn)
			if err != nil {
				s.logf("[Server] malformed log frame from %s: %v", conn.RemoteAddr(), err)
				continue
			}
			s.opts.Metrics.IncFrame(metrics.RoleServer, metrics.DirectionReceived, head)

			if head == protocol.HeadSendLogNeedReply {
				s.replyCorrelation.Insert(frame.Fingerprint, conn)
			}
			s.toLanderQueue.Push(toLanderItem{head: head, frame: frame})
			s.opts.Metrics.SetQueueDepth(metrics.RoleServer, "to_lander", s.toLanderQueue.Len())

		case protocol.HeadCloseHead:
			s.clients.FindAndRemove(conn)
			s.opts.Metrics.SetConnectedPeers(metrics.RoleServer, "client", s.clients.Size())
			time.Sleep(s.opts.CloseGrace)
			_ = protocol.WriteHead(conn, protocol.HeadCloseRet)
			conn.Close()
			return

		default:
			s.logf("[Server] unsupported head %s on client channel from %s", head, conn.RemoteAddr())
		}
	}
}

// landerSender is one of possibly several goroutines draining the single
// shared to-Lander queue; whichever instance wins the pop delivers the
// frame over its own Lander socket. It exits once its Lander's on-send flag
// is cleared by the from-Lander listener's stop_send_log handling.
func (s *Server) landerSender(peer *landerPeer) {
	defer s.landerWG.Done()
	defer close(peer.done)

	emptyStreak := 0
	for peer.onSend.Load() {
		item, ok := s.toLanderQueue.TryPop()
		if !ok {
			emptyStreak++
			sleepBackoff(emptyStreak)
			continue
		}
		emptyStreak = 0

		var err error
		switch item.head {
		case protocol.HeadSendLog, protocol.HeadSendLogNeedReply:
			err = protocol.WriteLogFrame(peer.conn, item.head, item.frame)
		case protocol.HeadSearchRequest:
			err = protocol.WriteSearchRequest(peer.conn, item.search)
		default:
			s.logf("[Server] unsupported head %s in to-Lander queue", item.head)
		}
		if err != nil {
			s.logf("[Server] write to Lander %s failed: %v", peer.conn.RemoteAddr(), err)
		} else {
			s.opts.Metrics.IncFrame(metrics.RoleServer, metrics.DirectionSent, item.head)
		}
	}
}

// toClientLoop is the single consumer of the to-Client queue: it resolves
// each fingerprint back to the Client (or direct Search caller) that is
// owed the reply and drops anything nobody is waiting on anymore.
func (s *Server) toClientLoop(ctx context.Context) error {
	emptyStreak := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		item, ok := s.toClientQueue.TryPop()
		if !ok {
			emptyStreak++
			sleepBackoff(emptyStreak)
			continue
		}
		emptyStreak = 0
		s.opts.Metrics.SetQueueDepth(metrics.RoleServer, "to_client", s.toClientQueue.Len())

		switch item.head {
		case protocol.HeadLogReceiveSuccess:
			conn, ok := s.replyCorrelation.FindAndRemove(item.fingerprint)
			if !ok {
				continue
			}
			if err := protocol.WriteLogReceiveSuccess(conn, protocol.LogReceiveSuccess{
				Fingerprint: item.fingerprint,
				Message:     item.message,
			}); err != nil {
				s.logf("[Server] write log_receive_success to %s failed: %v", conn.RemoteAddr(), err)
			} else {
				s.opts.Metrics.IncFrame(metrics.RoleServer, metrics.DirectionSent, item.head)
			}

		case protocol.HeadSearchFin:
			fin := protocol.SearchFin{Fingerprint: item.fingerprint, Results: item.results}

			if ch, ok := s.searchCorrelation.FindAndRemove(item.fingerprint); ok {
				ch <- fin
				close(ch)
			}

			if conn, ok := s.replyCorrelation.FindAndRemove(item.fingerprint); ok {
				if err := protocol.WriteSearchFin(conn, fin); err != nil {
					s.logf("[Server] write search_fin to %s failed: %v", conn.RemoteAddr(), err)
				} else {
					s.opts.Metrics.IncFrame(metrics.RoleServer, metrics.DirectionSent, item.head)
				}
			}

		default:
			s.logf("[Server] unsupported head %s in to-Client queue", item.head)
		}
	}
}

// fromLanderLoop is the single goroutine that drains every connected
// Lander's inbound side: a bounded read deadline per socket per pass stands
// in for the original's non-blocking poll, so one idle Lander never starves
// another's replies.
func (s *Server) fromLanderLoop(ctx context.Context) error {
	emptyStreak := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		rows := s.landers.GetAll()
		if len(rows) == 0 {
			emptyStreak++
			sleepBackoff(emptyStreak)
			continue
		}

		progressed := false
		for _, row := range rows {
			peer := row.Val

			_ = peer.conn.SetReadDeadline(time.Now().Add(s.opts.LanderPollInterval))
			head, err := protocol.ReadHead(peer.conn)
			_ = peer.conn.SetReadDeadline(time.Time{})
			if err != nil {
				continue
			}
			progressed = true

			switch head {
			case protocol.HeadLogReceiveSuccess:
				ack, err := protocol.ReadLogReceiveSuccess(peer.conn)
				if err != nil {
					s.logf("[Server] malformed log_receive_success from %s: %v", peer.conn.RemoteAddr(), err)
					continue
				}
				s.opts.Metrics.IncFrame(metrics.RoleServer, metrics.DirectionReceived, head)
				s.toClientQueue.Push(toClientItem{
					head:        protocol.HeadLogReceiveSuccess,
					fingerprint: ack.Fingerprint,
					message:     ack.Message,
				})
				s.opts.Metrics.SetQueueDepth(metrics.RoleServer, "to_client", s.toClientQueue.Len())

			case protocol.HeadSearchFin:
				fin, err := protocol.ReadSearchFin(peer.conn)
				if err != nil {
					s.logf("[Server] malformed search_fin from %s: %v", peer.conn.RemoteAddr(), err)
					continue
				}
				s.opts.Metrics.IncFrame(metrics.RoleServer, metrics.DirectionReceived, head)
				s.toClientQueue.Push(toClientItem{
					head:        protocol.HeadSearchFin,
					fingerprint: fin.Fingerprint,
					results:     fin.Results,
				})
				s.opts.Metrics.SetQueueDepth(metrics.RoleServer, "to_client", s.toClientQueue.Len())

			case protocol.HeadStopSendLog:
				peer.onSend.Store(false)
				<-peer.done
				if err := protocol.WriteHead(peer.conn, protocol.HeadStopSendLogReply); err != nil {
					s.logf("[Server] write stop_send_log_reply to %s failed: %v", peer.conn.RemoteAddr(), err)
				}

			case protocol.HeadCloseWithLander:
				s.landers.FindAndRemove(peer.conn)
				s.opts.Metrics.SetConnectedPeers(metrics.RoleServer, "lander", s.landers.Size())
				if err := protocol.WriteHead(peer.conn, protocol.HeadCloseWithLanderReply); err != nil {
					s.logf("[Server] write close_with_lander_reply to %s failed: %v", peer.conn.RemoteAddr(), err)
				}
				peer.conn.Close()

			default:
				s.logf("[Server] unsupported head %s on from-Lander channel from %s", head, peer.conn.RemoteAddr())
			}
		}

		if !progressed {
			emptyStreak++
			sleepBackoff(emptyStreak)
		} else {
			emptyStreak = 0
		}
	}
}

// Search relays req to one connected Lander and waits for its search_fin.
// The wire protocol carries no Client-originated search head in this
// revision (see DESIGN.md's Open Question decisions), so this is the
// operator-facing entry point into the same round trip a wire-originated
// request would take; pass a live Client conn as originator to also have
// the result written out to that Client once it arrives.
func (s *Server) Search(ctx context.Context, req protocol.SearchRequest, originator net.Conn) (protocol.SearchFin, error) {
	if len(s.landers.GetAll()) == 0 {
		return protocol.SearchFin{}, ErrorNoLander.Errorf("no lander connected")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultSearchTimeout)
		defer cancel()
	}

	reply := make(chan protocol.SearchFin, 1)
	s.searchCorrelation.Insert(req.Fingerprint, reply)
	if originator != nil {
		s.replyCorrelation.Insert(req.Fingerprint, originator)
	}

	// The shared to-Lander queue fans out across however many Landers are
	// connected; whichever one's sender goroutine wins the pop delivers
	// this request, matching how every other frame on that queue is routed.
	start := time.Now()
	s.toLanderQueue.Push(toLanderItem{head: protocol.HeadSearchRequest, search: req})

	select {
	case fin := <-reply:
		outcome := "matched"
		if len(fin.Results) == 0 {
			outcome = "empty"
		}
		s.opts.Metrics.ObserveSearchLatency(metrics.RoleServer, outcome, time.Since(start))
		return fin, nil
	case <-ctx.Done():
		s.searchCorrelation.FindAndRemove(req.Fingerprint)
		s.opts.Metrics.ObserveSearchLatency(metrics.RoleServer, "timeout", time.Since(start))
		return protocol.SearchFin{}, ctx.Err()
	}
}

// Stop halts the acceptor and waits for every classifier goroutine to
// finish. If soft is true and at least one Client or Lander is still
// connected, Stop leaves them running and returns false without touching
// anything else. Otherwise every remaining peer socket is forced closed,
// every per-peer goroutine is joined, and the routing tables are cleared.
func (s *Server) Stop(ctx context.Context, soft bool) bool {
	s.onListen.Store(false)

	s.lnMu.Lock()
	ln := s.ln
	s.lnMu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}

	_ = s.acceptorRunner.Stop(ctx)
	s.classifierWG.Wait()

	clients := s.clients.GetAll()
	landers := s.landers.GetAll()

	if len(clients) > 0 || len(landers) > 0 {
		s.logf("[Server] stop: %d client(s) and %d lander(s) still connected", len(clients), len(landers))
		if soft {
			return false
		}

		for _, row := range clients {
			if err := row.Key.Close(); err != nil {
				s.logf("[Server] %v", ErrorClosed.Error(err))
			}
		}
		s.clientWG.Wait()

		for _, row := range landers {
			row.Val.onSend.Store(false)
			if err := row.Val.conn.Close(); err != nil {
				s.logf("[Server] %v", ErrorClosed.Error(err))
			}
		}
		s.landerWG.Wait()
	}

	s.clients.Clear()
	s.landers.Clear()
	s.replyCorrelation.Clear()
	s.searchCorrelation.Clear()
	s.opts.Metrics.SetConnectedPeers(metrics.RoleServer, "client", 0)
	s.opts.Metrics.SetConnectedPeers(metrics.RoleServer, "lander", 0)

	_ = s.toClientRunner.Stop(ctx)
	_ = s.fromLanderRunner.Stop(ctx)

	return true
}
