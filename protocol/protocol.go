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

// Package protocol encodes and decodes the wire frames exchanged between
// Client, Server and Lander: a 16-bit head tag followed by a head-specific
// payload, all multi-byte integers in network byte order.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

// Head identifies a frame's type and direction.
type Head uint16

const (
	// Client to Server.
	HeadAuthorizeInfo    Head = 2560
	HeadCloseHead        Head = 2561
	HeadSendLog          Head = 2562
	HeadSendLogNeedReply Head = 2563

	// Server to Client.
	HeadAuthorizeRet     Head = 9766
	HeadCloseRet         Head = 9767
	HeadLogReceiveSuccess Head = 9768

	// Lander to Server.
	HeadHandshakeInfo   Head = 1101
	HeadStopSendLog     Head = 1102
	HeadCloseWithLander Head = 1103
	HeadSearchFin       Head = 1104

	// Server to Lander.
	HeadHandshakeRet         Head = 8455
	HeadSearchRequest        Head = 8457
	HeadStopSendLogReply     Head = 8458
	HeadCloseWithLanderReply Head = 8459
)

func (h Head) String() string {
	switch h {
	case HeadAuthorizeInfo:
		return "authorize_info"
	case HeadCloseHead:
		return "close_head"
	case HeadSendLog:
		return "send_log"
	case HeadSendLogNeedReply:
		return "send_log_need_reply"
	case HeadAuthorizeRet:
		return "authorize_ret"
	case HeadCloseRet:
		return "close_ret"
	case HeadLogReceiveSuccess:
		return "log_receive_success"
	case HeadHandshakeInfo:
		return "handshake_info"
	case HeadStopSendLog:
		return "stop_send_log"
	case HeadCloseWithLander:
		return "close_with_lander"
	case HeadSearchFin:
		return "search_fin"
	case HeadHandshakeRet:
		return "handshake_ret"
	case HeadSearchRequest:
		return "search_request"
	case HeadStopSendLogReply:
		return "stop_send_log_reply"
	case HeadCloseWithLanderReply:
		return "close_with_lander_reply"
	default:
		return fmt.Sprintf("head(%d)", uint16(h))
	}
}

// Level is the severity of a log record. The wire encoding is fixed:
// info=0, debug=1, warning=2, error=3.
type Level uint16

const (
	LevelInfo Level = iota
	LevelDebug
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelInfo:
		return "info"
	case LevelDebug:
		return "debug"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseLevel maps a case-insensitive level name back onto its Level value,
// for CLI front-ends that accept a level as a flag or console argument.
func ParseLevel(s string) (Level, bool) {
	switch strings.ToLower(s) {
	case LevelInfo.String():
		return LevelInfo, true
	case LevelDebug.String():
		return LevelDebug, true
	case LevelWarning.String():
		return LevelWarning, true
	case LevelError.String():
		return LevelError, true
	default:
		return LevelInfo, false
	}
}

// MaxContentSize is the largest content payload the protocol allows in a
// single log frame.
const MaxContentSize = 10000

// CallBackStat reports the outcome a Client's callback is invoked with.
type CallBackStat uint8

const (
	Success CallBackStat = iota
	Failed
	Timeout
)

func (s CallBackStat) String() string {
	switch s {
	case Success:
		return "success"
	case Failed:
		return "failed"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// ReadHead reads one 16-bit head from r.
func ReadHead(r io.Reader) (Head, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return Head(binary.BigEndian.Uint16(b[:])), nil
}

// WriteHead writes a bare head with no payload, used for the zero-payload
// frames (authorize_info, close_head, authorize_ret, close_ret,
// handshake_info, stop_send_log, close_with_lander, handshake_ret,
// stop_send_log_reply, close_with_lander_reply).
func WriteHead(w io.Writer, h Head) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(h))
	_, err := w.Write(b[:])
	return err
}

// LogFrame is the payload shared by send_log, send_log_need_reply, and the
// relayed Server-to-Lander log frames.
type LogFrame struct {
	Time        uint32
	Level       Level
	Fingerprint uint32
	Content     []byte
}

// WriteLogFrame writes head followed by a LogFrame payload. head must be
// HeadSendLog or HeadSendLogNeedReply.
func WriteLogFrame(w io.Writer, head Head, f LogFrame) error {
	if len(f.Content) > MaxContentSize {
		return fmt.Errorf("protocol: content size %d exceeds max %d", len(f.Content), MaxContentSize)
	}

	buf := make([]byte, 2+4+2+4+2+len(f.Content))
	binary.BigEndian.PutUint16(buf[0:2], uint16(head))
	binary.BigEndian.PutUint32(buf[2:6], f.Time)
	binary.BigEndian.PutUint16(buf[6:8], uint16(f.Level))
	binary.BigEndian.PutUint32(buf[8:12], f.Fingerprint)
	binary.BigEndian.PutUint16(buf[12:14], uint16(len(f.Content)))
	copy(buf[14:], f.Content)

	_, err := w.Write(buf)
	return err
}

// ReadLogFrame reads a LogFrame payload after its head has already been
// consumed by ReadHead.
func ReadLogFrame(r io.Reader) (LogFrame, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return LogFrame{}, err
	}

	f := LogFrame{
		Time:        binary.BigEndian.Uint32(hdr[0:4]),
		Level:       Level(binary.BigEndian.Uint16(hdr[4:6])),
		Fingerprint: binary.BigEndian.Uint32(hdr[6:10]),
	}

	size := binary.BigEndian.Uint16(hdr[10:12])
	f.Content = make([]byte, size)
	if _, err := io.ReadFull(r, f.Content); err != nil {
		return LogFrame{}, err
	}

	return f, nil
}

// LogReceiveSuccess is the ack payload relayed Lander→Server→Client.
type LogReceiveSuccess struct {
	Fingerprint uint32
	Message     []byte
}

func WriteLogReceiveSuccess(w io.Writer, f LogReceiveSuccess) error {
	buf := make([]byte, 2+4+2+len(f.Message))
	binary.BigEndian.PutUint16(buf[0:2], uint16(HeadLogReceiveSuccess))
	binary.BigEndian.PutUint32(buf[2:6], f.Fingerprint)
	binary.BigEndian.PutUint16(buf[6:8], uint16(len(f.Message)))
	copy(buf[8:], f.Message)

	_, err := w.Write(buf)
	return err
}

func ReadLogReceiveSuccess(r io.Reader) (LogReceiveSuccess, error) {
	var hdr [6]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return LogReceiveSuccess{}, err
	}

	f := LogReceiveSuccess{Fingerprint: binary.BigEndian.Uint32(hdr[0:4])}

	size := binary.BigEndian.Uint16(hdr[4:6])
	f.Message = make([]byte, size)
	if _, err := io.ReadFull(r, f.Message); err != nil {
		return LogReceiveSuccess{}, err
	}

	return f, nil
}

// SearchRequest is the Server→Lander search payload.
type SearchRequest struct {
	Level       Level
	Fingerprint uint32
	Start       uint32
	End         uint32
	Query       []byte
}

func WriteSearchRequest(w io.Writer, f SearchRequest) error {
	buf := make([]byte, 2+2+4+4+4+2+len(f.Query))
	binary.BigEndian.PutUint16(buf[0:2], uint16(HeadSearchRequest))
	binary.BigEndian.PutUint16(buf[2:4], uint16(f.Level))
	binary.BigEndian.PutUint32(buf[4:8], f.Fingerprint)
	binary.BigEndian.PutUint32(buf[8:12], f.Start)
	binary.BigEndian.PutUint32(buf[12:16], f.End)
	binary.BigEndian.PutUint16(buf[16:18], uint16(len(f.Query)))
	copy(buf[18:], f.Query)

	_, err := w.Write(buf)
	return err
}

func ReadSearchRequest(r io.Reader) (SearchRequest, error) {
	var hdr [16]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return SearchRequest{}, err
	}

	f := SearchRequest{
		Level:       Level(binary.BigEndian.Uint16(hdr[0:2])),
		Fingerprint: binary.BigEndian.Uint32(hdr[2:6]),
		Start:       binary.BigEndian.Uint32(hdr[6:10]),
		End:         binary.BigEndian.Uint32(hdr[10:14]),
	}

	size := binary.BigEndian.Uint16(hdr[14:16])
	f.Query = make([]byte, size)
	if _, err := io.ReadFull(r, f.Query); err != nil {
		return SearchRequest{}, err
	}

	return f, nil
}

// SearchFin is the Lander→Server search-result payload: a fingerprint plus
// a repeated list of matched raw records.
type SearchFin struct {
	Fingerprint uint32
	Results     [][]byte
}

func WriteSearchFin(w io.Writer, f SearchFin) error {
	size := 2 + 4 + 2
	for _, r := range f.Results {
		size += 2 + len(r)
	}

	buf := make([]byte, size)
	binary.BigEndian.PutUint16(buf[0:2], uint16(HeadSearchFin))
	binary.BigEndian.PutUint32(buf[2:6], f.Fingerprint)
	binary.BigEndian.PutUint16(buf[6:8], uint16(len(f.Results)))

	off := 8
	for _, r := range f.Results {
		binary.BigEndian.PutUint16(buf[off:off+2], uint16(len(r)))
		off += 2
		copy(buf[off:], r)
		off += len(r)
	}

	_, err := w.Write(buf)
	return err
}

func ReadSearchFin(r io.Reader) (SearchFin, error) {
	var hdr [6]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return SearchFin{}, err
	}

	f := SearchFin{Fingerprint: binary.BigEndian.Uint32(hdr[0:4])}
	n := binary.BigEndian.Uint16(hdr[4:6])

	f.Results = make([][]byte, 0, n)
	for i := uint16(0); i < n; i++ {
		var sz [2]byte
		if _, err := io.ReadFull(r, sz[:]); err != nil {
			return SearchFin{}, err
		}

		rec := make([]byte, binary.BigEndian.Uint16(sz[:]))
		if _, err := io.ReadFull(r, rec); err != nil {
			return SearchFin{}, err
		}

		f.Results = append(f.Results, rec)
	}

	return f, nil
}
