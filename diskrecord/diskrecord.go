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

// Package diskrecord frames log entries for append-only storage and manages
// the one-file-per-UTC-day rollover the Lander keeps its print worker
// writing to.
//
// Each record on disk is:
//
//	[0x01][time:uint32 BE][level:uint16 BE][size:uint16 BE][content][0xFF]
//
// The head and tail tag bytes are not a reliable resynchronization marker on
// their own (content may legitimately contain either byte); a reader walks
// the file strictly by the declared size field and only checks the tags as
// a corruption guard.
package diskrecord

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wentanlee/wtlog/protocol"
)

const (
	headTag byte = 0x01
	tailTag byte = 0xFF

	// MaxContentSize mirrors the wire limit: a record's content can never
	// be larger than what a single log frame could have carried.
	MaxContentSize = protocol.MaxContentSize
)

// Record is one decoded on-disk log entry.
type Record struct {
	Time    uint32
	Level   protocol.Level
	Content []byte
}

// DateLayout names the UTC calendar-day suffix used for log file names.
const DateLayout = "20060102"

// Encode appends the wire representation of r to dst and returns the
// extended slice.
func Encode(dst []byte, r Record) ([]byte, error) {
	if len(r.Content) > MaxContentSize {
		return nil, fmt.Errorf("diskrecord: content size %d exceeds max %d", len(r.Content), MaxContentSize)
	}

	var hdr [9]byte
	hdr[0] = headTag
	binary.BigEndian.PutUint32(hdr[1:5], r.Time)
	binary.BigEndian.PutUint16(hdr[5:7], uint16(r.Level))
	binary.BigEndian.PutUint16(hdr[7:9], uint16(len(r.Content)))

	dst = append(dst, hdr[:]...)
	dst = append(dst, r.Content...)
	dst = append(dst, tailTag)

	return dst, nil
}

// Decode reads one record from r. It returns io.EOF only when the stream
// ends cleanly before any byte of a new record has been read.
func Decode(r io.Reader) (Record, error) {
	var hdr [9]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Record{}, fmt.Errorf("diskrecord: truncated record header: %w", err)
		}
		return Record{}, err
	}

	if hdr[0] != headTag {
		return Record{}, fmt.Errorf("diskrecord: corrupt record, expected head tag 0x%02x, got 0x%02x", headTag, hdr[0])
	}

	rec := Record{
		Time:  binary.BigEndian.Uint32(hdr[1:5]),
		Level: protocol.Level(binary.BigEndian.Uint16(hdr[5:7])),
	}

	size := binary.BigEndian.Uint16(hdr[7:9])
	rec.Content = make([]byte, size)
	if _, err := io.ReadFull(r, rec.Content); err != nil {
		return Record{}, fmt.Errorf("diskrecord: truncated record content: %w", err)
	}

	var tail [1]byte
	if _, err := io.ReadFull(r, tail[:]); err != nil {
		return Record{}, fmt.Errorf("diskrecord: truncated record tail: %w", err)
	}
	if tail[0] != tailTag {
		return Record{}, fmt.Errorf("diskrecord: corrupt record, expected tail tag 0x%02x, got 0x%02x", tailTag, tail[0])
	}

	return rec, nil
}

// FileName returns the log file name for the given UTC instant, relative to
// dir.
func FileName(dir string, t time.Time) string {
	return filepath.Join(dir, t.UTC().Format(DateLayout))
}

// Writer appends records to a directory of UTC-day files, opening a new
// file the moment the wall clock crosses midnight UTC. It is safe for
// concurrent use by multiple goroutines; writes from different callers
// never interleave a torn record.
type Writer struct {
	mu  sync.Mutex
	dir string

	curDate string
	file    *os.File
	buf     *bufio.Writer
	offset  int64
}

// NewWriter returns a Writer appending under dir, creating dir if needed.
func NewWriter(dir string) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("diskrecord: create directory %q: %w", dir, err)
	}

	w := &Writer{dir: dir}
	if err := w.rollTo(time.Now().UTC()); err != nil {
		return nil, err
	}

	return w, nil
}

func (w *Writer) rollTo(now time.Time) error {
	date := now.Format(DateLayout)
	if w.file != nil && date == w.curDate {
		return nil
	}

	if w.file != nil {
		if err := w.flushAndCloseLocked(); err != nil {
			return err
		}
	}

	path := FileName(w.dir, now)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("diskrecord: open %q: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("diskrecord: stat %q: %w", path, err)
	}

	w.file = f
	w.buf = bufio.NewWriter(f)
	w.curDate = date
	w.offset = info.Size()

	return nil
}

func (w *Writer) flushAndCloseLocked() error {
	if w.buf != nil {
		if err := w.buf.Flush(); err != nil {
			w.file.Close()
			return fmt.Errorf("diskrecord: flush before rollover: %w", err)
		}
	}
	return w.file.Close()
}

// Write encodes r and appends it to today's file, rolling over to a fresh
// file first if the UTC date has changed since the last write.
func (w *Writer) Write(r Record) error {
	_, _, err := w.WriteRecord(r)
	return err
}

// WriteRecord behaves like Write but also reports which dated file the
// record landed in and the byte offset it starts at, so a caller can index
// the record for later lookup by offset.
func (w *Writer) WriteRecord(r Record) (dayFile string, offset int64, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now().UTC()
	if err := w.rollTo(now); err != nil {
		return "", 0, err
	}

	if r.Time == 0 {
		r.Time = uint32(now.Unix())
	}

	buf, err := Encode(nil, r)
	if err != nil {
		return "", 0, err
	}

	recordOffset := w.offset
	dayFile = w.curDate

	if _, err := w.buf.Write(buf); err != nil {
		// Best-effort tail tag so a half-written record does not swallow
		// whatever the next successful write appends after it. The buffered
		// writer keeps its error, so the byte goes straight to the file, with
		// up to five attempts.
		for i := 0; i < 5; i++ {
			if _, e := w.file.Write([]byte{tailTag}); e == nil {
				break
			}
		}
		return "", 0, fmt.Errorf("diskrecord: write record: %w", err)
	}

	if err := w.buf.Flush(); err != nil {
		return "", 0, err
	}

	w.offset += int64(len(buf))

	return dayFile, recordOffset, nil
}

// ReadAt decodes a single record starting at offset within the named file.
func ReadAt(path string, offset int64) (Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return Record{}, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return Record{}, err
	}

	return Decode(bufio.NewReader(f))
}

// Close flushes and closes the current file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	return w.flushAndCloseLocked()
}

// ReadAll decodes every record in the named file, in file order.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)

	var out []Record
	for {
		rec, err := Decode(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}

	return out, nil
}
