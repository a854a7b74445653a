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

package logger

import (
	"bytes"
	"strings"
)

// Close closes the log files opened by SetOptions, after a short delay. The
// hooks stay registered, so stdout/stderr output continues.
func (o *logger) Close() error {
	if o != nil && o.hasCloser() {
		o.switchCloser(nil)
	}
	return nil
}

// Write implements io.Writer by creating a log entry from the provided bytes.
func (o *logger) Write(p []byte) (n int, err error) {
	if o == nil {
		return len(p), nil
	}

	val := strings.TrimSpace(string(o.IOWriterFilter(p)))

	if len(val) < 1 {
		return len(p), nil
	}

	o.newEntry(o.GetIOWriterLevel(), val, nil, nil, nil).Log()
	return len(p), nil
}

func (o *logger) SetIOWriterLevel(lvl Level) {
	if o == nil {
		return
	}

	o.m.Lock()
	defer o.m.Unlock()
	o.ioLevel = lvl
}

func (o *logger) GetIOWriterLevel() Level {
	if o == nil {
		return NilLevel
	}

	o.m.RLock()
	defer o.m.RUnlock()
	return o.ioLevel
}

// SetIOWriterFilter replaces all filter patterns with the provided patterns.
func (o *logger) SetIOWriterFilter(pattern ...string) {
	if o == nil {
		return
	}

	p := make([][]byte, 0, len(pattern))
	for _, s := range pattern {
		p = append(p, []byte(s))
	}

	o.m.Lock()
	defer o.m.Unlock()
	o.filter = p
}

// AddIOWriterFilter appends filter patterns to the existing list.
func (o *logger) AddIOWriterFilter(pattern ...string) {
	if o == nil {
		return
	}

	o.m.Lock()
	defer o.m.Unlock()

	for _, s := range pattern {
		o.filter = append(o.filter, []byte(s))
	}
}

func (o *logger) IOWriterFilter(p []byte) []byte {
	if o == nil {
		return p
	}

	o.m.RLock()
	filter := o.filter
	o.m.RUnlock()

	for _, b := range filter {
		if bytes.Contains(p, b) {
			return make([]byte, 0)
		}
	}

	return p
}
