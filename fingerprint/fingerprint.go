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

// Package fingerprint derives the 32-bit correlation identifier carried by
// every log frame that expects a reply: the Client tags a send_log_need_reply
// frame with one, the Lander echoes it back unchanged, and the Client uses it
// to find the pending callback waiting on that particular message.
package fingerprint

import (
	"time"

	"github.com/google/uuid"
)

// seed mirrors the multiplicative constant of the scheme this package is
// derived from; it has no cryptographic meaning, only collision spread.
const seed uint32 = 19299

// FromContent derives a fingerprint from the message content alone. Two
// identical contents produce the same fingerprint, which is sufficient when
// the caller does not need reply correlation (e.g. deduplicating identical
// disk records).
func FromContent(content []byte) uint32 {
	return mix(1, content)
}

// New derives a fingerprint from the message content and the current wall
// clock, at microsecond resolution, matching the original scheme's
// use_time=true mode. This is what the Client stamps on every
// send_log_need_reply frame, so that two sends of identical content a moment
// apart still correlate to distinct callbacks.
func New(content []byte) uint32 {
	now := time.Now()
	micro := uint32(now.Unix())*1e6 + uint32(now.Nanosecond()/1e3)
	return mix(micro, content)
}

func mix(seedValue uint32, content []byte) uint32 {
	res := seedValue
	if res == 0 {
		res = 1
	}

	for _, b := range content {
		res *= seed
		res *= uint32(b)
		res += uint32(b)
	}

	return res
}

// NewUUIDAlternate derives a fingerprint from a fresh random UUID instead of
// content+clock. It is used by callers that need a correlation id for a
// frame with no content yet to hash against (e.g. a bare search request
// built incrementally), trading determinism for uniqueness that does not
// depend on the clock; 128 random bits folded into 32 can still collide.
func NewUUIDAlternate() uint32 {
	id := uuid.New()
	b := id[:]

	var v uint32
	for i := 0; i < len(b); i += 4 {
		v ^= uint32(b[i])<<24 | uint32(b[i+1])<<16 | uint32(b[i+2])<<8 | uint32(b[i+3])
	}

	if v == 0 {
		v = 1
	}

	return v
}
