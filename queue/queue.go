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

// Package queue provides an unbounded, growable FIFO safe for many
// producers and many consumers, preserving each producer's push order. It
// backs every send/print/search queue in the broker, the lander and the
// client.
//
// The buffer is a ring of slots, each carrying a value and a ready flag. A
// short-held mutex reserves a slot to a push or a pop by advancing head or
// tail; a reader/writer lock protects the identity of the underlying slice,
// held shared during ordinary push/pop and upgraded to exclusive only while
// the ring is doubled in place under capacity pressure.
package queue

import (
	"runtime"
	"sync"
)

const defaultCapacity = 8

type slot[T any] struct {
	ready bool
	val   T
}

// Queue is a growable FIFO of T.
type Queue[T any] struct {
	grow sync.RWMutex // guards buffer identity: shared for push/pop, exclusive for growth
	idx  sync.Mutex   // guards head/tail/cap reservation

	buf  []slot[T]
	cap  int
	head int
	tail int
}

// New returns an empty Queue with the given initial capacity. Any value
// below 2 uses a small default (8).
func New[T any](initialCapacity int) *Queue[T] {
	if initialCapacity < 2 {
		initialCapacity = defaultCapacity
	}

	return &Queue[T]{
		buf: make([]slot[T], initialCapacity),
		cap: initialCapacity,
	}
}

// Push appends v to the queue. It never blocks on capacity: the ring grows
// (doubling) whenever it would otherwise wrap onto an unread slot.
func (q *Queue[T]) Push(v T) {
	q.idx.Lock()

	if (q.tail+1)%q.cap == q.head {
		q.growLocked()
	}

	slotIdx := q.tail
	q.tail = (q.tail + 1) % q.cap

	q.grow.RLock()
	q.idx.Unlock()
	defer q.grow.RUnlock()

	for q.buf[slotIdx].ready {
		runtime.Gosched()
	}

	q.buf[slotIdx].val = v
	q.buf[slotIdx].ready = true
}

// growLocked doubles the ring's capacity, preserving logical order starting
// at head. Callers must hold idx already; growLocked takes grow exclusively
// for the duration of the copy.
func (q *Queue[T]) growLocked() {
	q.grow.Lock()
	defer q.grow.Unlock()

	newCap := q.cap * 2
	newBuf := make([]slot[T], newCap)

	n := 0
	for i := q.head; i != q.tail; i = (i + 1) % q.cap {
		newBuf[n] = q.buf[i]
		n++
	}

	q.buf = newBuf
	q.head = 0
	q.tail = n
	q.cap = newCap
}

// TryPop removes and returns the oldest value, or the zero value and false
// if the queue was empty at the moment of the attempt.
func (q *Queue[T]) TryPop() (T, bool) {
	var zero T

	q.idx.Lock()
	if q.head == q.tail {
		q.idx.Unlock()
		return zero, false
	}

	slotIdx := q.head
	q.head = (q.head + 1) % q.cap

	q.grow.RLock()
	q.idx.Unlock()
	defer q.grow.RUnlock()

	for !q.buf[slotIdx].ready {
		runtime.Gosched()
	}

	v := q.buf[slotIdx].val
	q.buf[slotIdx] = slot[T]{}

	return v, true
}

// Len reports the number of values currently queued. It is a best-effort
// snapshot under concurrent use.
func (q *Queue[T]) Len() int {
	q.idx.Lock()
	defer q.idx.Unlock()

	if q.tail >= q.head {
		return q.tail - q.head
	}
	return q.cap - q.head + q.tail
}

// Clear discards every queued value. Safe only when no producer or
// consumer is concurrently active on this queue.
func (q *Queue[T]) Clear() {
	q.grow.Lock()
	defer q.grow.Unlock()

	q.idx.Lock()
	defer q.idx.Unlock()

	for i := range q.buf {
		q.buf[i] = slot[T]{}
	}
	q.head = 0
	q.tail = 0
}
