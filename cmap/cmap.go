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

// Package cmap provides a generic map guarded by a single reader/writer
// lock, shared by every keyed lookup table in the broker: the server's
// reply-correlation table and peer registries, the lander's pending-ack
// set, and the client's pending-callback table.
package cmap

import "sync"

// KV is one entry returned by GetAll.
type KV[K comparable, V any] struct {
	Key K
	Val V
}

// Map is a mapping from K to V safe for concurrent use by many goroutines.
type Map[K comparable, V any] struct {
	m sync.RWMutex
	d map[K]V
}

// New returns an empty Map.
func New[K comparable, V any]() *Map[K, V] {
	return &Map[K, V]{d: make(map[K]V)}
}

// Insert stores value under key, overwriting any previous value, and
// reports whether the key was not already present.
func (o *Map[K, V]) Insert(key K, value V) bool {
	o.m.Lock()
	defer o.m.Unlock()

	_, found := o.d[key]
	o.d[key] = value

	return !found
}

// Find looks up key without removing it.
func (o *Map[K, V]) Find(key K) (V, bool) {
	o.m.RLock()
	defer o.m.RUnlock()

	v, ok := o.d[key]
	return v, ok
}

// FindAndRemove looks up key and, if present, removes it atomically with
// the lookup. This is the primitive reply correlation depends on: a reply
// must find its entry at most once.
func (o *Map[K, V]) FindAndRemove(key K) (V, bool) {
	o.m.Lock()
	defer o.m.Unlock()

	v, ok := o.d[key]
	if ok {
		delete(o.d, key)
	}

	return v, ok
}

// GetAll returns a snapshot of every entry. Order is insertion-irrelevant.
func (o *Map[K, V]) GetAll() []KV[K, V] {
	o.m.RLock()
	defer o.m.RUnlock()

	res := make([]KV[K, V], 0, len(o.d))
	for k, v := range o.d {
		res = append(res, KV[K, V]{Key: k, Val: v})
	}

	return res
}

// Size returns the number of entries currently stored.
func (o *Map[K, V]) Size() int {
	o.m.RLock()
	defer o.m.RUnlock()
	return len(o.d)
}

// Clear removes every entry.
func (o *Map[K, V]) Clear() {
	o.m.Lock()
	defer o.m.Unlock()
	o.d = make(map[K]V)
}
