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
	"context"
	"io"
	"log"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/sirupsen/logrus"
)

// FuncLog is a function type that returns a Logger instance.
type FuncLog func() Logger

// Logger is the structured logging surface shared by the broker, the lander
// and the client emitter. It extends io.WriteCloser so it can be plugged
// anywhere a Go writer is expected (the standard log package, hclog, jww).
type Logger interface {
	io.WriteCloser

	SetLevel(lvl Level)
	GetLevel() Level

	SetIOWriterLevel(lvl Level)
	GetIOWriterLevel() Level

	SetIOWriterFilter(pattern ...string)
	AddIOWriterFilter(pattern ...string)

	SetOptions(opt Options) error
	GetOptions() Options

	SetFields(field Fields)
	GetFields() Fields

	Clone() (Logger, error)

	SetSPF13Level(lvl Level, log *jww.Notepad)
	NewHashicorpHCLog() hclog.Logger

	GetStdLogger(lvl Level, logFlags int) *log.Logger
	SetStdLogger(lvl Level, logFlags int)

	Debug(message string, data interface{}, args ...interface{})
	Info(message string, data interface{}, args ...interface{})
	Warning(message string, data interface{}, args ...interface{})
	Error(message string, data interface{}, args ...interface{})
	Fatal(message string, data interface{}, args ...interface{})
	Panic(message string, data interface{}, args ...interface{})

	LogDetails(lvl Level, message string, data interface{}, err []error, fields Fields, args ...interface{})
	CheckError(lvlKO, lvlOK Level, message string, err ...error) bool

	Entry(lvl Level, message string, args ...interface{}) *Entry
	Access(remoteAddr, remoteUser string, localtime time.Time, latency time.Duration, method, request, proto string, status int, size int64) *Entry

	RegisterFuncUpdateLogger(fct func(log Logger))
	RegisterFuncUpdateLevel(fct func(log Logger))
}

// New returns a new Logger holding ctx, which Clone passes on. The logger
// does not watch ctx: its hooks keep running after ctx is done.
func New(ctx context.Context) Logger {
	if ctx == nil {
		ctx = context.Background()
	}

	l := &logger{
		m:      sync.RWMutex{},
		ctx:    ctx,
		fields: NewFields(),
		run:    logrus.New(),
	}

	l.run.SetOutput(io.Discard)
	l.SetLevel(InfoLevel)

	return l
}

// NewFrom builds a Logger inheriting the level, fields and options of base
// (when non-nil), then applies opt on top of that inherited configuration.
func NewFrom(ctx context.Context, opt *Options, base Logger) (Logger, error) {
	n := New(ctx).(*logger)

	if base != nil {
		n.SetLevel(base.GetLevel())
		n.SetFields(base.GetFields())

		merged := base.GetOptions()
		if opt != nil {
			merged.Merge(opt)
		}
		return n, n.SetOptions(merged)
	}

	if opt != nil {
		return n, n.SetOptions(*opt)
	}

	return n, nil
}
