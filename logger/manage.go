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
	"fmt"
	"io"
	"log"
	"os"

	"github.com/sirupsen/logrus"
)

// Clone creates an independent copy of the logger: own fields and hooks,
// same context, level and options. Both loggers must be closed independently.
func (o *logger) Clone() (Logger, error) {
	if o == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	n := New(o.ctx).(*logger)
	n.SetLevel(o.GetLevel())
	n.SetFields(o.GetFields())

	if e := n.SetOptions(o.GetOptions()); e != nil {
		return nil, e
	}

	return n, nil
}

func (o *logger) RegisterFuncUpdateLogger(fct func(log Logger)) {
	o.m.Lock()
	defer o.m.Unlock()
	o.fnUpdLog = fct
}

func (o *logger) runFuncUpdateLogger() {
	o.m.RLock()
	fct := o.fnUpdLog
	o.m.RUnlock()

	if fct != nil {
		fct(o)
	}
}

func (o *logger) RegisterFuncUpdateLevel(fct func(log Logger)) {
	o.m.Lock()
	defer o.m.Unlock()
	o.fnUpdLvl = fct
}

func (o *logger) runFuncUpdateLevel() {
	o.m.RLock()
	fct := o.fnUpdLvl
	o.m.RUnlock()

	if fct != nil {
		fct(o)
	}
}

func (o *logger) SetLevel(lvl Level) {
	o.m.Lock()
	o.level = lvl
	o.m.Unlock()

	o.setLogrusLevel(lvl)
	o.runFuncUpdateLevel()
}

func (o *logger) GetLevel() Level {
	if o == nil {
		return NilLevel
	}

	o.m.RLock()
	defer o.m.RUnlock()
	return o.level
}

func (o *logger) SetFields(field Fields) {
	if o == nil {
		return
	}

	o.m.Lock()
	defer o.m.Unlock()
	o.fields = field.Clone()
}

func (o *logger) GetFields() Fields {
	if o == nil {
		return NewFields()
	}

	o.m.RLock()
	defer o.m.RUnlock()
	return o.fields.Clone()
}

// SetOptions (re)configures the logger's output destinations: stdout/stderr
// split by severity, plus one hook per configured log file. The previous
// closer set is swapped out and closed only after the new one is in place,
// so no in-flight file descriptor is closed while still referenced.
func (o *logger) SetOptions(opt Options) error {
	lvl := o.GetLevel()

	run := logrus.New()
	run.SetLevel(lvl.Logrus())
	run.SetFormatter(o.defaultFormatter(opt.DisableColor))
	run.SetOutput(io.Discard)

	hooks := make([]logrus.Hook, 0, 2+len(opt.LogFile))

	if !opt.DisableStandard {
		hooks = append(hooks,
			newStdHook(os.Stdout, o.defaultFormatter(opt.DisableColor), []logrus.Level{
				logrus.InfoLevel, logrus.DebugLevel, logrus.TraceLevel,
			}),
			newStdHook(os.Stderr, o.defaultFormatter(opt.DisableColor), []logrus.Level{
				logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel, logrus.WarnLevel,
			}),
		)
	}

	clo := _NewCloser()

	for _, f := range opt.LogFile {
		h, fh, e := newFileHook(f, o.defaultFormatterNoColor())
		if e != nil {
			return ErrorFileOpenError.Error(e)
		}
		hooks = append(hooks, h)
		clo.Add(fh)
	}

	for _, h := range hooks {
		run.AddHook(h)
	}

	o.switchCloser(clo)

	o.m.Lock()
	o.opts = opt
	o.run = run
	o.m.Unlock()

	o.setLogrusLevel(lvl)
	o.runFuncUpdateLogger()

	return nil
}

func (o *logger) GetOptions() Options {
	if o == nil {
		return Options{}
	}

	o.m.RLock()
	defer o.m.RUnlock()
	return o.opts.Clone()
}

// GetStdLogger returns a *log.Logger adapter writing through this logger at
// the given level.
func (o *logger) GetStdLogger(lvl Level, logFlags int) *log.Logger {
	o.SetIOWriterLevel(lvl)
	return log.New(o, "", logFlags)
}

// SetStdLogger redirects the standard library's default logger through this
// logger at the given level.
func (o *logger) SetStdLogger(lvl Level, logFlags int) {
	o.SetIOWriterLevel(lvl)
	log.SetOutput(o)
	log.SetPrefix("")
	log.SetFlags(logFlags)
}
