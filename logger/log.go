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
	"time"
)

func (o *logger) Debug(message string, data interface{}, args ...interface{}) {
	if o == nil {
		return
	}
	o.newEntry(DebugLevel, fmt.Sprintf(message, args...), nil, nil, data).Log()
}

func (o *logger) Info(message string, data interface{}, args ...interface{}) {
	if o == nil {
		return
	}
	o.newEntry(InfoLevel, fmt.Sprintf(message, args...), nil, nil, data).Log()
}

func (o *logger) Warning(message string, data interface{}, args ...interface{}) {
	if o == nil {
		return
	}
	o.newEntry(WarnLevel, fmt.Sprintf(message, args...), nil, nil, data).Log()
}

func (o *logger) Error(message string, data interface{}, args ...interface{}) {
	if o == nil {
		return
	}
	o.newEntry(ErrorLevel, fmt.Sprintf(message, args...), nil, nil, data).Log()
}

// Fatal logs at FatalLevel. Log() calls os.Exit(1) afterwards; deferred
// functions in the caller will not run.
func (o *logger) Fatal(message string, data interface{}, args ...interface{}) {
	if o == nil {
		return
	}
	o.newEntry(FatalLevel, fmt.Sprintf(message, args...), nil, nil, data).Log()
}

// Panic logs at PanicLevel. Unlike Fatal, the logrus backend panics with the
// entry once it is written, so the caller's deferred functions do run.
func (o *logger) Panic(message string, data interface{}, args ...interface{}) {
	if o == nil {
		return
	}
	o.newEntry(PanicLevel, fmt.Sprintf(message, args...), nil, nil, data).Log()
}

func (o *logger) LogDetails(lvl Level, message string, data interface{}, err []error, fields Fields, args ...interface{}) {
	if o == nil {
		return
	}
	o.newEntry(lvl, fmt.Sprintf(message, args...), err, fields, data).Log()
}

// CheckError logs at lvlKO if any non-nil error is given, otherwise at lvlOK
// (use NilLevel to skip the success log entirely). Returns whether an error
// was found.
func (o *logger) CheckError(lvlKO, lvlOK Level, message string, err ...error) bool {
	if o == nil {
		return false
	}
	return o.newEntry(lvlKO, message, err, nil, nil).Check(lvlOK)
}

func (o *logger) Entry(lvl Level, message string, args ...interface{}) *Entry {
	return o.newEntry(lvl, fmt.Sprintf(message, args...), nil, nil, nil)
}

// Access builds a clean, message-only entry following the Common Log Format
// extended with latency, at InfoLevel.
func (o *logger) Access(remoteAddr, remoteUser string, localtime time.Time, latency time.Duration, method, request, proto string, status int, size int64) *Entry {
	msg := fmt.Sprintf("%s - %s [%s] [%s] \"%s %s %s\" %d %d", remoteAddr, remoteUser, localtime.Format(time.RFC1123Z), latency.String(), method, request, proto, status, size)
	return o.newEntryClean(msg)
}

func (o *logger) newEntry(lvl Level, message string, err []error, fields Fields, data interface{}) *Entry {
	if o == nil {
		return &Entry{Level: NilLevel}
	}

	frm := o.getCaller()
	stk := o.getStack()

	var line uint32
	if frm.Line > 0 {
		line = uint32(frm.Line)
	}

	ent := &Entry{
		log:     o.getLogrus,
		Time:    time.Now(),
		Level:   lvl,
		Stack:   stk,
		Caller:  frm.Function,
		File:    frm.File,
		Line:    line,
		Message: message,
	}

	ent.ErrorSet(err)
	ent.DataSet(data)
	ent.FieldSet(o.GetFields().Clone())
	ent.FieldMerge(fields)

	return ent
}

func (o *logger) newEntryClean(message string) *Entry {
	if o == nil {
		return &Entry{Level: NilLevel}
	}
	return o.newEntry(InfoLevel, message, nil, nil, nil).SetMessageOnly(true)
}
