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
	"io"
	"log"

	"github.com/hashicorp/go-hclog"
)

// hclogBridge adapts Logger to hclog.Logger so that hashicorp-style
// dependencies pulled in elsewhere in the broker can log through it.
type hclogBridge struct {
	l    Logger
	name string
	args []interface{}
}

// NewHashicorpHCLog returns an hclog.Logger that forwards every record to o.
func (o *logger) NewHashicorpHCLog() hclog.Logger {
	return &hclogBridge{l: o}
}

func (h *hclogBridge) fields() interface{} {
	if len(h.args) == 0 {
		return nil
	}
	return h.args
}

func (h *hclogBridge) Log(level hclog.Level, msg string, args ...interface{}) {
	switch level {
	case hclog.Trace, hclog.Debug:
		h.Debug(msg, args...)
	case hclog.Info:
		h.Info(msg, args...)
	case hclog.Warn:
		h.Warn(msg, args...)
	case hclog.Error:
		h.Error(msg, args...)
	}
}

func (h *hclogBridge) Trace(msg string, args ...interface{}) {
	h.l.Debug(msg, h.fields(), args...)
}

func (h *hclogBridge) Debug(msg string, args ...interface{}) {
	h.l.Debug(msg, h.fields(), args...)
}

func (h *hclogBridge) Info(msg string, args ...interface{}) {
	h.l.Info(msg, h.fields(), args...)
}

func (h *hclogBridge) Warn(msg string, args ...interface{}) {
	h.l.Warning(msg, h.fields(), args...)
}

func (h *hclogBridge) Error(msg string, args ...interface{}) {
	h.l.Error(msg, h.fields(), args...)
}

func (h *hclogBridge) IsTrace() bool { return h.l.GetLevel() >= DebugLevel }
func (h *hclogBridge) IsDebug() bool { return h.l.GetLevel() >= DebugLevel }
func (h *hclogBridge) IsInfo() bool  { return h.l.GetLevel() >= InfoLevel }
func (h *hclogBridge) IsWarn() bool  { return h.l.GetLevel() >= WarnLevel }
func (h *hclogBridge) IsError() bool { return h.l.GetLevel() >= ErrorLevel }

func (h *hclogBridge) ImpliedArgs() []interface{} { return h.args }

func (h *hclogBridge) With(args ...interface{}) hclog.Logger {
	return &hclogBridge{l: h.l, name: h.name, args: append(append([]interface{}{}, h.args...), args...)}
}

func (h *hclogBridge) Name() string { return h.name }

func (h *hclogBridge) Named(name string) hclog.Logger {
	n := h.name
	if n != "" {
		n = n + "." + name
	} else {
		n = name
	}
	return &hclogBridge{l: h.l, name: n, args: h.args}
}

func (h *hclogBridge) ResetNamed(name string) hclog.Logger {
	return &hclogBridge{l: h.l, name: name, args: h.args}
}

func (h *hclogBridge) SetLevel(level hclog.Level) {
	switch level {
	case hclog.Trace, hclog.Debug:
		h.l.SetLevel(DebugLevel)
	case hclog.Info:
		h.l.SetLevel(InfoLevel)
	case hclog.Warn:
		h.l.SetLevel(WarnLevel)
	case hclog.Error:
		h.l.SetLevel(ErrorLevel)
	case hclog.Off:
		h.l.SetLevel(NilLevel)
	}
}

func (h *hclogBridge) GetLevel() hclog.Level {
	switch h.l.GetLevel() {
	case DebugLevel:
		return hclog.Debug
	case InfoLevel:
		return hclog.Info
	case WarnLevel:
		return hclog.Warn
	case ErrorLevel, FatalLevel, PanicLevel:
		return hclog.Error
	default:
		return hclog.Off
	}
}

func (h *hclogBridge) StandardLogger(opts *hclog.StandardLoggerOptions) *log.Logger {
	return h.l.GetStdLogger(InfoLevel, 0)
}

func (h *hclogBridge) StandardWriter(opts *hclog.StandardLoggerOptions) io.Writer {
	return h.l
}
