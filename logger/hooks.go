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
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// writerHook fires a formatted entry into a fixed io.Writer for a fixed
// subset of levels. stdout and stderr each get one, split by severity, and
// every configured log file gets one.
type writerHook struct {
	m   sync.Mutex
	w   io.Writer
	f   logrus.Formatter
	lvl []logrus.Level
}

func newStdHook(w io.Writer, f logrus.Formatter, lvl []logrus.Level) *writerHook {
	return &writerHook{w: w, f: f, lvl: lvl}
}

func (h *writerHook) Levels() []logrus.Level {
	return h.lvl
}

func (h *writerHook) Fire(e *logrus.Entry) error {
	b, err := h.f.Format(e)
	if err != nil {
		return err
	}

	h.m.Lock()
	defer h.m.Unlock()

	_, err = h.w.Write(b)
	return err
}

// newFileHook opens (and creates, if requested) the configured file path and
// returns a hook writing every entry whose level matches f.LogLevel (or
// every level, if unset) into it. The returned io.Closer closes the
// underlying file descriptor.
func newFileHook(f OptionsFile, fmtr logrus.Formatter) (logrus.Hook, io.Closer, error) {
	if f.CreatePath {
		if e := os.MkdirAll(filepath.Dir(f.Filepath), f.pathMode()); e != nil {
			return nil, nil, e
		}
	}

	flags := os.O_APPEND | os.O_WRONLY
	if f.Create {
		flags |= os.O_CREATE
	}

	fd, err := os.OpenFile(f.Filepath, flags, f.fileMode())
	if err != nil {
		return nil, nil, err
	}

	lvl := make([]logrus.Level, 0, len(logrus.AllLevels))
	if len(f.LogLevel) == 0 {
		lvl = append(lvl, logrus.AllLevels...)
	} else {
		for _, s := range f.LogLevel {
			lvl = append(lvl, GetLevelString(s).Logrus())
		}
	}

	return newStdHook(fd, fmtr, lvl), fd, nil
}

func (f OptionsFile) fileMode() os.FileMode {
	if f.FileMode == 0 {
		return 0644
	}
	return f.FileMode
}

func (f OptionsFile) pathMode() os.FileMode {
	if f.PathMode == 0 {
		return 0755
	}
	return f.PathMode
}
