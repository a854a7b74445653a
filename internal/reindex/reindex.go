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

// Package reindex rebuilds a Lander's search index from the dated log files
// already on disk, for recovering from a lost or corrupt index.db without
// reconnecting to a Server. It is only ever driven from the wtlog-lander
// command's interactive console, by its "reindex" command.
package reindex

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/wentanlee/wtlog/diskrecord"
	"github.com/wentanlee/wtlog/fingerprint"
	"github.com/wentanlee/wtlog/searchindex"
)

var dayFileName = regexp.MustCompile(`^\d{8}$`)

// countingReader tracks how many bytes have been consumed so each decoded
// record's starting offset can be recovered without buffering the file.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// Progress reports, after each dated file finishes, how many records it
// contributed.
type Progress func(file string, records int)

// Run walks every dated log file under dir in name order and inserts one
// search-index row per record, keyed by a content-only fingerprint (the
// original reply-correlation fingerprint is never persisted to disk, so it
// cannot be recovered). It returns the total record count indexed.
func Run(dir string, idx *searchindex.Index, progress Progress) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reindex: read directory %q: %w", dir, err)
	}

	total := 0
	for _, e := range entries {
		if e.IsDir() || !dayFileName.MatchString(e.Name()) {
			continue
		}

		n, err := indexFile(filepath.Join(dir, e.Name()), e.Name(), idx)
		if err != nil {
			return total, err
		}
		total += n

		if progress != nil {
			progress(e.Name(), n)
		}
	}

	return total, nil
}

func indexFile(path, dayFile string, idx *searchindex.Index) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("reindex: open %q: %w", path, err)
	}
	defer f.Close()

	cr := &countingReader{r: f}
	count := 0

	for {
		offset := cr.n

		rec, err := diskrecord.Decode(cr)
		if err == io.EOF {
			break
		}
		if err != nil {
			return count, fmt.Errorf("reindex: decode %q at offset %d: %w", path, offset, err)
		}

		fp := fingerprint.FromContent(rec.Content)
		if err := idx.Insert(fp, dayFile, offset, rec.Level, rec.Time); err != nil {
			return count, fmt.Errorf("reindex: insert %q offset %d: %w", path, offset, err)
		}
		count++
	}

	return count, nil
}
