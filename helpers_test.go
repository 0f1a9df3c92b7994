package rayarc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/woozymasta/pathrules"
)

// includeRules builds include rules from raw patterns for concise test setup.
func includeRules(patterns ...string) []pathrules.Rule {
	rules := make([]pathrules.Rule, 0, len(patterns))
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}

		rules = append(rules, pathrules.Rule{
			Action:  pathrules.ActionInclude,
			Pattern: pattern,
		})
	}

	return rules
}

// memFile is an in-memory io.WriteSeeker that can be reopened as io.ReaderAt.
type memFile struct {
	data []byte
	pos  int64
}

func (m *memFile) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.data)) {
		grown := make([]byte, end)
		copy(grown, m.data)
		m.data = grown
	}

	copy(m.data[m.pos:end], p)
	m.pos = end
	return len(p), nil
}

func (m *memFile) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = m.pos + offset
	case io.SeekEnd:
		next = int64(len(m.data)) + offset
	default:
		return 0, errors.New("memFile: bad whence")
	}

	if next < 0 {
		return 0, errors.New("memFile: negative position")
	}

	m.pos = next
	return next, nil
}

func (m *memFile) ReadAt(p []byte, off int64) (int, error) {
	return bytes.NewReader(m.data).ReadAt(p, off)
}

func (m *memFile) Size() int64 {
	return int64(len(m.data))
}

// testFile is one named payload used to build test archives.
type testFile struct {
	path string
	data []byte
}

// randomPayload returns deterministic pseudo-random bytes.
func randomPayload(seed int64, n int) []byte {
	out := make([]byte, n)
	rng := rand.New(rand.NewSource(seed))
	for i := range out {
		out[i] = byte(rng.Intn(256))
	}

	return out
}

// buildArchive creates an archive of format with files and returns its bytes.
func buildArchive(t testing.TB, format Format, opts OpenOptions, files []testFile) *memFile {
	t.Helper()

	a, err := Create(format, opts)
	if err != nil {
		t.Fatalf("Create(%s): %v", format, err)
	}
	defer func() { _ = a.Close() }()

	for _, f := range files {
		if err := a.Add(f.path, f.data); err != nil {
			t.Fatalf("Add(%s): %v", f.path, err)
		}
	}

	out := &memFile{}
	if _, err := a.Commit(context.Background(), out, WriteOptions{}); err != nil {
		t.Fatalf("Commit(%s): %v", format, err)
	}

	return out
}

// openMem opens archive bytes with forced format.
func openMem(t testing.TB, format Format, opts OpenOptions, m *memFile) Archive {
	t.Helper()

	opts.Format = format
	a, err := OpenReaderAt(m, m.Size(), "test."+string(format), opts)
	if err != nil {
		t.Fatalf("OpenReaderAt(%s): %v", format, err)
	}

	t.Cleanup(func() { _ = a.Close() })
	return a
}

// readAll reads one decoded file from archive.
func readAll(t testing.TB, a Archive, path string) []byte {
	t.Helper()

	rc, err := a.Open(path)
	if err != nil {
		t.Fatalf("Open(%s): %v", path, err)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}

	return data
}

// listPaths returns sorted item paths of archive.
func listPaths(a Archive) []string {
	files := a.List()
	out := make([]string, 0, len(files))
	for _, fi := range files {
		out = append(out, fi.Path())
	}

	sort.Strings(out)
	return out
}

// assertMonotonicOffsets checks that payloads follow the header without overlap.
func assertMonotonicOffsets(t *testing.T, headerSize int64, offsets []int64, sizes []int64) {
	t.Helper()

	if len(offsets) == 0 {
		return
	}

	if offsets[0] != headerSize {
		t.Fatalf("first offset=%d, want header size %d", offsets[0], headerSize)
	}

	for i := 1; i < len(offsets); i++ {
		if offsets[i-1]+sizes[i-1] > offsets[i] {
			t.Fatalf("entry %d [%d,+%d) overlaps entry %d at %d", i-1, offsets[i-1], sizes[i-1], i, offsets[i])
		}
	}
}

// equalStrings reports whether two string slices are equal element by element.
func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

// infoValue returns the value of a labeled FileInfo field, or "".
func infoValue(fi FileInfo, label string) string {
	for _, field := range fi.Info {
		if field.Label == label {
			return field.Value
		}
	}

	return ""
}
