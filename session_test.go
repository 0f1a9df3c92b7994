package rayarc

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeArchiveFile builds an archive and stores it at path.
func writeArchiveFile(t *testing.T, path string, format Format, opts OpenOptions, files []testFile) {
	t.Helper()

	m := buildArchive(t, format, opts, files)
	if err := os.WriteFile(path, m.data, 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// readFileEntry opens container at path and reads one decoded file.
func readFileEntry(t *testing.T, path string, entryPath string) []byte {
	t.Helper()

	a, err := Open(path, OpenOptions{})
	if err != nil {
		t.Fatalf("Open(%s): %v", path, err)
	}
	defer func() { _ = a.Close() }()

	return readAll(t, a, entryPath)
}

func TestSessionCommitFileAddReplaceRemove(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "Textures.cnt")
	writeArchiveFile(t, path, FormatCNT, OpenOptions{}, []testFile{
		{path: "World/Levels/menu.gf", data: []byte("old-menu")},
		{path: "World/Levels/sub/b.gf", data: []byte("old-b")},
		{path: "fix.sna", data: []byte("fix")},
	})

	a, err := Open(path, OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = a.Close() }()

	if a.Format() != FormatCNT || a.Name() != "Textures.cnt" {
		t.Fatalf("format=%s name=%s", a.Format(), a.Name())
	}

	if err := a.Replace("world/levels/MENU.gf", []byte("new-menu")); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if err := a.Add(`Sound\jungle.apm`, []byte("jungle")); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := a.Remove("World/Levels/sub/b.gf"); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	// staged content is readable before commit
	if data := readAll(t, a, "World/Levels/menu.gf"); string(data) != "new-menu" {
		t.Fatalf("staged menu.gf=%q", data)
	}

	res, err := a.CommitFile(context.Background(), path, CommitOptions{})
	if err != nil {
		t.Fatalf("CommitFile: %v", err)
	}
	if res.WrittenEntries != 3 {
		t.Fatalf("written=%d, want 3", res.WrittenEntries)
	}

	// session is rebound to the written file and holds no staged content
	for _, fi := range a.List() {
		if fi.Pending {
			t.Fatalf("%s still pending after commit", fi.Path())
		}
	}

	want := map[string]string{
		"World/Levels/menu.gf": "new-menu",
		"Sound/jungle.apm":     "jungle",
		"fix.sna":              "fix",
	}
	for p, content := range want {
		if data := readAll(t, a, p); string(data) != content {
			t.Fatalf("session %s=%q, want %q", p, data, content)
		}
		if data := readFileEntry(t, path, p); string(data) != content {
			t.Fatalf("file %s=%q, want %q", p, data, content)
		}
	}

	if _, err := a.Stat("World/Levels/sub/b.gf"); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), ".Textures.cnt.tmp-*"))
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("temp files left: %v", matches)
	}
}

func TestSessionCommitFileFailureKeepsSource(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "LEVEL.DAT")
	keep := OpenOptions{Rayman1PC: Rayman1PCOptions{Protection: ProtectionKeep, XORKey: 0x77}}
	writeArchiveFile(t, path, FormatRayman1PC, keep, []testFile{
		{path: "A", data: []byte("orig")},
		{path: "B", data: []byte("other")},
	})

	original, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	corrupt := append([]byte(nil), original...)
	corrupt[r1pcHeaderSize(2)] ^= 0xFF
	if err := os.WriteFile(path, corrupt, 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	a, err := Open(path, OpenOptions{Format: FormatRayman1PC})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = a.Close() }()

	if err := a.Replace("B", []byte("new")); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	if _, err := a.CommitFile(context.Background(), path, CommitOptions{BackupKeep: 1}); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, corrupt) {
		t.Fatal("failed commit must leave destination untouched")
	}
	if _, err := os.Stat(path + ".bak"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("failed commit must not create backup, stat err=%v", err)
	}

	// the session still holds its staged replacement
	if data := readAll(t, a, "B"); string(data) != "new" {
		t.Fatalf("B=%q, want staged content", data)
	}
}

func TestSessionCommitFileBackupKeepPolicies(t *testing.T) {
	t.Parallel()

	replaceAndCommit := func(t *testing.T, path string, value string, keep int) {
		t.Helper()

		a, err := Open(path, OpenOptions{})
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		defer func() { _ = a.Close() }()

		if err := a.Replace("a.txt", []byte(value)); err != nil {
			t.Fatalf("Replace: %v", err)
		}

		if _, err := a.CommitFile(context.Background(), path, CommitOptions{BackupKeep: keep}); err != nil {
			t.Fatalf("CommitFile: %v", err)
		}
	}

	t.Run("keep0 writes no backup", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "bundle.ipk")
		writeArchiveFile(t, path, FormatIPK, OpenOptions{}, []testFile{{path: "a.txt", data: []byte("v0")}})

		replaceAndCommit(t, path, "v1", 0)

		if _, err := os.Stat(path + ".bak"); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf(".bak must not exist for BackupKeep=0, stat err=%v", err)
		}
		if data := readFileEntry(t, path, "a.txt"); string(data) != "v1" {
			t.Fatalf("a.txt=%q, want v1", data)
		}
	})

	t.Run("keep2 rotates backups", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "bundle.ipk")
		writeArchiveFile(t, path, FormatIPK, OpenOptions{}, []testFile{{path: "a.txt", data: []byte("v0")}})

		replaceAndCommit(t, path, "v1", 2)
		replaceAndCommit(t, path, "v2", 2)
		replaceAndCommit(t, path, "v3", 2)

		testCases := map[string]string{
			path:            "v3",
			path + ".bak":   "v2",
			path + ".bak.1": "v1",
		}
		for p, want := range testCases {
			if data := readFileEntry(t, p, "a.txt"); string(data) != want {
				t.Fatalf("%s a.txt=%q, want %q", filepath.Base(p), data, want)
			}
		}

		if _, err := os.Stat(path + ".bak.2"); !errors.Is(err, os.ErrNotExist) {
			t.Fatalf(".bak.2 must not exist for BackupKeep=2, stat err=%v", err)
		}
	})
}

func TestSessionCommitFileNewPath(t *testing.T) {
	t.Parallel()

	a, err := Create(FormatCNT, OpenOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer func() { _ = a.Close() }()

	if err := a.Add("a.bin", []byte("payload")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	path := filepath.Join(t.TempDir(), "nested", "new.cnt")
	if _, err := a.CommitFile(context.Background(), path, CommitOptions{BackupKeep: 3}); err != nil {
		t.Fatalf("CommitFile: %v", err)
	}

	if a.Name() != "new.cnt" {
		t.Fatalf("Name=%q after rebind", a.Name())
	}
	if data := readFileEntry(t, path, "a.bin"); string(data) != "payload" {
		t.Fatalf("a.bin=%q", data)
	}
	if _, err := os.Stat(path + ".bak"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("first commit must not create backup, stat err=%v", err)
	}

	if _, err := a.CommitFile(context.Background(), "  ", CommitOptions{}); !errors.Is(err, ErrInvalidEntryPath) {
		t.Fatalf("expected ErrInvalidEntryPath for empty path, got %v", err)
	}
}

func TestSessionLookupErrors(t *testing.T) {
	t.Parallel()

	a, err := Create(FormatIPK, OpenOptions{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer func() { _ = a.Close() }()

	if err := a.Add("world/a.isc", []byte("a")); err != nil {
		t.Fatalf("Add: %v", err)
	}

	testCases := []struct {
		name string
		err  error
		want error
	}{
		{name: "duplicate add", err: a.Add("WORLD/A.ISC", []byte("b")), want: ErrDuplicateEntryPath},
		{name: "replace missing", err: a.Replace("world/missing.isc", []byte("b")), want: ErrEntryNotFound},
		{name: "remove missing", err: a.Remove("missing"), want: ErrEntryNotFound},
		{name: "add empty path", err: a.Add("/", []byte("b")), want: ErrInvalidEntryPath},
		{name: "add parent only", err: a.Add("..", []byte("b")), want: ErrInvalidEntryPath},
	}

	for _, tc := range testCases {
		if !errors.Is(tc.err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, tc.err)
		}
	}

	if _, err := a.Open("world/missing.isc"); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("Open missing: expected ErrEntryNotFound, got %v", err)
	}
}

func TestSessionStatSizes(t *testing.T) {
	t.Parallel()

	opts := OpenOptions{IPK: IPKOptions{Compress: includeRules("*.isc")}}
	payload := bytes.Repeat([]byte("stat"), 256)
	m := buildArchive(t, FormatIPK, opts, []testFile{{path: "a.isc", data: payload}})
	a := openMem(t, FormatIPK, opts, m)

	fi, err := a.Stat("a.isc")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}

	if fi.Size != int64(len(payload)) || fi.EncodedSize <= 0 || fi.EncodedSize >= fi.Size || fi.Pending {
		t.Fatalf("Stat=%+v", fi)
	}

	labels := make([]string, 0, len(fi.Info))
	for _, f := range fi.Info {
		labels = append(labels, f.Label)
	}
	if !strings.Contains(strings.Join(labels, ","), "Path checksum") {
		t.Fatalf("Info labels=%v", labels)
	}
}

func TestSessionClose(t *testing.T) {
	t.Parallel()

	spillDir := t.TempDir()
	a, err := Create(FormatCNT, OpenOptions{Staging: StagingOptions{Dir: spillDir, SpillThreshold: 4}})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := a.Add("big.bin", bytes.Repeat([]byte("x"), 64)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	entries, err := os.ReadDir(spillDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("spill dir not cleaned: %d entries", len(entries))
	}

	if err := a.Add("late.bin", []byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("Add after Close: expected ErrClosed, got %v", err)
	}
	if _, err := a.Open("big.bin"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Open after Close: expected ErrClosed, got %v", err)
	}
	if _, err := a.Commit(context.Background(), &memFile{}, WriteOptions{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Commit after Close: expected ErrClosed, got %v", err)
	}
}

func TestSessionSpilledImportsRoundTrip(t *testing.T) {
	t.Parallel()

	opts := OpenOptions{Staging: StagingOptions{Dir: t.TempDir(), SpillThreshold: 16, CompressSpill: true}}
	a, err := Create(FormatCNT, opts)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer func() { _ = a.Close() }()

	payload := randomPayload(70, 5000)
	if err := a.Add("Data/large.bin", payload); err != nil {
		t.Fatalf("Add: %v", err)
	}

	out := &memFile{}
	if _, err := a.Commit(context.Background(), out, WriteOptions{}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	reopened := openMem(t, FormatCNT, OpenOptions{}, out)
	if data := readAll(t, reopened, "Data/large.bin"); !bytes.Equal(data, payload) {
		t.Fatal("spilled import content mismatch")
	}
}

func TestOpenDetectsFormat(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	testCases := []struct {
		format Format
		name   string
	}{
		{format: FormatRayman1PC, name: "sound.bin"},
		{format: FormatCNT, name: "vignette.bin"},
		{format: FormatIPK, name: "bundle.bin"},
	}

	for _, tc := range testCases {
		path := filepath.Join(dir, tc.name)
		writeArchiveFile(t, path, tc.format, OpenOptions{}, []testFile{{path: "FILE", data: []byte("data")}})

		a, err := Open(path, OpenOptions{})
		if err != nil {
			t.Fatalf("Open(%s): %v", tc.name, err)
		}

		if a.Format() != tc.format {
			t.Fatalf("%s detected as %s, want %s", tc.name, a.Format(), tc.format)
		}

		rc, err := a.Open("FILE")
		if err != nil {
			t.Fatalf("Open FILE: %v", err)
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		_ = a.Close()
		if err != nil || string(data) != "data" {
			t.Fatalf("%s FILE=%q err=%v", tc.name, data, err)
		}
	}
}
