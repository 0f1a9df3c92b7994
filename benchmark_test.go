package rayarc

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

const (
	benchDefaultEntries    = 128
	benchLargeIndexEntries = 20000
)

var (
	// benchListSink prevents compiler elimination in list benchmark loops.
	benchListSink int
)

func BenchmarkOpenParseCNT(b *testing.B) {
	m := createBenchArchive(b, FormatCNT, benchDefaultEntries, nil)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a, err := OpenReaderAt(m, m.Size(), "bench.cnt", OpenOptions{Format: FormatCNT})
		if err != nil {
			b.Fatal(err)
		}
		_ = a.List()
		_ = a.Close()
	}
}

func BenchmarkOpenParseLargeIndexIPK(b *testing.B) {
	m := createBenchArchive(b, FormatIPK, benchLargeIndexEntries, benchmarkLargePath)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a, err := OpenReaderAt(m, m.Size(), "bench.ipk", OpenOptions{Format: FormatIPK})
		if err != nil {
			b.Fatal(err)
		}

		if len(a.List()) == 0 {
			b.Fatal("empty entries")
		}

		_ = a.Close()
	}
}

func BenchmarkListLargeIndex(b *testing.B) {
	m := createBenchArchive(b, FormatCNT, benchLargeIndexEntries, benchmarkLargePath)
	a, err := OpenReaderAt(m, m.Size(), "bench.cnt", OpenOptions{Format: FormatCNT})
	if err != nil {
		b.Fatal(err)
	}
	defer func() { _ = a.Close() }()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		total := 0
		for _, fi := range a.List() {
			total += len(fi.Name)
			total += int(fi.Size)
		}

		benchListSink = total
	}
}

func BenchmarkExtract(b *testing.B) {
	benchmarkExtractWithSanitize(b, false)
}

func BenchmarkExtractSanitize(b *testing.B) {
	benchmarkExtractWithSanitize(b, true)
}

// benchmarkExtractWithSanitize benchmarks full extract flow with optional path sanitization.
func benchmarkExtractWithSanitize(b *testing.B, sanitizeNames bool) {
	m := createBenchArchive(b, FormatCNT, benchDefaultEntries, nil)
	dir := b.TempDir()
	opts := ExtractOptions{
		MaxWorkers:    4,
		SanitizeNames: sanitizeNames,
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a, err := OpenReaderAt(m, m.Size(), "bench.cnt", OpenOptions{Format: FormatCNT})
		if err != nil {
			b.Fatal(err)
		}

		out := filepath.Join(dir, "ext", fmt.Sprintf("run%d", i))
		err = ExtractAll(context.Background(), a, out, opts)
		_ = a.Close()
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRepackRayman1PC(b *testing.B) {
	benchmarkRepack(b, FormatRayman1PC, OpenOptions{})
}

func BenchmarkRepackCNTTranscode(b *testing.B) {
	keep := OpenOptions{CNT: CNTOptions{Protection: ProtectionKeep, FileXORKey: [4]byte{1, 2, 3, 4}}}
	m := createBenchArchiveWithOptions(b, FormatCNT, keep, benchDefaultEntries, nil)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a, err := OpenReaderAt(m, m.Size(), "bench.cnt", OpenOptions{Format: FormatCNT})
		if err != nil {
			b.Fatal(err)
		}

		_, err = a.Commit(context.Background(), &memFile{}, WriteOptions{})
		_ = a.Close()
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkPackIPKWithCompress(b *testing.B) {
	data := bytes.Repeat([]byte("x"), 2000)
	opts := OpenOptions{IPK: IPKOptions{Compress: includeRules("*")}}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a, err := Create(FormatIPK, opts)
		if err != nil {
			b.Fatal(err)
		}

		for j := 0; j < 10; j++ {
			if err := a.Add(fmt.Sprintf("data/f%d.isc", j), data); err != nil {
				b.Fatal(err)
			}
		}

		_, err = a.Commit(context.Background(), &memFile{}, WriteOptions{})
		_ = a.Close()
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEditReplaceCommitFile(b *testing.B) {
	m := createBenchArchive(b, FormatCNT, benchDefaultEntries, nil)
	dir := b.TempDir()
	replacePayload := bytes.Repeat([]byte("replace"), 2048)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		out := filepath.Join(dir, fmt.Sprintf("edit-replace-%d.cnt", i))
		if err := os.WriteFile(out, m.data, 0o600); err != nil {
			b.Fatal(err)
		}

		a, err := Open(out, OpenOptions{})
		if err != nil {
			b.Fatal(err)
		}

		if err := a.Replace("e/f0.txt", replacePayload); err != nil {
			b.Fatal(err)
		}

		_, err = a.CommitFile(context.Background(), out, CommitOptions{})
		_ = a.Close()
		if err != nil {
			b.Fatal(err)
		}
	}
}

// benchmarkRepack measures repack of an unmodified archive of format.
func benchmarkRepack(b *testing.B, format Format, opts OpenOptions) {
	m := createBenchArchiveWithOptions(b, format, opts, benchDefaultEntries, nil)
	opts.Format = format

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		a, err := OpenReaderAt(m, m.Size(), "bench", opts)
		if err != nil {
			b.Fatal(err)
		}

		_, err = a.Commit(context.Background(), &memFile{}, WriteOptions{})
		_ = a.Close()
		if err != nil {
			b.Fatal(err)
		}
	}
}

// createBenchArchive builds a deterministic benchmark archive with fixed-size entries.
func createBenchArchive(b *testing.B, format Format, numEntries int, pathFn func(int) string) *memFile {
	return createBenchArchiveWithOptions(b, format, OpenOptions{}, numEntries, pathFn)
}

// createBenchArchiveWithOptions builds a benchmark archive with driver options.
func createBenchArchiveWithOptions(b *testing.B, format Format, opts OpenOptions, numEntries int, pathFn func(int) string) *memFile {
	b.Helper()

	if pathFn == nil {
		pathFn = func(i int) string {
			if format == FormatRayman1PC {
				return fmt.Sprintf("F%d", i)
			}

			return fmt.Sprintf("e/f%d.txt", i)
		}
	}

	files := make([]testFile, numEntries)
	payload := bytes.Repeat([]byte("content"), 14)
	for i := range files {
		files[i] = testFile{path: pathFn(i), data: payload}
	}

	return buildArchive(b, format, opts, files)
}

// benchmarkLargePath returns deterministic long-ish paths for index-heavy benchmarks.
func benchmarkLargePath(i int) string {
	exts := [...]string{"isc", "tsc", "act", "png", "tga", "wav", "ckd", "gf", "apm", "sna", "txt"}
	ext := exts[i%len(exts)]

	return fmt.Sprintf("grp_%03d/pack_%03d/entry_%05d_%08x.%s", i%173, (i/173)%211, i, i*2654435761, ext)
}
