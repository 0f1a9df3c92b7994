package rayarc

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/woozymasta/pathrules"
)

func TestPathMatcherMatch(t *testing.T) {
	t.Parallel()

	matcher, err := newPathMatcher(includeRules(
		"*.isc",
		"textures/",
		"/cache/itf_cooked/**/*.ckd",
	), pathrules.MatcherOptions{
		CaseInsensitive: true,
		DefaultAction:   pathrules.ActionExclude,
	})
	if err != nil {
		t.Fatalf("new matcher: %v", err)
	}

	cases := []struct {
		name string
		path string
		want bool
	}{
		{name: "extension rule", path: `world\home\home.isc`, want: true},
		{name: "dir-only rule", path: "world/textures/a.png", want: true},
		{name: "anchored root match", path: "cache/itf_cooked/pc/a.ckd", want: true},
		{name: "anchored root miss", path: "x/cache/itf_cooked/pc/a.ckd", want: false},
		{name: "no match", path: "sound/music.wav", want: false},
		{name: "empty", path: "", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := matcher.Match(tc.path); got != tc.want {
				t.Fatalf("Match(%q) = %v, want %v", tc.path, got, tc.want)
			}
		})
	}
}

func TestPathMatcherIncludeExcludeRules(t *testing.T) {
	t.Parallel()

	matcher, err := newPathMatcher([]pathrules.Rule{
		{Action: pathrules.ActionInclude, Pattern: "world/**"},
		{Action: pathrules.ActionExclude, Pattern: "world/tmp/**"},
		{Action: pathrules.ActionInclude, Pattern: "world/tmp/keep/**"},
	}, pathrules.MatcherOptions{
		CaseInsensitive: true,
		DefaultAction:   pathrules.ActionExclude,
	})
	if err != nil {
		t.Fatalf("new matcher: %v", err)
	}

	if !matcher.Match("world/home.isc") {
		t.Fatal("world/home.isc must be included by rules")
	}

	if matcher.Match("world/tmp/a.isc") {
		t.Fatal("world/tmp/a.isc must be excluded by rules")
	}

	if !matcher.Match("WORLD/TMP/keep/a.isc") {
		t.Fatal("WORLD/TMP/keep/a.isc must be re-included by rules")
	}
}

func TestPathMatcherEmptyAndInvalidRules(t *testing.T) {
	t.Parallel()

	matcher, err := newPathMatcher(includeRules("  ", ""), pathrules.MatcherOptions{})
	if err != nil || matcher != nil {
		t.Fatalf("empty rules: matcher=%v err=%v", matcher, err)
	}
	if matcher.Match("anything") {
		t.Fatal("nil matcher must match nothing")
	}

	_, err = newPathMatcher([]pathrules.Rule{
		{Action: pathrules.ActionUnknown, Pattern: "*.isc"},
	}, pathrules.MatcherOptions{
		DefaultAction: pathrules.ActionExclude,
	})
	if !errors.Is(err, ErrInvalidPathRules) {
		t.Fatalf("expected ErrInvalidPathRules, got %v", err)
	}
}

func TestShouldCompressPolicy(t *testing.T) {
	t.Parallel()

	opts := IPKOptions{
		Compress:        includeRules("*.bin"),
		MinCompressSize: 100,
		MaxCompressSize: 1000,
	}
	opts.applyDefaults()

	matcher, err := newPathMatcher(opts.Compress, opts.CompressMatcherOptions)
	if err != nil {
		t.Fatalf("new matcher: %v", err)
	}

	if shouldCompress(opts, matcher, "a.bin", 99) {
		t.Fatal("expected false for file below min size")
	}

	if shouldCompress(opts, matcher, "a.bin", 1001) {
		t.Fatal("expected false for file above max size")
	}

	if shouldCompress(opts, matcher, "a.txt", 500) {
		t.Fatal("expected false for unmatched path")
	}

	if !shouldCompress(opts, matcher, "a.bin", 500) {
		t.Fatal("expected true for matched path in size range")
	}

	if shouldCompress(opts, nil, "a.bin", 500) {
		t.Fatal("expected false without rules")
	}
}

func TestZlibStreamRoundTrip(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		data []byte
	}{
		{name: "repetitive", data: bytes.Repeat([]byte("abcabcabc"), 700)},
		{name: "text", data: []byte(`<ActorTemplate CLASS="Actor_Template"/>`)},
		{name: "random", data: randomPayload(42, 8192)},
		{name: "empty", data: nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			compressed, err := compressZlib(tc.data)
			if err != nil {
				t.Fatalf("compressZlib: %v", err)
			}

			got, err := io.ReadAll(&zlibStreamReader{src: bytes.NewReader(compressed), name: tc.name})
			if err != nil {
				t.Fatalf("decode: %v", err)
			}

			if !bytes.Equal(got, tc.data) {
				t.Fatal("zlib round trip mismatch")
			}
		})
	}
}

func TestZlibStreamReaderBadHeader(t *testing.T) {
	t.Parallel()

	_, err := io.ReadAll(&zlibStreamReader{src: bytes.NewReader([]byte{0, 0, 0, 0}), name: "bad"})
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}
