package rayarc

import "testing"

func TestTreeCanonicalDirectory(t *testing.T) {
	t.Parallel()

	tree := newTree[*CNTEntry]()
	tree.ensureDirectory("Data")
	tree.ensureDirectory("Data/Levels")
	tree.ensureDirectory("Sound")

	testCases := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "data", want: "Data"},
		{in: "DATA/levels", want: "Data/Levels"},
		{in: "data/levels/extra", want: "Data/Levels/extra"},
		{in: "data/other", want: "Data/other"},
		{in: "database", want: "database"},
		{in: "sound", want: "Sound"},
		{in: "music", want: "music"},
	}

	for _, tc := range testCases {
		if got := tree.canonicalDirectory(tc.in); got != tc.want {
			t.Fatalf("canonicalDirectory(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}
