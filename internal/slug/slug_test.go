package slug

import (
	"errors"
	"strings"
	"testing"
)

func TestBase(t *testing.T) {
	cases := []struct {
		title string
		want  string
	}{
		{"Hello World", "hello-world"},
		{"  Hello,   World!  ", "hello-world"},
		{"Crème brûlée à la mode", "creme-brulee-a-la-mode"},
		{"Go 1.25 released", "go-1-25-released"},
		{"snake_case and--dashes", "snake-case-and-dashes"},
		{"", Fallback},
		{"!!!", Fallback},
		{"日本語", Fallback},
	}
	for _, tc := range cases {
		if got := Base(tc.title); got != tc.want {
			t.Errorf("Base(%q) = %q, want %q", tc.title, got, tc.want)
		}
	}
}

func TestBaseTruncates(t *testing.T) {
	got := Base(strings.Repeat("ab ", 150))
	if len(got) > MaxLen {
		t.Fatalf("len = %d, want <= %d", len(got), MaxLen)
	}
	if strings.HasSuffix(got, "-") {
		t.Errorf("trailing separator in %q", got)
	}
}

func TestAllocateSuffixesInOrder(t *testing.T) {
	used := map[string]struct{}{}
	var got []string
	for range 4 {
		s, err := Allocate("Hello World", FromSet(used))
		if err != nil {
			t.Fatal(err)
		}
		used[s] = struct{}{}
		got = append(got, s)
	}
	want := []string{"hello-world", "hello-world-1", "hello-world-2", "hello-world-3"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("allocation %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAllocateFillsGap(t *testing.T) {
	used := map[string]struct{}{"hello-world": {}, "hello-world-2": {}}
	got, err := Allocate("Hello World", FromSet(used))
	if err != nil {
		t.Fatal(err)
	}
	if got != "hello-world-1" {
		t.Errorf("got %q, want hello-world-1", got)
	}
}

func TestAllocatePropagatesLookupError(t *testing.T) {
	boom := errors.New("db down")
	_, err := Allocate("x", func(string) (bool, error) { return false, boom })
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want %v", err, boom)
	}
}

func TestAllocateSuffixRespectsMaxLen(t *testing.T) {
	base := Base(strings.Repeat("a", 300))
	used := map[string]struct{}{base: {}}
	got, err := Allocate(strings.Repeat("a", 300), FromSet(used))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) > MaxLen || !strings.HasSuffix(got, "-1") {
		t.Errorf("got %q (len %d)", got, len(got))
	}
}

func TestSnapshotPrefixCoversTruncatedCandidates(t *testing.T) {
	tests := []string{
		"hello-world",
		strings.Repeat("a", 300),
		strings.Repeat("a", 196),
		strings.Repeat("ab-", 100),
	}
	for _, title := range tests {
		base := Base(title)
		prefix := SnapshotPrefix(base)
		for _, n := range []int{0, 1, 9, 10, 99, 1000, 999999} {
			if c := withSuffix(base, n); !strings.HasPrefix(c, prefix) {
				t.Errorf("candidate %q does not start with prefix %q", c, prefix)
			}
		}
	}
	if got := SnapshotPrefix("hello-world"); got != "hello-world" {
		t.Errorf("short base prefix = %q", got)
	}
}
