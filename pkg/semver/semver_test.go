package semver

import "testing"

func TestSortVersions(t *testing.T) {
	got := SortVersions([]string{"1.0.0", "2.0.0", "1.5.0", "not-a-version"})
	want := []string{"2.0.0", "1.5.0", "1.0.0"}

	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestSortVersionsAscending(t *testing.T) {
	got := SortVersionsAscending([]string{"2.0.0", "1.0.0", "1.5.0"})
	want := []string{"1.0.0", "1.5.0", "2.0.0"}

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestGetLatestVersion(t *testing.T) {
	if got := GetLatestVersion(nil); got != "" {
		t.Fatalf("GetLatestVersion(nil) = %q, want empty", got)
	}
	if got := GetLatestVersion([]string{"1.0.0", "1.2.0", "1.1.0"}); got != "1.2.0" {
		t.Fatalf("GetLatestVersion = %q, want 1.2.0", got)
	}
}

func TestGetLatestNonYanked(t *testing.T) {
	yanked := map[string]bool{"1.2.0": true}
	got := GetLatestNonYanked([]string{"1.0.0", "1.2.0", "1.1.0"}, yanked)
	if got != "1.1.0" {
		t.Fatalf("GetLatestNonYanked = %q, want 1.1.0", got)
	}
}

func TestIsPrerelease(t *testing.T) {
	if !IsPrerelease("1.0.0-beta.1") {
		t.Fatal("expected 1.0.0-beta.1 to be a prerelease")
	}
	if IsPrerelease("1.0.0") {
		t.Fatal("expected 1.0.0 to not be a prerelease")
	}
	if IsPrerelease("garbage") {
		t.Fatal("expected invalid version to not be a prerelease")
	}
}

func TestCompareVersions(t *testing.T) {
	cases := []struct {
		v1, v2 string
		want   int
	}{
		{"1.0.0", "2.0.0", -1},
		{"2.0.0", "1.0.0", 1},
		{"1.0.0", "1.0.0", 0},
		{"bad", "1.0.0", 2},
		{"1.0.0", "bad", 2},
	}
	for _, c := range cases {
		if got := CompareVersions(c.v1, c.v2); got != c.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want %d", c.v1, c.v2, got, c.want)
		}
	}
}
