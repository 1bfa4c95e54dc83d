package layout

import "testing"

func TestPrefix(t *testing.T) {
	cases := []struct {
		name string
		want string
	}{
		{"a", "1"},
		{"bb", "2"},
		{"ccc", "3/c"},
		{"dddd", "dd/dd"},
		{"Serde", "se/rd"},
		{"a-bcd", "a-/bc"},
	}
	for _, c := range cases {
		got, err := Prefix(c.name)
		if err != nil {
			t.Fatalf("Prefix(%q) error: %v", c.name, err)
		}
		if got != c.want {
			t.Errorf("Prefix(%q) = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestPrefixInvalidName(t *testing.T) {
	if _, err := Prefix(""); err == nil {
		t.Fatal("expected error for empty name")
	}
	if _, err := Prefix("bad/name"); err == nil {
		t.Fatal("expected error for name with slash")
	}
}

func TestIndexPathPreservesCase(t *testing.T) {
	got, err := IndexPath("Serde")
	if err != nil {
		t.Fatalf("IndexPath error: %v", err)
	}
	if got != "se/rd/Serde" {
		t.Errorf("IndexPath(Serde) = %q, want se/rd/Serde", got)
	}
}

func TestArtifactPath(t *testing.T) {
	got, err := ArtifactPath("foo", "1.2.3")
	if err != nil {
		t.Fatalf("ArtifactPath error: %v", err)
	}
	if got != "crates/foo/foo-1.2.3.crate" {
		t.Errorf("ArtifactPath = %q", got)
	}
}

func TestCollidesInPrefix(t *testing.T) {
	collides, err := CollidesInPrefix("Foo", "foo")
	if err != nil {
		t.Fatalf("CollidesInPrefix error: %v", err)
	}
	if !collides {
		t.Fatal("expected Foo/foo to collide")
	}

	collides, err = CollidesInPrefix("foo", "foo")
	if err != nil {
		t.Fatalf("CollidesInPrefix error: %v", err)
	}
	if collides {
		t.Fatal("identical names should not be reported as colliding")
	}

	collides, err = CollidesInPrefix("foo", "bar")
	if err != nil {
		t.Fatalf("CollidesInPrefix error: %v", err)
	}
	if collides {
		t.Fatal("unrelated names should not collide")
	}
}
