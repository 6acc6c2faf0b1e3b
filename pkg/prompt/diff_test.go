package prompt

import "testing"

func TestUnifiedDiff(t *testing.T) {
	a := "Hello\nWorld\nBye"
	b := "Hello\nEveryone\nBye"
	want := "--- a\n+++ b\n Hello\n+Everyone\n-World\n Bye\n"
	if d := UnifiedDiff(a, b); d != want {
		t.Fatalf("diff = %q want %q", d, want)
	}
	if UnifiedDiff(a, a) != "" {
		t.Fatal("identical input should produce no diff")
	}
}

func TestStoreDiff(t *testing.T) {
	s := NewStore()
	p1, _, err := s.Save(Prompt{Name: "x", Body: "A"})
	if err != nil {
		t.Fatal(err)
	}
	p2, _, err := s.Save(Prompt{Name: "x", Body: "B"})
	if err != nil {
		t.Fatal(err)
	}
	if d := s.Diff("x", p1.Version, p2.Version); d != "--- a\n+++ b\n+B\n-A\n" {
		t.Fatalf("unexpected diff %q", d)
	}
	if s.Diff("x", 1, 9) != "" {
		t.Fatal("missing version should give empty diff")
	}
}
