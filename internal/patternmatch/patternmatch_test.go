package patternmatch

import "testing"

func TestMatchCaptures(t *testing.T) {
	m, err := Compile([]PatternSpec{
		{ID: "generated", Regex: `Generated data: (?P<payload>.*)`},
		{ID: "listening", Regex: `listening on port (?P<port>\d+)`},
	})
	if err != nil {
		t.Fatal(err)
	}

	matches := m.Match("Generated data: hello-world")
	if len(matches) != 1 || matches[0].PatternID != "generated" {
		t.Fatalf("expected one match on generated, got %+v", matches)
	}
	if matches[0].Captures["payload"] != "hello-world" {
		t.Fatalf("expected payload capture, got %+v", matches[0].Captures)
	}
}

func TestMatchDeclarationOrder(t *testing.T) {
	m, err := Compile([]PatternSpec{
		{ID: "a", Regex: `foo`},
		{ID: "b", Regex: `o`},
	})
	if err != nil {
		t.Fatal(err)
	}
	matches := m.Match("foo")
	if len(matches) != 2 || matches[0].PatternID != "a" || matches[1].PatternID != "b" {
		t.Fatalf("expected matches in declaration order, got %+v", matches)
	}
}

func TestAny(t *testing.T) {
	m, err := Compile([]PatternSpec{{ID: "ready", Regex: `listening on port`}})
	if err != nil {
		t.Fatal(err)
	}
	if !m.Any("server listening on port 3000") {
		t.Fatal("expected Any to match")
	}
	if m.Any("nothing here") {
		t.Fatal("expected Any not to match")
	}
}

func TestCompileInvalidRegex(t *testing.T) {
	_, err := Compile([]PatternSpec{{ID: "bad", Regex: `(`}})
	if err == nil {
		t.Fatal("expected compile error for invalid regex")
	}
}

func TestNilMatcherIsSafe(t *testing.T) {
	var m *Matcher
	if m.Match("anything") != nil {
		t.Fatal("expected nil matches on nil Matcher")
	}
	if m.Any("anything") {
		t.Fatal("expected false on nil Matcher")
	}
}
