package script

import (
	"errors"
	"strings"
	"testing"
)

func TestParse_BasicDialogue(t *testing.T) {
	src := `# Scene 1

A: hi
B: hello
(A crosses to the door)
A: bye
`
	lines, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	want := []DialogueLine{
		{Character: "A", Text: "hi", LineIndex: 0},
		{Character: "B", Text: "hello", LineIndex: 1},
		{Character: "A", Text: "bye", LineIndex: 2},
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines, want %d: %+v", len(lines), len(want), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d: got %+v, want %+v", i, lines[i], want[i])
		}
	}
}

func TestParse_MarkdownAndContinuations(t *testing.T) {
	src := "**HAMLET:** To be, or not to be,\nthat is the question.\n\n[Exit]\n\n*OPHELIA:* Good my lord.\n"

	lines, err := Parse(strings.NewReader(src))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2: %+v", len(lines), lines)
	}
	if lines[0].Character != "HAMLET" {
		t.Errorf("speaker: got %q, want HAMLET", lines[0].Character)
	}
	if lines[0].Text != "To be, or not to be, that is the question." {
		t.Errorf("continuation not joined: %q", lines[0].Text)
	}
	if lines[1].Character != "OPHELIA" || lines[1].LineIndex != 1 {
		t.Errorf("second line: %+v", lines[1])
	}
}

func TestParse_NoDialogue(t *testing.T) {
	_, err := Parse(strings.NewReader("# Title\n\nJust prose here.\n"))
	if !errors.Is(err, ErrNoDialogue) {
		t.Errorf("expected ErrNoDialogue, got %v", err)
	}
}

func TestParse_TimestampsAreNotSpeakers(t *testing.T) {
	lines, err := Parse(strings.NewReader("A: meet at\n10:30 sharp\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(lines) != 1 || lines[0].Text != "meet at 10:30 sharp" {
		t.Errorf("unexpected lines: %+v", lines)
	}
}

func TestDialogueLine_IsSpokenBy(t *testing.T) {
	line := DialogueLine{Character: "Romeo", Text: "But soft", LineIndex: 0}

	tests := []struct {
		actor string
		want  bool
	}{
		{"Romeo", true},
		{"ROMEO", true},
		{" romeo ", true},
		{"Juliet", false},
		{ActorNone, false},
		{"", false},
	}
	for _, tt := range tests {
		if got := line.IsSpokenBy(tt.actor); got != tt.want {
			t.Errorf("IsSpokenBy(%q) = %v, want %v", tt.actor, got, tt.want)
		}
	}
}

func TestCharacters_FirstAppearanceOrder(t *testing.T) {
	lines := []DialogueLine{
		{Character: "B"}, {Character: "A"}, {Character: "b"}, {Character: "C"},
	}
	got := Characters(lines)
	if strings.Join(got, ",") != "B,A,C" {
		t.Errorf("Characters = %v", got)
	}
}

func TestResolveCharacter(t *testing.T) {
	lines := []DialogueLine{
		{Character: "ROMEO"}, {Character: "JULIET"}, {Character: "NURSE"},
	}

	got, err := ResolveCharacter(lines, "juliet")
	if err != nil || got != "JULIET" {
		t.Errorf("ResolveCharacter(juliet) = %q, %v", got, err)
	}

	got, err = ResolveCharacter(lines, "None")
	if err != nil || got != ActorNone {
		t.Errorf("ResolveCharacter(None) = %q, %v", got, err)
	}

	_, err = ResolveCharacter(lines, "jul")
	if !errors.Is(err, ErrUnknownCharacter) {
		t.Fatalf("expected ErrUnknownCharacter, got %v", err)
	}
	if !strings.Contains(err.Error(), "JULIET") {
		t.Errorf("expected suggestion in error, got %q", err)
	}
}
