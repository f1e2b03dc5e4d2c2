// Package script turns rehearsal scripts into ordered dialogue lines.
package script

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode"

	"github.com/sahilm/fuzzy"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ActorNone means the rehearsing actor speaks no lines, so every line is a
// partner line.
const ActorNone = "none"

// maxCharacterName bounds what is accepted as a speaker label before the colon.
const maxCharacterName = 40

var (
	// ErrNoDialogue is returned when a script yields no speaker-attributed lines.
	ErrNoDialogue = errors.New("script contains no dialogue")

	// ErrUnknownCharacter is returned when an actor name matches no speaker.
	ErrUnknownCharacter = errors.New("unknown character")
)

// DialogueLine is one speaker-attributed line of a script. LineIndex is the
// zero-based position of the line within the parsed script.
type DialogueLine struct {
	Character string `json:"character"`
	Text      string `json:"text"`
	LineIndex int    `json:"lineIndex"`
}

// IsSpokenBy reports whether the line belongs to the given actor character.
// ActorNone never matches.
func (l DialogueLine) IsSpokenBy(actor string) bool {
	actor = strings.TrimSpace(actor)
	if actor == "" || strings.EqualFold(actor, ActorNone) {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(l.Character), actor)
}

// ParseFile reads and parses the script at path.
func ParseFile(path string) ([]DialogueLine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open script: %w", err)
	}
	defer f.Close() //nolint:errcheck

	return Parse(f)
}

// Parse reads a script in "CHARACTER: line" form. Markdown emphasis around
// speaker labels is tolerated, headings and code blocks are ignored, stage
// directions in parentheses or brackets are skipped, and unlabelled lines
// continue the previous speaker's line.
func Parse(r io.Reader) ([]DialogueLine, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}

	var lines []DialogueLine
	for _, raw := range strings.Split(plainText(src), "\n") {
		raw = strings.TrimSpace(raw)
		if raw == "" || isStageDirection(raw) {
			continue
		}

		if name, body, ok := splitSpeaker(raw); ok {
			if body == "" {
				continue
			}
			lines = append(lines, DialogueLine{
				Character: name,
				Text:      body,
				LineIndex: len(lines),
			})
			continue
		}

		if n := len(lines); n > 0 {
			lines[n-1].Text += " " + raw
		}
	}

	if len(lines) == 0 {
		return nil, ErrNoDialogue
	}
	return lines, nil
}

// Characters returns the distinct speakers in order of first appearance.
func Characters(lines []DialogueLine) []string {
	seen := make(map[string]bool)
	var out []string
	for _, l := range lines {
		key := strings.ToUpper(l.Character)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, l.Character)
	}
	return out
}

// ResolveCharacter matches an actor name against the script's speakers,
// case-insensitively. ActorNone resolves to itself. On a miss the error lists
// the closest speaker names.
func ResolveCharacter(lines []DialogueLine, actor string) (string, error) {
	actor = strings.TrimSpace(actor)
	if strings.EqualFold(actor, ActorNone) {
		return ActorNone, nil
	}

	chars := Characters(lines)
	for _, c := range chars {
		if strings.EqualFold(c, actor) {
			return c, nil
		}
	}

	if suggestions := Suggest(actor, chars); len(suggestions) > 0 {
		return "", fmt.Errorf("%w %q (did you mean %s?)", ErrUnknownCharacter, actor, strings.Join(suggestions, ", "))
	}
	return "", fmt.Errorf("%w %q", ErrUnknownCharacter, actor)
}

// Suggest returns up to three speaker names that fuzzily match name.
func Suggest(name string, chars []string) []string {
	matches := fuzzy.Find(strings.ToUpper(name), upperAll(chars))
	var out []string
	for i, m := range matches {
		if i == 3 {
			break
		}
		out = append(out, chars[m.Index])
	}
	return out
}

func upperAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToUpper(s)
	}
	return out
}

func splitSpeaker(line string) (string, string, bool) {
	i := strings.IndexByte(line, ':')
	if i <= 0 || i > maxCharacterName {
		return "", "", false
	}

	name := strings.TrimSpace(line[:i])
	if name == "" {
		return "", "", false
	}
	for _, r := range name {
		if !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' || r == '.' || r == '\'' || r == '-') {
			return "", "", false
		}
	}
	// Speaker labels start with a letter; "10:30" is not a speaker.
	if !unicode.IsLetter([]rune(name)[0]) {
		return "", "", false
	}

	return name, strings.TrimSpace(line[i+1:]), true
}

func isStageDirection(line string) bool {
	return (strings.HasPrefix(line, "(") && strings.HasSuffix(line, ")")) ||
		(strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]"))
}

// plainText flattens markdown into one line of text per source line.
func plainText(src []byte) string {
	md := goldmark.New()
	reader := text.NewReader(src)
	doc := md.Parser().Parse(reader)

	var buf strings.Builder
	walkNode(doc, reader.Source(), &buf)
	return buf.String()
}

func walkNode(node ast.Node, source []byte, buf *strings.Builder) {
	switch n := node.(type) {
	case *ast.CodeBlock, *ast.FencedCodeBlock, *ast.HTMLBlock, *ast.Heading, *ast.ThematicBreak:
		buf.WriteString("\n")
		return

	case *ast.Text:
		buf.Write(n.Segment.Value(source))
		if n.SoftLineBreak() || n.HardLineBreak() {
			buf.WriteString("\n")
		}
		return

	case *ast.String:
		buf.Write(n.Value)
		return

	case *ast.Paragraph, *ast.ListItem:
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			walkNode(c, source, buf)
		}
		buf.WriteString("\n")
		return
	}

	for c := node.FirstChild(); c != nil; c = c.NextSibling() {
		walkNode(c, source, buf)
	}
}
