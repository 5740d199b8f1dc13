package prompt

import (
	"fmt"
	"strings"
	"testing"
)

func TestAssemble_Deterministic(t *testing.T) {
	opts := Options{
		POVCharacter: "Mira",
		Tense:        TensePresent,
		Template:     "Lean, noir sentences.",
		Entries: []Entry{
			{ID: "1", Title: "Mira", Body: "A tired detective."},
		},
	}

	first := Assemble("She opens the door.", "The rain had not stopped for days.", opts)
	for i := 0; i < 10; i++ {
		got := Assemble("She opens the door.", "The rain had not stopped for days.", opts)
		if got != first {
			t.Fatalf("output differs on call %d", i)
		}
	}
}

func TestAssemble_Defaults(t *testing.T) {
	got := Assemble("She opens the door.", "", Options{})

	if !strings.Contains(got, "BEAT TO EXPAND:\nShe opens the door.") {
		t.Errorf("missing beat instruction line:\n%s", got)
	}
	if strings.Contains(got, "COMPENDIUM REFERENCES") {
		t.Errorf("unexpected compendium header with no entries:\n%s", got)
	}
	if !strings.Contains(got, "past tense") {
		t.Errorf("expected default past tense")
	}
	if !strings.Contains(got, "3rd person limited") {
		t.Errorf("expected default POV style")
	}
	if !strings.Contains(got, "the protagonist") {
		t.Errorf("expected default POV character")
	}
	if !strings.HasSuffix(got, "<|im_start|>assistant\n") {
		t.Errorf("prompt must end with an open assistant block, got tail %q", got[len(got)-40:])
	}
}

func TestAssemble_ContextTruncation(t *testing.T) {
	words := make([]string, 10000)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	ctx := strings.Join(words, " ")

	got := Assemble("Beat.", ctx, Options{})

	if strings.Contains(got, "w9499 ") {
		t.Errorf("token before the 500-token window should be truncated")
	}
	if !strings.Contains(got, "w9500 w9501") {
		t.Errorf("window start missing or out of order")
	}
	if !strings.Contains(got, "w9998 w9999") {
		t.Errorf("final tokens missing or out of order")
	}
}

func TestAssemble_ContextAtBoundary(t *testing.T) {
	words := make([]string, MaxContextTokens)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}

	got := Assemble("Beat.", strings.Join(words, " "), Options{})

	if !strings.Contains(got, "w0 w1") {
		t.Errorf("context of exactly %d tokens must not be truncated", MaxContextTokens)
	}
}

func TestAssemble_PreviewSuppressesReferencesAndMarkers(t *testing.T) {
	opts := Options{
		Template: "Write sparingly.",
		Entries: []Entry{
			{ID: "1", Title: "The Lighthouse", Body: "Abandoned since the storm."},
		},
		Preview: true,
	}

	got := Assemble("Beat.", "", opts)

	if strings.Contains(got, "COMPENDIUM REFERENCES") {
		t.Errorf("preview must not include reference material")
	}
	if strings.Contains(got, "The Lighthouse") {
		t.Errorf("preview must not include entry content")
	}
	if strings.Contains(got, templateStart) || strings.Contains(got, templateEnd) {
		t.Errorf("preview must not include template markers")
	}
	if !strings.Contains(got, "Write sparingly.") {
		t.Errorf("preview must still include the template text")
	}
}

func TestAssemble_TemplateMarkersInRealMode(t *testing.T) {
	got := Assemble("Beat.", "", Options{Template: "  Write sparingly.  "})

	if !strings.Contains(got, templateStart+"\nWrite sparingly.\n"+templateEnd) {
		t.Errorf("template must be trimmed and wrapped in markers:\n%s", got)
	}
}

func TestAssemble_WhitespaceTemplateTreatedAsAbsent(t *testing.T) {
	got := Assemble("Beat.", "", Options{Template: "   \n\t  "})

	if strings.Contains(got, templateStart) {
		t.Errorf("whitespace-only template must not produce a template block")
	}
}

func TestAssemble_ReferencesPrecedeBeat(t *testing.T) {
	opts := Options{
		Entries: []Entry{
			{ID: "1", Title: "The Lighthouse", Body: "Abandoned since the storm."},
		},
	}

	got := Assemble("Beat.", "", opts)

	refIdx := strings.Index(got, compendiumHeader)
	beatIdx := strings.Index(got, beatHeader)
	if refIdx < 0 {
		t.Fatalf("missing compendium header")
	}
	if refIdx > beatIdx {
		t.Errorf("references must appear before the beat instruction (ref=%d beat=%d)", refIdx, beatIdx)
	}
}

func TestAssemble_EntryFallbacks(t *testing.T) {
	opts := Options{
		Entries: []Entry{
			{ID: "42", Description: "Only a description."},
		},
	}

	got := Assemble("Beat.", "", opts)

	if !strings.Contains(got, "== entry 42 ==") {
		t.Errorf("missing title fallback:\n%s", got)
	}
	if !strings.Contains(got, "Only a description.") {
		t.Errorf("body must fall back to description")
	}
}

func TestAssemble_EmptyBeatPassedThrough(t *testing.T) {
	got := Assemble("", "", Options{})

	if !strings.Contains(got, beatHeader+"\n\nWrite the next") {
		t.Errorf("empty beat must pass through unchanged:\n%s", got)
	}
}
