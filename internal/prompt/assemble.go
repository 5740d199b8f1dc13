// Package prompt assembles generation prompts from a beat, scene context,
// and optional reference material. Assembly is pure: no I/O, no state, and
// identical inputs always produce identical output, which is what lets the
// preview endpoint show exactly what the backend will receive.
package prompt

import (
	"fmt"
	"strings"
)

// Tense selects the narrative tense embedded in the system instruction.
type Tense string

const (
	TensePast    Tense = "past"
	TensePresent Tense = "present"
)

const (
	// DefaultPOVCharacter is used when no point-of-view character is configured.
	DefaultPOVCharacter = "the protagonist"

	// DefaultPOV is the narrative style used when none is configured.
	DefaultPOV = "3rd person limited"

	// MaxContextTokens bounds how much scene history is carried into the
	// prompt. Older context is silently truncated so prompt size stays
	// bounded regardless of scene length.
	MaxContextTokens = 500
)

// Role delimiters for the chat template. The assistant block is left open;
// the backend appends its completion there.
const (
	blockStart = "<|im_start|>"
	blockEnd   = "<|im_end|>"
)

// Prompt section headers and template markers.
const (
	sceneHeader      = "CURRENT SCENE:"
	compendiumHeader = "COMPENDIUM REFERENCES:"
	beatHeader       = "BEAT TO EXPAND:"
	templateStart    = "[PROSE PROMPT START]"
	templateEnd      = "[PROSE PROMPT END]"
)

// Entry is a compendium reference injected into the prompt as grounding
// context. Body takes precedence over Description when both are set.
type Entry struct {
	ID          string
	Title       string
	Body        string
	Description string
}

// Options configures prompt assembly. The zero value is valid; every field
// degrades to a documented default rather than causing an error.
type Options struct {
	// POVCharacter names the point-of-view character. Defaults to
	// "the protagonist".
	POVCharacter string

	// Tense is the narrative tense. Anything other than TensePresent is
	// treated as past.
	Tense Tense

	// POV is the narrative style. Defaults to "3rd person limited".
	POV string

	// Template is author-supplied prose guidance inserted before the beat
	// instruction. A whitespace-only template is treated as absent.
	Template string

	// Entries are compendium references, rendered in order. Omitted in
	// preview mode.
	Entries []Entry

	// Preview produces a human-readable approximation of the real prompt:
	// template markers and compendium references are suppressed.
	Preview bool
}

// Assemble builds the full prompt for a beat. sceneContext may be empty; its
// final MaxContextTokens whitespace-delimited tokens are kept. An empty beat
// is passed through unchanged; validation is the caller's responsibility.
func Assemble(beat, sceneContext string, opts Options) string {
	povCharacter := opts.POVCharacter
	if povCharacter == "" {
		povCharacter = DefaultPOVCharacter
	}
	pov := opts.POV
	if pov == "" {
		pov = DefaultPOV
	}
	tense := "past"
	if opts.Tense == TensePresent {
		tense = "present"
	}

	var b strings.Builder

	b.WriteString(blockStart)
	b.WriteString("system\n")
	fmt.Fprintf(&b, "You are a creative writing assistant. Write in %s tense, %s, with %s as the point-of-view character. ", tense, pov, povCharacter)
	b.WriteString("Expand the beat into 2-3 paragraphs of polished narrative prose that continues the scene. Show, don't tell. Do not summarize, do not explain, write only the prose itself.\n")
	b.WriteString(blockEnd)
	b.WriteString("\n")

	b.WriteString(blockStart)
	b.WriteString("user\n")

	if sceneContext != "" {
		b.WriteString(sceneHeader)
		b.WriteString("\n")
		b.WriteString(trimContext(sceneContext))
		b.WriteString("\n\n")
	}

	if tpl := strings.TrimSpace(opts.Template); tpl != "" {
		if opts.Preview {
			b.WriteString(tpl)
		} else {
			b.WriteString(templateStart)
			b.WriteString("\n")
			b.WriteString(tpl)
			b.WriteString("\n")
			b.WriteString(templateEnd)
		}
		b.WriteString("\n\n")
	}

	// Reference material goes immediately before the beat instruction so the
	// model treats it as grounding context rather than trailing noise.
	if !opts.Preview && len(opts.Entries) > 0 {
		b.WriteString(compendiumHeader)
		b.WriteString("\n")
		for _, e := range opts.Entries {
			title := e.Title
			if title == "" {
				title = "entry " + e.ID
			}
			body := e.Body
			if body == "" {
				body = e.Description
			}
			fmt.Fprintf(&b, "== %s ==\n%s\n", title, body)
		}
		b.WriteString("\n")
	}

	b.WriteString(beatHeader)
	b.WriteString("\n")
	b.WriteString(beat)
	b.WriteString("\nWrite the next 2-3 paragraphs continuing the scene from this beat.\n")
	b.WriteString(blockEnd)
	b.WriteString("\n")

	// Open assistant block: the backend appends its completion here.
	b.WriteString(blockStart)
	b.WriteString("assistant\n")

	return b.String()
}

// trimContext keeps the final MaxContextTokens whitespace-delimited tokens of
// the scene, rejoined with single spaces. A context of exactly the boundary
// count is returned whole.
func trimContext(sceneContext string) string {
	tokens := strings.Fields(sceneContext)
	if len(tokens) > MaxContextTokens {
		tokens = tokens[len(tokens)-MaxContextTokens:]
	}
	return strings.Join(tokens, " ")
}
