// Package prompts holds the default model prompt set for the translation
// pipeline. A job carries exactly three prompt stages: OCR transcription,
// Latin-to-English translation, and a lay summary. Submitters may override
// any stage; unknown stage names are rejected rather than silently stored.
package prompts

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Set is the fixed three-stage prompt record attached to every job.
type Set struct {
	OCR         string `json:"ocr"`
	Translation string `json:"translation"`
	Summary     string `json:"summary"`
}

// Defaults returns the stock prompt set used when the submitter supplies none.
func Defaults() Set {
	return Set{
		OCR:         defaultOCR,
		Translation: defaultTranslation,
		Summary:     defaultSummary,
	}
}

// Merge overlays the supplied overrides on top of s, stage by stage. Empty
// override stages keep the existing text.
func (s Set) Merge(overrides Set) Set {
	out := s
	if overrides.OCR != "" {
		out.OCR = overrides.OCR
	}
	if overrides.Translation != "" {
		out.Translation = overrides.Translation
	}
	if overrides.Summary != "" {
		out.Summary = overrides.Summary
	}
	return out
}

// ParseOverrides decodes a submitter-supplied prompt mapping. Only the three
// named stages are accepted; anything else fails the decode.
func ParseOverrides(raw []byte) (Set, error) {
	var s Set
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return Set{}, fmt.Errorf("invalid prompts: %w", err)
	}
	return s, nil
}

const defaultOCR = `You are transcribing a Renaissance Latin facsimile page image.

Instructions:
- Transcribe all Latin text faithfully, including abbreviations
- Preserve paragraph breaks
- Expand common abbreviations in [brackets] where clear
- Note any unclear sections with [?]
- Include page numbers if visible
- Skip decorative elements, focus on the text
- For Greek text, transcribe using Greek letters

Output only the transcription, no commentary.`

const defaultTranslation = `Translate the following Latin text to English.

Instructions:
- Provide an accurate, readable English translation
- Preserve paragraph structure
- For technical/philosophical terms, provide the Latin in parentheses on first use
- Maintain the scholarly tone of the original
- If there are unclear passages marked with [?], translate as best you can and note uncertainty

Provide only the English translation, no commentary.`

const defaultSummary = `Summarize the contents of this page for a general, non-specialist reader.

Instructions:
- Write 3-5 sentences
- Mention key people, ideas, and why the content matters
- Use accessible language, explain any jargon
- Optionally use bullet points if helpful

Provide only the summary.`
