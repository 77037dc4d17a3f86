package llm

import (
	"regexp"
	"strings"
)

// Code extraction pulls the first plausible source block out of LLM response
// text. Confidence reflects how strongly the block looked like fenced AL code;
// callers treat > 0.5 as compile-ready.

var (
	fencedALPattern  = regexp.MustCompile("(?s)```(?:al|AL)\\s*\n(.*?)```")
	fencedAnyPattern = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\n(.*?)```")
	alObjectPattern  = regexp.MustCompile(`(?im)^\s*(codeunit|table|page|report|query|xmlport|enum|interface|pageextension|tableextension)\s+\d*\s*"?[\w .-]*"?`)
)

// Extract pulls a code block and confidence from response text.
// Deterministic; no I/O.
func Extract(text string) Extraction {
	if strings.TrimSpace(text) == "" {
		return Extraction{}
	}

	// Fenced block tagged as AL is the strongest signal.
	if m := fencedALPattern.FindStringSubmatch(text); m != nil {
		code := strings.TrimSpace(m[1])
		if code != "" {
			return Extraction{Code: code, Confidence: 0.95}
		}
	}

	// Any fenced block: trust it more when the contents look like AL objects.
	if m := fencedAnyPattern.FindStringSubmatch(text); m != nil {
		code := strings.TrimSpace(m[1])
		if code != "" {
			conf := 0.6
			if alObjectPattern.MatchString(code) {
				conf = 0.85
			}
			return Extraction{Code: code, Confidence: conf}
		}
	}

	// No fences. If the whole response reads like an AL object declaration,
	// take it verbatim at low-but-usable confidence.
	trimmed := strings.TrimSpace(text)
	if alObjectPattern.MatchString(trimmed) {
		return Extraction{Code: trimmed, Confidence: 0.55}
	}

	// Prose-only responses get the full text back at zero-ish confidence so
	// failure reporting can show what the model said.
	return Extraction{Code: trimmed, Confidence: 0.1}
}
