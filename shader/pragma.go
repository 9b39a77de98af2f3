package shader

import (
	"strings"
)

// PreprocessPragmaOnce lowers every "#pragma once" line in text into an
// include-guard pair keyed by path, per spec §4.6: the pragma line is
// replaced with "#if !defined(<guard>)", and "#define <guard>" + "#endif"
// are appended at file end. Idempotent on already-lowered text: a second
// pass sees no "#pragma once" line left to rewrite, so re-running it on
// an already-preprocessed file is a no-op beyond the guard already being
// defined (spec §8: "idempotent on already-preprocessed files").
func PreprocessPragmaOnce(text, path string) string {
	guard := sanitizeGuardName(path)

	lines := strings.Split(text, "\n")
	rewrote := false
	for i, line := range lines {
		if strings.TrimSpace(line) == "#pragma once" {
			lines[i] = "#if !defined(" + guard + ")"
			rewrote = true
		}
	}
	if !rewrote {
		return text
	}

	var b strings.Builder
	b.WriteString(strings.Join(lines, "\n"))
	b.WriteString("\n#define ")
	b.WriteString(guard)
	b.WriteString("\n#endif\n")
	return b.String()
}

// sanitizeGuardName replaces every non-alphanumeric character in path
// with '_', matching spec §4.6's sanitization rule exactly.
func sanitizeGuardName(path string) string {
	var b strings.Builder
	b.Grow(len(path))
	for _, r := range path {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
