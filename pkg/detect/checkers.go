package detect

import (
	"regexp"
	"strings"
)

func splitLines(text string) []string {
	return strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
}

// maskLines blanks out comments, string literals and character constants so
// structural detectors never fire on prose. Byte positions are preserved.
func maskLines(lines []string) []string {
	masked := make([]string, len(lines))
	inBlockComment := false
	for i, line := range lines {
		var b strings.Builder
		b.Grow(len(line))
		j := 0
		for j < len(line) {
			switch {
			case inBlockComment:
				if strings.HasPrefix(line[j:], "*/") {
					inBlockComment = false
					b.WriteString("  ")
					j += 2
				} else {
					b.WriteByte(' ')
					j++
				}
			case strings.HasPrefix(line[j:], "/*"):
				inBlockComment = true
				b.WriteString("  ")
				j += 2
			case strings.HasPrefix(line[j:], "//"):
				b.WriteString(strings.Repeat(" ", len(line)-j))
				j = len(line)
			case line[j] == '"' || line[j] == '\'':
				quote := line[j]
				b.WriteByte(quote)
				j++
				for j < len(line) {
					if line[j] == '\\' && j+1 < len(line) {
						b.WriteString("  ")
						j += 2
						continue
					}
					if line[j] == quote {
						b.WriteByte(quote)
						j++
						break
					}
					b.WriteByte(' ')
					j++
				}
			default:
				b.WriteByte(line[j])
				j++
			}
		}
		masked[i] = b.String()
	}
	return masked
}

var (
	forZeroInitRe   = regexp.MustCompile(`for\s*\(\s*(?:[A-Za-z_]\w*\s+)*([A-Za-z_]\w*)\s*=\s*0\s*;`)
	defineRe        = regexp.MustCompile(`^\s*#\s*define\s+(_\w+)`)
	flexMemberRe    = regexp.MustCompile(`^\s*[A-Za-z_][\w\s\*]*?\s\**([A-Za-z_]\w*)\s*\[\s*\]\s*;`)
	structOpenRe    = regexp.MustCompile(`\bstruct\b[^;{]*\{`)
	voidPtrDeclRe   = regexp.MustCompile(`\bvoid\s*\*\s*([A-Za-z_]\w*)`)
	objPtrCastRe    = regexp.MustCompile(`\(\s*[A-Za-z_][\w\s]*\*+\s*\)\s*([A-Za-z_]\w*)`)
	strncpyRe       = regexp.MustCompile(`\bstrncpy\s*\(\s*([A-Za-z_]\w*)`)
	filePtrDeclRe   = regexp.MustCompile(`\bFILE\s*\*\s*([A-Za-z_]\w*)`)
	castDerefRe     = regexp.MustCompile(`\*\s*\(\s*\(\s*[A-Za-z_][\w\s]*\*+\s*\)\s*([A-Za-z_]\w*)\s*\)`)
	allocCallRe     = regexp.MustCompile(`\b([A-Za-z_]\w*)\s*=\s*(?:\([^)]*\)\s*)?(?:malloc|calloc|realloc|fopen)\s*\(`)
	funcDefRe       = regexp.MustCompile(`^\s*[A-Za-z_][\w\s\*]*?\b([A-Za-z_]\w*)\s*\(([^;]*)\)\s*\{?\s*$`)
	ptrParamRe      = regexp.MustCompile(`([A-Za-z_][\w\s]*?)\s*\*\s*([A-Za-z_]\w*)\s*$`)
	controlKeywords = map[string]bool{"if": true, "for": true, "while": true, "switch": true, "return": true, "sizeof": true, "do": true, "else": true}
)

// scanDivisionByIterator flags divisions where the divisor is a for-loop
// control variable initialized to zero: undefined behavior on the first pass.
func scanDivisionByIterator(lines, masked []string) []Span {
	var out []Span
	for i, line := range masked {
		m := forZeroInitRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		iter := m[1]
		divRe := regexp.MustCompile(`/\s*` + regexp.QuoteMeta(iter) + `\b`)
		for j, end := i, blockEnd(masked, i); j <= end && j < len(masked); j++ {
			body := masked[j]
			if j == i {
				// Skip the loop header itself; the condition may contain '/'.
				if idx := strings.Index(body, ")"); idx >= 0 {
					body = body[idx:]
				}
			}
			if loc := divRe.FindStringIndex(body); loc != nil {
				// Exclude compound assignment noise like "/=" and comments
				// are already masked.
				if loc[0]+1 < len(body) && body[loc[0]+1] == '=' {
					continue
				}
				out = append(out, Span{StartLine: j + 1, EndLine: j + 1})
			}
		}
	}
	return out
}

// blockEnd returns the index of the line closing the brace block opened at or
// after start. Falls back to a bounded window when braces never balance.
func blockEnd(masked []string, start int) int {
	depth := 0
	opened := false
	for i := start; i < len(masked); i++ {
		for _, ch := range masked[i] {
			switch ch {
			case '{':
				depth++
				opened = true
			case '}':
				depth--
				if opened && depth == 0 {
					return i
				}
			}
		}
		if !opened && i > start+2 {
			// Braceless loop body: single statement.
			return i
		}
	}
	if end := start + 40; end < len(masked) {
		return end
	}
	return len(masked) - 1
}

// scanFlexibleArrayMember flags flexible array members declared inside struct
// bodies.
func scanFlexibleArrayMember(lines, masked []string) []Span {
	var out []Span
	depth := 0
	for i, line := range masked {
		if structOpenRe.MatchString(line) {
			depth++
		} else if depth > 0 && strings.Contains(line, "}") {
			depth--
		}
		if depth > 0 && flexMemberRe.MatchString(line) {
			out = append(out, Span{StartLine: i + 1, EndLine: i + 1})
		}
	}
	return out
}

// scanVoidPointerCast flags casts of a void* value directly to an object
// pointer type.
func scanVoidPointerCast(lines, masked []string) []Span {
	voidPtrs := map[string]bool{}
	for _, line := range masked {
		for _, m := range voidPtrDeclRe.FindAllStringSubmatch(line, -1) {
			voidPtrs[m[1]] = true
		}
	}
	var out []Span
	for i, line := range masked {
		for _, m := range objPtrCastRe.FindAllStringSubmatch(line, -1) {
			operand := m[1]
			if voidPtrs[operand] && !strings.Contains(m[0], "void") {
				out = append(out, Span{StartLine: i + 1, EndLine: i + 1})
			}
		}
	}
	return out
}

// scanStrncpyNoTerminator flags strncpy calls with no explicit NUL
// termination of the destination nearby.
func scanStrncpyNoTerminator(lines, masked []string) []Span {
	var out []Span
	for i, line := range masked {
		m := strncpyRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		dest := m[1]
		terminated := false
		termRe := regexp.MustCompile(regexp.QuoteMeta(dest) + `\s*\[[^\]]*\]\s*=`)
		for j := i; j < len(lines) && j <= i+3; j++ {
			if termRe.MatchString(masked[j]) && strings.Contains(lines[j], `'\0'`) {
				terminated = true
				break
			}
		}
		if !terminated {
			out = append(out, Span{StartLine: i + 1, EndLine: i + 1})
		}
	}
	return out
}

// scanUnderscoreDefine flags macro names with a leading underscore; those
// identifiers are reserved.
func scanUnderscoreDefine(lines, masked []string) []Span {
	var out []Span
	for i, line := range masked {
		if defineRe.MatchString(line) {
			out = append(out, Span{StartLine: i + 1, EndLine: i + 1})
		}
	}
	return out
}

// scanMissingConstParam flags pointer parameters that the function body never
// writes through and that are not declared const.
func scanMissingConstParam(lines, masked []string) []Span {
	var out []Span
	for i, line := range masked {
		m := funcDefRe.FindStringSubmatch(line)
		if m == nil || controlKeywords[m[1]] {
			continue
		}
		params := strings.Split(m[2], ",")
		end := blockEnd(masked, i)
		for _, p := range params {
			pm := ptrParamRe.FindStringSubmatch(strings.TrimSpace(p))
			if pm == nil || strings.Contains(pm[1], "const") || strings.Contains(pm[1], "void") {
				continue
			}
			name := pm[2]
			if !paramWritten(masked, i+1, end, name) {
				out = append(out, Span{StartLine: i + 1, EndLine: i + 1})
			}
		}
	}
	return out
}

// paramWritten reports whether the body lines assign through the named
// pointer parameter.
func paramWritten(masked []string, start, end int, name string) bool {
	q := regexp.QuoteMeta(name)
	writes := []*regexp.Regexp{
		regexp.MustCompile(`\*\s*` + q + `\s*=[^=]`),
		regexp.MustCompile(`\b` + q + `\s*\[[^\]]*\]\s*=[^=]`),
		regexp.MustCompile(`\b` + q + `\s*(\+\+|--)`),
		regexp.MustCompile(`(\+\+|--)\s*` + q + `\b`),
		regexp.MustCompile(`\b` + q + `\s*(\+=|-=)`),
	}
	for j := start; j <= end && j < len(masked); j++ {
		for _, re := range writes {
			if re.MatchString(masked[j]) {
				return true
			}
		}
	}
	return false
}

// scanFilePointerDeref flags reads through a FILE* reinterpreted as an object
// pointer; FILE is opaque and its representation is implementation-defined.
func scanFilePointerDeref(lines, masked []string) []Span {
	filePtrs := map[string]bool{}
	for _, line := range masked {
		for _, m := range filePtrDeclRe.FindAllStringSubmatch(line, -1) {
			filePtrs[m[1]] = true
		}
	}
	filePtrs["stdin"] = true
	filePtrs["stdout"] = true
	filePtrs["stderr"] = true

	var out []Span
	for i, line := range masked {
		for _, m := range castDerefRe.FindAllStringSubmatch(line, -1) {
			if filePtrs[m[1]] {
				out = append(out, Span{StartLine: i + 1, EndLine: i + 1})
			}
		}
	}
	return out
}

// scanUncheckedAllocation flags allocation results that are never compared
// against NULL before the surrounding block ends.
func scanUncheckedAllocation(lines, masked []string) []Span {
	var out []Span
	for i, line := range masked {
		m := allocCallRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		name := m[1]
		q := regexp.QuoteMeta(name)
		checkRe := regexp.MustCompile(`(\b` + q + `\s*[!=]=\s*NULL|!\s*` + q + `\b|\bNULL\s*[!=]=\s*` + q + `\b|if\s*\(\s*` + q + `\s*\))`)
		checked := false
		for j := i; j < len(masked) && j <= i+4; j++ {
			if checkRe.MatchString(masked[j]) {
				checked = true
				break
			}
		}
		if !checked {
			out = append(out, Span{StartLine: i + 1, EndLine: i + 1})
		}
	}
	return out
}
