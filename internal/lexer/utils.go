package lexer

import "strings"

// MatchBrackets returns the index just past the '}' closing the '{' at
// str[start]. Nested pairs are counted; ok is false if the brace never closes.
func MatchBrackets(str []rune, start int) (end int, ok bool) {
	if start >= len(str) || str[start] != '{' {
		return 0, false
	}

	depth := 1

	for i := start + 1; i < len(str); i++ {
		switch str[i] {
		case '{':
			depth++
		case '}':
			depth--

			if depth == 0 {
				return i + 1, true
			}
		}
	}

	return 0, false
}

// Character sets a bare string may not contain, per call site.
const (
	baseExclusions      = " \"={}"
	headerExclusions    = baseExclusions + "#.!"
	attrNameExclusions  = baseExclusions
	attrValueExclusions = baseExclusions
)

func excluded(set string, r rune) bool {
	return strings.ContainsRune(set, r)
}

func isFilterNameRune(r rune) bool {
	return isASCIILetter(r) || isASCIIDigit(r) || r == '_' || r == '-'
}

func isASCIILetter(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')
}

func isASCIIDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isWhitespace(r rune) bool {
	return r == ' ' || r == '\t'
}
