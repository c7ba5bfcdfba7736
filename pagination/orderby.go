package pagination

import (
	"strings"
)

// clauseWords end the search for a trailing ORDER BY: when one of them is the
// last top-level keyword, the statement does not end with a plain ORDER BY.
var clauseWords = map[string]bool{
	"ORDER":     true,
	"HAVING":    true,
	"GROUP":     true,
	"WHERE":     true,
	"FROM":      true,
	"AND":       true,
	"OR":        true,
	"LIMIT":     true,
	"OFFSET":    true,
	"FETCH":     true,
	"UNION":     true,
	"INTERSECT": true,
	"EXCEPT":    true,
	"FOR":       true,
}

type sqlToken struct {
	pos  int
	word string // upper-cased keyword, empty for placeholders
}

// scanTopLevel reports top-level words and every placeholder outside quotes
// and comments.
func scanTopLevel(sql string) (words []sqlToken, placeholders []int) {
	depth := 0

	for i := 0; i < len(sql); i++ {
		c := sql[i]

		switch {
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			end := strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				return words, placeholders
			}

			i += end
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			end := strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return words, placeholders
			}

			i += end + 3
		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(sql, i)
		case c == '(':
			depth++
		case c == ')':
			depth--
		case c == '?':
			placeholders = append(placeholders, i)
		case c == '$' && i+1 < len(sql) && isDigit(sql[i+1]):
			placeholders = append(placeholders, i)
		case isWordStart(c):
			start := i
			for i+1 < len(sql) && isWordPart(sql[i+1]) {
				i++
			}

			if depth == 0 {
				words = append(words, sqlToken{pos: start, word: strings.ToUpper(sql[start : i+1])})
			}
		case isDigit(c):
			for i+1 < len(sql) && isWordPart(sql[i+1]) {
				i++
			}
		}
	}

	return words, placeholders
}

// skipQuoted returns the index of the closing quote. Doubled quotes are escapes.
func skipQuoted(sql string, start int) int {
	quote := sql[start]

	for i := start + 1; i < len(sql); i++ {
		if sql[i] != quote {
			continue
		}

		if i+1 < len(sql) && sql[i+1] == quote {
			i++
			continue
		}

		return i
	}

	return len(sql) - 1
}

// truncateOuterOrderBy removes a trailing top-level ORDER BY clause.
// The statement is returned unchanged when the clause is followed by another
// clause, when it is nested, or when removing it would drop a placeholder.
func truncateOuterOrderBy(sql string) string {
	words, placeholders := scanTopLevel(sql)

	for i := len(words) - 1; i >= 0; i-- {
		w := words[i]
		if !clauseWords[w.word] {
			continue
		}

		if w.word != "ORDER" || i+1 >= len(words) || words[i+1].word != "BY" {
			return sql
		}

		if len(placeholders) > 0 && placeholders[len(placeholders)-1] > w.pos {
			return sql
		}

		return strings.TrimRight(sql[:w.pos], " \t\r\n")
	}

	return sql
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isWordStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isWordPart(c byte) bool {
	return isWordStart(c) || isDigit(c) || c == '$'
}
