package statement

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Default script conventions.
const (
	DefaultEndOfStatement = ";"
	DefaultComment        = "#"
)

// Statement is one statement of a schema script.
// Line is the line on which the statement ended.
type Statement struct {
	Line int
	SQL  string
}

// SplitScript splits a schema bootstrap script into statements.
//
// Trailing whitespace is stripped from every line. Blank lines and lines
// starting with comment are skipped. Other lines accumulate until one ends
// with eol, which terminates the statement (the marker itself is dropped).
// An unterminated tail is discarded.
func SplitScript(r io.Reader, eol, comment string) ([]Statement, error) {
	if eol == "" {
		eol = DefaultEndOfStatement
	}
	if comment == "" {
		comment = DefaultComment
	}

	var stmts []Statement
	var parts []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if line == "" || strings.HasPrefix(line, comment) {
			continue
		}
		if strings.HasSuffix(line, eol) {
			parts = append(parts, strings.TrimSuffix(line, eol))
			stmts = append(stmts, Statement{Line: lineNo, SQL: strings.Join(parts, " ")})
			parts = nil
			continue
		}
		parts = append(parts, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return stmts, nil
}
