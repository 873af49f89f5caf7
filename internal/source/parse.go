package source

import (
	"fmt"
	"regexp"
	"strings"
)

// annotation matches goose and sql-migrate directives such as
// "-- +goose Up" or "-- +migrate StatementBegin".
var annotation = regexp.MustCompile(`^--\s*\+(?:goose|migrate)\s+(.+?)\s*$`)

// script is the parsed form of one migration file.
type script struct {
	up            []string
	down          []string
	hasUp         bool
	hasDown       bool
	noTransaction bool
}

type section int

const (
	sectionNone section = iota
	sectionUp
	sectionDown
)

// parseAnnotated splits an annotated file into up and down statements. A file
// without any annotation is treated as a single up section.
func parseAnnotated(content string) (*script, error) {
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: file is empty", ErrInvalidMigrationFile)
	}

	lines := strings.Split(content, "\n")
	if !hasAnnotation(lines) {
		statements, err := splitStatements(content)
		if err != nil {
			return nil, err
		}
		if len(statements) == 0 {
			return nil, fmt.Errorf("%w: no SQL statements found after removing comments", ErrInvalidMigrationFile)
		}
		return &script{up: statements, hasUp: true}, nil
	}

	s := &script{}
	current := sectionNone
	var buf strings.Builder
	inBlock := false

	flush := func() error {
		text := buf.String()
		buf.Reset()
		statements, err := splitStatements(text)
		if err != nil {
			return err
		}
		switch current {
		case sectionUp:
			s.up = append(s.up, statements...)
		case sectionDown:
			s.down = append(s.down, statements...)
		default:
			if len(statements) > 0 {
				return fmt.Errorf("%w: SQL before the first Up or Down annotation", ErrInvalidMigrationFile)
			}
		}
		return nil
	}

	for i, line := range lines {
		match := annotation.FindStringSubmatch(strings.TrimSpace(line))
		if match == nil {
			buf.WriteString(line)
			buf.WriteByte('\n')
			continue
		}

		switch directive := strings.ToLower(match[1]); directive {
		case "up", "down":
			if inBlock {
				return nil, fmt.Errorf("%w: line %d: %s inside StatementBegin block", ErrInvalidMigrationFile, i+1, match[1])
			}
			if err := flush(); err != nil {
				return nil, err
			}
			if directive == "up" {
				if s.hasUp {
					return nil, fmt.Errorf("%w: line %d: duplicate Up annotation", ErrInvalidMigrationFile, i+1)
				}
				current, s.hasUp = sectionUp, true
			} else {
				if s.hasDown {
					return nil, fmt.Errorf("%w: line %d: duplicate Down annotation", ErrInvalidMigrationFile, i+1)
				}
				current, s.hasDown = sectionDown, true
			}
		case "statementbegin":
			if inBlock {
				return nil, fmt.Errorf("%w: line %d: nested StatementBegin", ErrInvalidMigrationFile, i+1)
			}
			if err := flush(); err != nil {
				return nil, err
			}
			inBlock = true
		case "statementend":
			if !inBlock {
				return nil, fmt.Errorf("%w: line %d: StatementEnd without StatementBegin", ErrInvalidMigrationFile, i+1)
			}
			block := strings.TrimSpace(buf.String())
			buf.Reset()
			inBlock = false
			if block == "" {
				continue
			}
			switch current {
			case sectionUp:
				s.up = append(s.up, block)
			case sectionDown:
				s.down = append(s.down, block)
			default:
				return nil, fmt.Errorf("%w: line %d: statement block outside Up or Down", ErrInvalidMigrationFile, i+1)
			}
		case "no transaction", "notransaction":
			s.noTransaction = true
		default:
			return nil, fmt.Errorf("%w: line %d: unknown annotation %q", ErrInvalidMigrationFile, i+1, match[1])
		}
	}

	if inBlock {
		return nil, fmt.Errorf("%w: StatementBegin without StatementEnd", ErrInvalidMigrationFile)
	}
	if err := flush(); err != nil {
		return nil, err
	}
	if !s.hasUp {
		return nil, fmt.Errorf("%w: no Up section", ErrInvalidMigrationFile)
	}
	return s, nil
}

func hasAnnotation(lines []string) bool {
	for _, line := range lines {
		if annotation.MatchString(strings.TrimSpace(line)) {
			return true
		}
	}
	return false
}

// splitStatements splits SQL on semicolons outside quotes and comments and
// drops comment-only lines. It also rejects unterminated literals and
// unbalanced parentheses. Delimiters are all ASCII, so the input is scanned
// by byte and statement text is kept exactly as written, even when it is not
// valid UTF-8.
func splitStatements(sql string) ([]string, error) {
	var (
		statements []string
		current    strings.Builder
		quote      byte
		depth      int
	)
	for i := 0; i < len(sql); i++ {
		c := sql[i]

		if quote != 0 {
			current.WriteByte(c)
			if c == quote {
				if i+1 < len(sql) && sql[i+1] == quote {
					current.WriteByte(sql[i+1])
					i++
					continue
				}
				quote = 0
			}
			continue
		}

		switch {
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				current.WriteByte(sql[i])
				i++
			}
			if i < len(sql) {
				current.WriteByte('\n')
			}
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			j := i + 2
			for j+1 < len(sql) && (sql[j] != '*' || sql[j+1] != '/') {
				j++
			}
			if j+1 >= len(sql) {
				return nil, fmt.Errorf("%w: unterminated block comment", ErrInvalidMigrationFile)
			}
			i = j + 1
			current.WriteByte(' ')
		case c == '\'' || c == '"' || c == '`':
			quote = c
			current.WriteByte(c)
		case c == '(':
			depth++
			current.WriteByte(c)
		case c == ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("%w: unmatched closing parenthesis", ErrInvalidMigrationFile)
			}
			current.WriteByte(c)
		case c == ';':
			if stmt := cleanStatement(current.String()); stmt != "" {
				statements = append(statements, stmt)
			}
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}

	if quote != 0 {
		return nil, fmt.Errorf("%w: unterminated string literal", ErrInvalidMigrationFile)
	}
	if depth != 0 {
		return nil, fmt.Errorf("%w: unmatched opening parenthesis", ErrInvalidMigrationFile)
	}
	if stmt := cleanStatement(current.String()); stmt != "" {
		statements = append(statements, stmt)
	}
	return statements, nil
}

// cleanStatement removes blank and comment-only lines.
func cleanStatement(stmt string) string {
	var kept []string
	for _, line := range strings.Split(stmt, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "--") {
			kept = append(kept, line)
		}
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
