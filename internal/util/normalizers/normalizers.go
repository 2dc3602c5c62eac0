// Package normalizers formats the help texts of commands. Texts are written
// as indented raw strings in source and normalized here.
package normalizers

import (
	"strings"
)

const Indentation = `  `

// LongDesc removes the indentation shared by every line and the blank lines
// around the text.
func LongDesc(s string) string {
	return strings.Join(dedent(s), "\n")
}

// Examples dedents s and indents every line by Indentation so examples line
// up under the cobra "Examples:" heading.
func Examples(s string) string {
	lines := dedent(s)
	for i, line := range lines {
		if line != "" {
			lines[i] = Indentation + line
		}
	}
	return strings.Join(lines, "\n")
}

func dedent(s string) []string {
	s = strings.Trim(s, "\n")
	if strings.TrimSpace(s) == "" {
		return nil
	}
	lines := strings.Split(s, "\n")

	prefix := -1
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		n := len(line) - len(strings.TrimLeft(line, " \t"))
		if prefix < 0 || n < prefix {
			prefix = n
		}
	}
	for i, line := range lines {
		if len(line) >= prefix {
			line = line[prefix:]
		}
		lines[i] = strings.TrimRight(line, " \t")
	}
	return lines
}
