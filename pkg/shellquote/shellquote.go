// Package shellquote renders engine command lines so they can be pasted into a shell when debugging.
package shellquote

import (
	"strings"
)

// bare reports whether r can appear unquoted in a POSIX shell word.
func bare(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	default:
		return strings.ContainsRune("_@%+=:,./-", r)
	}
}

// escapes inside double quotes; control characters keep the line pasteable.
var dq = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	`$`, `\$`,
	"`", "\\`",
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// Quote returns s as a single shell word, double quoted only when needed.
func Quote(s string) string {
	if s == "" {
		return `""`
	}

	if strings.IndexFunc(s, func(r rune) bool { return !bare(r) }) < 0 {
		return s
	}

	return `"` + dq.Replace(s) + `"`
}

// Join constructs a shell-pasteable command line from bin and args.
func Join(bin string, args []string) string {
	words := make([]string, 0, len(args)+1)
	words = append(words, Quote(bin))

	for _, arg := range args {
		words = append(words, Quote(arg))
	}

	return strings.Join(words, " ")
}
