// Package fsname turns arbitrary titles into portable file and folder names.
package fsname

import (
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// DefaultMaxLength is the common per component byte limit of local filesystems.
const DefaultMaxLength = 255

const fallbackName = "untitled"

// Replacements for forbidden characters: files get "_", folders a space.
const (
	FileReplacement   = "_"
	FolderReplacement = " "
)

// reservedSuffix is appended to reserved device names whatever the replacement.
const reservedSuffix = "_"

// forbidden characters on at least one supported host filesystem.
const forbidden = `<>:"/\|?*`

var reserved = map[string]struct{}{
	"CON": {}, "PRN": {}, "AUX": {}, "NUL": {},
	"COM1": {}, "COM2": {}, "COM3": {}, "COM4": {}, "COM5": {}, "COM6": {}, "COM7": {}, "COM8": {}, "COM9": {},
	"LPT1": {}, "LPT2": {}, "LPT3": {}, "LPT4": {}, "LPT5": {}, "LPT6": {}, "LPT7": {}, "LPT8": {}, "LPT9": {},
}

// normalizes reports whether the host filesystem already stores names in a canonical form.
var normalizes = runtime.GOOS == "darwin"

// Sanitize replaces forbidden and control characters with replacement and bounds
// the result to maxLen bytes. maxLen <= 0 means DefaultMaxLength.
func Sanitize(name, replacement string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}

	if strings.ContainsAny(replacement, forbidden) {
		replacement = "_"
	}

	if !normalizes {
		name = norm.NFC.String(name)
	}

	var b strings.Builder

	for _, r := range name {
		if r == utf8.RuneError || unicode.IsControl(r) || strings.ContainsRune(forbidden, r) {
			b.WriteString(replacement)

			continue
		}

		b.WriteRune(r)
	}

	out := strings.TrimSpace(b.String())
	out = strings.TrimRight(out, ". ")
	out = strings.TrimLeft(out, " ")

	if _, ok := reserved[strings.ToUpper(out)]; ok {
		out += reservedSuffix
	}

	out = truncate(out, maxLen)
	out = strings.TrimRight(out, ". ")

	if out == "" {
		return truncate(fallbackName, maxLen)
	}

	return out
}

// Filename builds "<stem>.<ext>" whose total byte length never exceeds maxLen.
// The extension is kept intact and the stem is shortened instead.
func Filename(stem, ext, replacement string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}

	ext = strings.TrimPrefix(Sanitize(ext, "", maxLen), ".")
	if ext == fallbackName {
		ext = ""
	}

	suffix := ""
	if ext != "" {
		suffix = "." + ext
	}

	room := maxLen - len(suffix)
	if room < 1 {
		return truncate(fallbackName+suffix, maxLen)
	}

	return Sanitize(stem, replacement, room) + suffix
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}

	return s[:cut]
}

// ErrOutsideRoot is returned for folders that resolve outside their root.
var ErrOutsideRoot = errors.New("folder escapes root")

// ResolveFolder returns folder as a clean absolute path inside root. Relative
// folders are taken relative to root; an empty folder stays empty so callers
// fall back to their default.
func ResolveFolder(root, folder string) (string, error) {
	folder = strings.TrimSpace(folder)
	if folder == "" {
		return "", nil
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("root: %w", err)
	}

	var abs string

	switch {
	case filepath.IsAbs(folder):
		abs = filepath.Clean(folder)
	case filepath.IsLocal(folder):
		abs = filepath.Join(root, folder)
	default:
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, folder)
	}

	rel, err := filepath.Rel(root, abs)
	if err != nil || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %q", ErrOutsideRoot, folder)
	}

	return abs, nil
}
