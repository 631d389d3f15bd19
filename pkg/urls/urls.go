// Package urls provides utility functions for working with URLs.
package urls

import (
	"net/url"
	"strings"
)

const (
	schemeHTTP  = "http"
	schemeHTTPS = "https"

	hostShort       = "youtu.be"
	alternatePrefix = "music."

	// radioPrefix marks auto generated radio mixes; the real list id follows it.
	radioPrefix = "RDAMPL"
)

// IsURLValid checks if the given URL is valid.
func IsURLValid(raw string) bool {
	u, err := url.Parse(raw)

	return err == nil && u.Scheme != "" && u.Host != "" && (u.Scheme == schemeHTTP || u.Scheme == schemeHTTPS)
}

// Normalize trims spaces, parses and returns the URL in string format.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)

	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	return u.String()
}

// IsAlternateHost reports whether the URL points at the music subdomain.
func IsAlternateHost(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}

	return strings.HasPrefix(strings.ToLower(u.Hostname()), alternatePrefix)
}

// VideoID extracts the item id from a watch URL. Non URL input is returned trimmed.
//   - https://www.youtube.com/watch?v=abc => abc
//   - https://youtu.be/abc => abc
func VideoID(raw string) string {
	raw = strings.TrimSpace(raw)
	if !IsURLValid(raw) {
		return raw
	}

	u, _ := url.Parse(raw)
	if strings.EqualFold(u.Hostname(), hostShort) {
		return strings.Trim(u.Path, "/")
	}

	return u.Query().Get("v")
}

// PlaylistID extracts the collection id from the list or playlist query parameter,
// dropping the radio mix prefix. Non URL input is treated as an id.
func PlaylistID(raw string) string {
	raw = strings.TrimSpace(raw)

	id := raw
	if IsURLValid(raw) {
		u, _ := url.Parse(raw)
		query := u.Query()

		id = query.Get("list")
		if id == "" {
			id = query.Get("playlist")
		}
	}

	return strings.TrimPrefix(id, radioPrefix)
}

// HasPlaylist reports whether the URL carries a collection id.
func HasPlaylist(raw string) bool {
	if !IsURLValid(strings.TrimSpace(raw)) {
		return false
	}

	return PlaylistID(raw) != ""
}
