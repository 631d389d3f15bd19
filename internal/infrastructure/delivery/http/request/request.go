// Package request holds HTTP request payloads and their validation.
package request

import (
	"fmt"
	"strings"

	"mediafetch/internal/entity"
	"mediafetch/internal/errs"
	"mediafetch/pkg/fsname"
	"mediafetch/pkg/urls"
)

// Download is the body of POST /v1/downloads. Either URL or ID is required.
type Download struct {
	URL      string `json:"url"`
	ID       string `json:"id"`
	Platform string `json:"platform"` // "primary" or "alternate"; inferred from the URL host when empty
	Playlist bool   `json:"playlist"`
	Preset   string `json:"preset"` // e.g. "mp3 (256kbps)", "Custom", "Source"; empty means the configured default
	Folder   string `json:"folder"`

	SkipExisting *bool `json:"skipExisting"`
}

// Validate checks the body and returns the media reference it names.
func (d *Download) Validate() (entity.MediaReference, error) {
	d.URL = strings.TrimSpace(d.URL)
	d.ID = strings.TrimSpace(d.ID)

	ref := entity.MediaReference{Platform: entity.Platform(d.Platform), IsPlaylist: d.Playlist}

	if ref.Platform != "" && !ref.Platform.Valid() {
		return entity.MediaReference{}, errs.ErrInvalidPlatform
	}

	switch {
	case d.ID != "":
		ref.ID = d.ID
	case d.URL == "" || !urls.IsURLValid(d.URL):
		return entity.MediaReference{}, errs.ErrInvalidReference
	default:
		if ref.Platform == "" && urls.IsAlternateHost(d.URL) {
			ref.Platform = entity.PlatformAlternate
		}

		videoID := urls.VideoID(d.URL)

		// a list URL without an item is a playlist even when not flagged
		if d.Playlist || (videoID == "" && urls.HasPlaylist(d.URL)) {
			ref.IsPlaylist = true
			ref.ID = urls.PlaylistID(d.URL)
		} else {
			ref.ID = videoID
		}
	}

	if ref.ID == "" {
		return entity.MediaReference{}, errs.ErrInvalidReference
	}

	if ref.Platform == "" {
		ref.Platform = entity.PlatformPrimary
	}

	return ref, nil
}

// ResolveFolder confines the folder field to root. Relative folders are
// taken relative to root; absolute ones must already lie inside it.
func (d *Download) ResolveFolder(root string) (string, error) {
	folder, err := fsname.ResolveFolder(root, d.Folder)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrInvalidFolder, err)
	}

	return folder, nil
}
