// Package entity defines the core entities used in the application.
package entity

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
)

// Platform selects which client family resolves a reference.
type Platform string

const (
	// PlatformPrimary is the default video platform client.
	PlatformPrimary Platform = "primary"
	// PlatformAlternate is the music flavoured client.
	PlatformAlternate Platform = "alternate"
)

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	return p == PlatformPrimary || p == PlatformAlternate
}

// MediaReference identifies one remote item or collection.
type MediaReference struct {
	ID         string   `json:"id"`
	IsPlaylist bool     `json:"isPlaylist"`
	Platform   Platform `json:"platform"`
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (r MediaReference) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", r.ID),
		slog.Bool("playlist", r.IsPlaylist),
		slog.String("platform", string(r.Platform)),
	)
}

// Playability is the platform verdict on whether an item can be streamed.
type Playability string

const (
	PlayabilityOK            Playability = "ok"
	PlayabilityLoginRequired Playability = "login_required"
	PlayabilityUnplayable    Playability = "unplayable"
)

// StreamKind is the content of an encoded stream.
type StreamKind string

const (
	StreamAudio      StreamKind = "audio"
	StreamVideoAudio StreamKind = "video_audio"
	StreamVideo      StreamKind = "video"
)

// StreamFormat is one concrete encoded representation of a media item.
type StreamFormat struct {
	Itag          int        `json:"itag"`
	MimeType      string     `json:"mimeType"`
	Container     string     `json:"container"`
	Kind          StreamKind `json:"kind"`
	Bitrate       int        `json:"bitrate"`
	ContentLength int64      `json:"contentLength"`
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (f StreamFormat) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("itag", f.Itag),
		slog.String("container", f.Container),
		slog.String("kind", string(f.Kind)),
		slog.Int("bitrate", f.Bitrate),
		slog.Int64("content_length", f.ContentLength),
	)
}

// StreamAccessor pulls the bytes of one format lazily.
type StreamAccessor interface {
	OpenStream(ctx context.Context, media ResolvedMedia, format StreamFormat) (io.ReadCloser, int64, error)
}

// ResolvedMedia is the canonical metadata record every pipeline stage works on.
type ResolvedMedia struct {
	ID           string
	Title        string
	Author       string
	Duration     time.Duration
	ThumbnailURL string
	Playability  Playability
	Status       string // raw platform status, e.g. LOGIN_REQUIRED
	Reason       string
	Formats      []StreamFormat
	Client       string // name of the client that resolved it

	Accessor StreamAccessor
}

// Label is the best known display name.
func (m ResolvedMedia) Label() string {
	switch {
	case m.Author != "" && m.Title != "":
		return m.Author + " - " + m.Title
	case m.Title != "":
		return m.Title
	default:
		return m.ID
	}
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (m ResolvedMedia) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", m.ID),
		slog.String("title", m.Title),
		slog.String("author", m.Author),
		slog.Duration("duration", m.Duration),
		slog.String("playability", string(m.Playability)),
		slog.String("client", m.Client),
		slog.Int("formats", len(m.Formats)),
	)
}

// Thumbnail is one sized preview image.
type Thumbnail struct {
	URL    string
	Width  int
	Height int
}

// Video is the raw shape returned by the primary platform.
type Video struct {
	ID          string
	Title       string
	Author      string
	Duration    time.Duration
	Thumbnails  []Thumbnail
	Formats     []StreamFormat
	Playability Playability
	Status      string
	Reason      string
}

// Track is the raw shape returned by the alternate platform.
type Track struct {
	VideoID     string
	Title       string
	Artists     []string
	Album       string
	Duration    time.Duration
	Thumbnails  []Thumbnail
	Formats     []StreamFormat
	Playability Playability
	Status      string
	Reason      string
}

// Normalize converts the video variant into the canonical record.
func (v Video) Normalize() ResolvedMedia {
	return ResolvedMedia{
		ID:           v.ID,
		Title:        v.Title,
		Author:       v.Author,
		Duration:     v.Duration,
		ThumbnailURL: BestThumbnail(v.Thumbnails),
		Playability:  v.Playability,
		Status:       v.Status,
		Reason:       v.Reason,
		Formats:      v.Formats,
	}
}

// Normalize converts the track variant into the canonical record.
func (t Track) Normalize() ResolvedMedia {
	author := ""
	if len(t.Artists) > 0 {
		author = t.Artists[0]
	}

	return ResolvedMedia{
		ID:           t.VideoID,
		Title:        t.Title,
		Author:       author,
		Duration:     t.Duration,
		ThumbnailURL: BestThumbnail(t.Thumbnails),
		Playability:  t.Playability,
		Status:       t.Status,
		Reason:       t.Reason,
		Formats:      t.Formats,
	}
}

// BestThumbnail returns the widest thumbnail, preferring non webp urls.
func BestThumbnail(thumbs []Thumbnail) string {
	var best, bestWebp *Thumbnail

	for i := range thumbs {
		th := &thumbs[i]
		if isWebp(th.URL) {
			if bestWebp == nil || th.Width > bestWebp.Width {
				bestWebp = th
			}

			continue
		}

		if best == nil || th.Width > best.Width {
			best = th
		}
	}

	switch {
	case best != nil:
		return best.URL
	case bestWebp != nil:
		return bestWebp.URL
	default:
		return ""
	}
}

func isWebp(raw string) bool {
	return strings.Contains(strings.ToLower(raw), "webp")
}

// PresetKind tells named, custom and pass-through presets apart.
type PresetKind string

const (
	PresetNamed  PresetKind = "named"
	PresetCustom PresetKind = "custom"
	PresetSource PresetKind = "source"
)

// TranscodePreset is a re-encoding recipe.
type TranscodePreset struct {
	Name      string     `json:"name"`
	Kind      PresetKind `json:"kind"`
	Extension string     `json:"extension"`
	Args      []string   `json:"args,omitempty"`
}

// Reencodes reports whether the preset runs the transcoding engine.
func (p TranscodePreset) Reencodes() bool { return p.Kind != PresetSource }

// CollectionItem is one enumerated entry of a playlist.
type CollectionItem struct {
	Ref    MediaReference
	Title  string
	Author string
}

// Label is the display name used when the item fails before resolution.
func (i CollectionItem) Label() string {
	author, title := i.Author, i.Title
	if author == "" {
		author = "Unknown Author"
	}

	if title == "" {
		title = "Unknown Title"
	}

	return author + " - " + title
}

// CollectionPage is one page of a playlist listing.
type CollectionPage struct {
	ID           string
	Title        string
	HasHeader    bool // explicit ordered title metadata; albums lack it
	Items        []CollectionItem
	Continuation string
}

// Collection is a fully enumerated playlist.
type Collection struct {
	ID      string
	Title   string
	IsAlbum bool
	Items   []CollectionItem
}

// ItemFailure records one isolated failure inside a batch.
type ItemFailure struct {
	Position int      `json:"position"`
	Label    string   `json:"label"`
	Stage    JobState `json:"stage"`
	Error    string   `json:"error"`
}

// Summary is the outcome of a playlist run.
type Summary struct {
	Title    string        `json:"title"`
	Folder   string        `json:"folder"`
	Total    int           `json:"total"`
	Files    []string      `json:"files"`
	Skipped  int           `json:"skipped"`
	Failures []ItemFailure `json:"failures,omitempty"`
}
