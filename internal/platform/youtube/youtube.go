// Package youtube adapts the kkdai/youtube wire client to the resolver.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	yt "github.com/kkdai/youtube/v2"

	"mediafetch/internal/entity"
	"mediafetch/internal/errs"
)

// albumPrefix marks auto generated music album playlists.
const albumPrefix = "OLAK5uy_"

const statusLoginRequired = "LOGIN_REQUIRED"

// Options configures one client identity.
type Options struct {
	Name       string
	Platform   entity.Platform
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client resolves items and playlists through one identity.
type Client struct {
	log      *slog.Logger
	name     string
	platform entity.Platform
	timeout  time.Duration
	yt       *yt.Client
}

// New creates a client. Alternate platform clients return the track variant.
func New(log *slog.Logger, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		log:      log.With(slog.String("package", "youtube"), slog.String("client", opts.Name)),
		name:     opts.Name,
		platform: opts.Platform,
		timeout:  opts.Timeout,
		yt:       &yt.Client{HTTPClient: httpClient},
	}
}

// Name returns the identity name used in logs and metrics.
func (c *Client) Name() string { return c.name }

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.timeout)
}

// Info fetches metadata and formats. Playability blocks are reported in the
// returned record, not as errors.
func (c *Client) Info(ctx context.Context, id string) (entity.ResolvedMedia, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	video, err := c.yt.GetVideoContext(ctx, id)
	if err != nil {
		return c.blocked(id, err)
	}

	formats := make([]entity.StreamFormat, 0, len(video.Formats))
	for _, f := range video.Formats {
		formats = append(formats, toFormat(f))
	}

	thumbs := make([]entity.Thumbnail, 0, len(video.Thumbnails))
	for _, th := range video.Thumbnails {
		thumbs = append(thumbs, entity.Thumbnail{URL: th.URL, Width: int(th.Width), Height: int(th.Height)})
	}

	var media entity.ResolvedMedia

	if c.platform == entity.PlatformAlternate {
		media = entity.Track{
			VideoID:     video.ID,
			Title:       video.Title,
			Artists:     splitArtists(video.Author),
			Duration:    video.Duration,
			Thumbnails:  thumbs,
			Formats:     formats,
			Playability: entity.PlayabilityOK,
		}.Normalize()
	} else {
		media = entity.Video{
			ID:          video.ID,
			Title:       video.Title,
			Author:      video.Author,
			Duration:    video.Duration,
			Thumbnails:  thumbs,
			Formats:     formats,
			Playability: entity.PlayabilityOK,
		}.Normalize()
	}

	media.Client = c.name
	media.Accessor = &videoStream{yt: c.yt, video: video}

	return media, nil
}

// blocked turns wire client errors into a playability verdict where one applies.
func (c *Client) blocked(id string, err error) (entity.ResolvedMedia, error) {
	media := entity.ResolvedMedia{ID: id, Client: c.name}

	var status *yt.ErrPlayabiltyStatus

	switch {
	case errors.Is(err, yt.ErrLoginRequired):
		media.Playability = entity.PlayabilityLoginRequired
		media.Status = statusLoginRequired
		media.Reason = err.Error()
	case errors.As(err, &status):
		media.Status = status.Status
		media.Reason = status.Reason

		media.Playability = entity.PlayabilityUnplayable
		if status.Status == statusLoginRequired {
			media.Playability = entity.PlayabilityLoginRequired
		}
	case errors.Is(err, yt.ErrVideoPrivate):
		media.Playability = entity.PlayabilityUnplayable
		media.Status = "PRIVATE"
		media.Reason = err.Error()
	case errors.Is(err, yt.ErrNotPlayableInEmbed):
		media.Playability = entity.PlayabilityUnplayable
		media.Status = "UNPLAYABLE"
		media.Reason = err.Error()
	case errors.Is(err, yt.ErrInvalidCharactersInVideoID), errors.Is(err, yt.ErrVideoIDMinLength):
		return entity.ResolvedMedia{}, fmt.Errorf("%w: %s: %w", errs.ErrNotFound, id, err)
	default:
		return entity.ResolvedMedia{}, fmt.Errorf("get video %s: %w", id, err)
	}

	c.log.Debug("playability blocked", slog.String("id", id), slog.String("status", media.Status))

	return media, nil
}

// Playlist returns the whole collection as one page; the wire client follows
// continuations on its own.
func (c *Client) Playlist(ctx context.Context, id string) (entity.CollectionPage, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	playlist, err := c.yt.GetPlaylistContext(ctx, id)
	if err != nil {
		if errors.Is(err, yt.ErrInvalidPlaylist) {
			return entity.CollectionPage{}, fmt.Errorf("%w: %s: %w", errs.ErrNotFound, id, err)
		}

		return entity.CollectionPage{}, fmt.Errorf("get playlist %s: %w", id, err)
	}

	items := make([]entity.CollectionItem, 0, len(playlist.Videos))
	for _, entry := range playlist.Videos {
		if entry == nil || entry.ID == "" {
			continue
		}

		items = append(items, entity.CollectionItem{
			Ref:    entity.MediaReference{ID: entry.ID, Platform: c.platform},
			Title:  entry.Title,
			Author: entry.Author,
		})
	}

	title := playlist.Title
	if title == "" {
		title = playlist.Author
	}

	return entity.CollectionPage{
		ID:        playlist.ID,
		Title:     title,
		HasHeader: playlist.Title != "" && !strings.HasPrefix(playlist.ID, albumPrefix),
		Items:     items,
	}, nil
}

// Continue is never reached since Playlist returns no continuation token.
func (c *Client) Continue(_ context.Context, token string) (entity.CollectionPage, error) {
	return entity.CollectionPage{}, fmt.Errorf("%w: unexpected continuation %q", errs.ErrEnumeration, token)
}

type videoStream struct {
	yt    *yt.Client
	video *yt.Video
}

// OpenStream opens the byte stream of the format with the same itag.
func (s *videoStream) OpenStream(ctx context.Context, _ entity.ResolvedMedia, format entity.StreamFormat) (io.ReadCloser, int64, error) {
	for i := range s.video.Formats {
		if s.video.Formats[i].ItagNo != format.Itag {
			continue
		}

		rc, size, err := s.yt.GetStreamContext(ctx, s.video, &s.video.Formats[i])
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %w", errs.ErrStreamNetwork, err)
		}

		return rc, size, nil
	}

	return nil, 0, fmt.Errorf("%w: itag %d", errs.ErrNoFormat, format.Itag)
}

func toFormat(f yt.Format) entity.StreamFormat {
	kind := entity.StreamVideoAudio

	switch {
	case f.AudioChannels > 0 && f.Width == 0 && f.Height == 0:
		kind = entity.StreamAudio
	case f.AudioChannels == 0:
		kind = entity.StreamVideo
	}

	bitrate := f.Bitrate
	if bitrate == 0 {
		bitrate = f.AverageBitrate
	}

	return entity.StreamFormat{
		Itag:          f.ItagNo,
		MimeType:      f.MimeType,
		Kind:          kind,
		Bitrate:       bitrate,
		ContentLength: f.ContentLength,
	}
}

// splitArtists splits music credits such as "A, B & C".
func splitArtists(author string) []string {
	var out []string

	for part := range strings.SplitSeq(strings.ReplaceAll(author, " & ", ", "), ", ") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}

	return out
}
