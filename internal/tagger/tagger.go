// Package tagger writes title, artist, track and cover art into encoded audio.
package tagger

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/bogem/id3v2"
	flac "github.com/go-flac/go-flac"
	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"

	"mediafetch/internal/errs"
)

const coverMIME = "image/png"

// Info is what gets written.
type Info struct {
	Title      string
	Artist     string
	TrackIndex string
	CoverURL   string
}

// Tagger writes tags in memory, using a scratch directory where the tag
// library needs a real file.
type Tagger struct {
	log           *slog.Logger
	client        *http.Client
	maxCoverWidth int
	workDir       string
}

// New creates a tagger. client fetches cover art.
func New(log *slog.Logger, client *http.Client, maxCoverWidth int, workDir string) *Tagger {
	if client == nil {
		client = http.DefaultClient
	}

	return &Tagger{
		log:           log.With(slog.String("package", "tagger")),
		client:        client,
		maxCoverWidth: maxCoverWidth,
		workDir:       workDir,
	}
}

// Supports reports whether ext has a tag writer.
func Supports(ext string) bool {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "mp3", "flac":
		return true
	default:
		return false
	}
}

// Supports reports whether ext has a tag writer.
func (t *Tagger) Supports(ext string) bool { return Supports(ext) }

// Tag returns data with tags applied. Unsupported containers come back unchanged.
// Cover art problems are logged and the file is tagged without a picture.
func (t *Tagger) Tag(ctx context.Context, data []byte, ext string, info Info) ([]byte, error) {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if !Supports(ext) {
		return data, nil
	}

	cover, err := t.FetchCover(ctx, info.CoverURL)
	if err != nil {
		t.log.WarnContext(ctx, "cover art skipped", slog.String("url", info.CoverURL), slog.Any("error", err))

		cover = nil
	}

	var out []byte

	switch ext {
	case "mp3":
		out, err = t.tagMP3(data, info, cover)
	case "flac":
		out, err = tagFLAC(data, info, cover)
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errs.ErrTagWrite, ext, err)
	}

	return out, nil
}

func (t *Tagger) tagMP3(data []byte, info Info, cover []byte) ([]byte, error) {
	if err := os.MkdirAll(t.workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	f, err := os.CreateTemp(t.workDir, "tag-*.mp3")
	if err != nil {
		return nil, fmt.Errorf("create temp: %w", err)
	}

	path := f.Name()
	defer os.Remove(path)

	_, err = f.Write(data)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}

	if err != nil {
		return nil, fmt.Errorf("write temp: %w", err)
	}

	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return nil, fmt.Errorf("open id3: %w", err)
	}
	defer tag.Close()

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	tag.SetTitle(info.Title)
	tag.SetArtist(info.Artist)

	if info.TrackIndex != "" {
		tag.AddTextFrame(tag.CommonID("Track number/Position in set"), id3v2.EncodingUTF8, info.TrackIndex)
	}

	if len(cover) > 0 {
		tag.DeleteFrames(tag.CommonID("Attached picture"))
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    coverMIME,
			PictureType: id3v2.PTFrontCover,
			Description: "Front Cover",
			Picture:     cover,
		})
	}

	if err := tag.Save(); err != nil {
		return nil, fmt.Errorf("save id3: %w", err)
	}

	out, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tagged file: %w", err)
	}

	return out, nil
}

func tagFLAC(data []byte, info Info, cover []byte) ([]byte, error) {
	f, err := flac.ParseBytes(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse flac: %w", err)
	}

	// existing comments and pictures are replaced
	meta := make([]*flac.MetaDataBlock, 0, len(f.Meta)+2)
	for _, block := range f.Meta {
		if block.Type != flac.VorbisComment && block.Type != flac.Picture {
			meta = append(meta, block)
		}
	}

	cmt := flacvorbis.New()
	for _, field := range [][2]string{
		{flacvorbis.FIELD_TITLE, info.Title},
		{flacvorbis.FIELD_ARTIST, info.Artist},
		{flacvorbis.FIELD_TRACKNUMBER, info.TrackIndex},
	} {
		if field[1] == "" {
			continue
		}

		if err := cmt.Add(field[0], field[1]); err != nil {
			return nil, fmt.Errorf("add %s: %w", field[0], err)
		}
	}

	cmtBlock := cmt.Marshal()
	meta = append(meta, &cmtBlock)

	if len(cover) > 0 {
		pic, err := flacpicture.NewFromImageData(flacpicture.PictureTypeFrontCover, "Front Cover", cover, coverMIME)
		if err != nil {
			return nil, fmt.Errorf("picture block: %w", err)
		}

		picBlock := pic.Marshal()
		meta = append(meta, &picBlock)
	}

	f.Meta = meta

	return f.Marshal(), nil
}
