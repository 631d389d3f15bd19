// Package format picks the stream to download and the container to produce.
package format

import (
	"context"
	"fmt"
	"mime"
	"strings"

	"mediafetch/internal/config"
	"mediafetch/internal/consts"
	"mediafetch/internal/entity"
	"mediafetch/internal/errs"
)

// Entitlement reports whether the caller may receive audio-only streams.
type Entitlement interface {
	AudioOnly(ctx context.Context) bool
}

// StaticEntitlement is a fixed entitlement, usually taken from configuration.
type StaticEntitlement bool

// AudioOnly implements Entitlement.
func (e StaticEntitlement) AudioOnly(context.Context) bool { return bool(e) }

// Selector applies the entitlement policy to Select.
type Selector struct {
	entitlement Entitlement
}

// NewSelector creates a selector. A nil entitlement means no audio-only access.
func NewSelector(entitlement Entitlement) *Selector {
	if entitlement == nil {
		entitlement = StaticEntitlement(false)
	}

	return &Selector{entitlement: entitlement}
}

// Choose selects the best format the caller is entitled to.
func (s *Selector) Choose(ctx context.Context, media entity.ResolvedMedia) (entity.StreamFormat, error) {
	return Select(media, s.entitlement.AudioOnly(ctx))
}

// Select returns the best format of the wanted kind. There is no fallback to
// another kind or a lower quality.
func Select(media entity.ResolvedMedia, wantAudioOnly bool) (entity.StreamFormat, error) {
	kind := entity.StreamVideoAudio
	if wantAudioOnly {
		kind = entity.StreamAudio
	}

	var (
		best  entity.StreamFormat
		found bool
	)

	for _, f := range media.Formats {
		if f.Kind != kind {
			continue
		}

		if !found || better(f, best) {
			best, found = f, true
		}
	}

	if !found {
		return entity.StreamFormat{}, fmt.Errorf("%w: %s for %s", errs.ErrNoFormat, kind, media.ID)
	}

	best.Container = Container(best)

	return best, nil
}

func better(a, b entity.StreamFormat) bool {
	if a.Bitrate != b.Bitrate {
		return a.Bitrate > b.Bitrate
	}

	if a.ContentLength != b.ContentLength {
		return a.ContentLength > b.ContentLength
	}

	return a.Itag < b.Itag
}

// itagContainers covers the itags served today.
var itagContainers = map[int]string{
	17: "3gp", 36: "3gp",
	18: "mp4", 22: "mp4",
	43: "webm",
	139: "m4a", 140: "m4a", 141: "m4a", 256: "m4a", 258: "m4a",
	171: "webm", 172: "webm", 249: "webm", 250: "webm", 251: "webm",
}

var mimeContainers = map[string]string{
	"audio/mp4":  "m4a",
	"video/mp4":  "mp4",
	"audio/webm": "webm",
	"video/webm": "webm",
	"video/3gpp": "3gp",
	"audio/mpeg": "mp3",
}

// Container returns the native container of f, or "" when unknown.
func Container(f entity.StreamFormat) string {
	if f.Container != "" {
		return f.Container
	}

	if c, ok := itagContainers[f.Itag]; ok {
		return c
	}

	mediaType, _, err := mime.ParseMediaType(f.MimeType)
	if err != nil {
		return ""
	}

	return mimeContainers[mediaType]
}

// TargetExtension is the preset's extension, else the stream's container,
// else the default extension.
func TargetExtension(preset entity.TranscodePreset, f entity.StreamFormat) string {
	if preset.Extension != "" {
		return strings.TrimPrefix(preset.Extension, ".")
	}

	if c := Container(f); c != "" {
		return c
	}

	return consts.DefaultExtension
}

// Presets returns the available presets, the custom one built from cfg.
func Presets(cfg config.Download) []entity.TranscodePreset {
	return []entity.TranscodePreset{
		{Name: consts.PresetMP3, Kind: entity.PresetNamed, Extension: "mp3", Args: []string{"-b:a", "256k"}},
		{Name: consts.PresetCustom, Kind: entity.PresetCustom, Extension: cfg.CustomExtension, Args: cfg.CustomArgs},
		{Name: consts.PresetSource, Kind: entity.PresetSource},
	}
}

// LookupPreset finds a preset by case-insensitive name; an empty name
// selects the configured default.
func LookupPreset(name string, cfg config.Download) (entity.TranscodePreset, error) {
	if name == "" {
		name = cfg.Preset
	}

	for _, p := range Presets(cfg) {
		if strings.EqualFold(p.Name, name) {
			return p, nil
		}
	}

	return entity.TranscodePreset{}, fmt.Errorf("%w: %q", errs.ErrInvalidPreset, name)
}
