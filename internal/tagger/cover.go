package tagger

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // thumbnail decoders
	"image/png"
	"io"
	"net/http"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // webp thumbnails

	"mediafetch/internal/errs"
)

// maxCoverBytes caps thumbnail downloads.
const maxCoverBytes = 8 << 20

// FetchCover downloads and normalizes cover art. An empty url yields no cover.
func (t *Tagger) FetchCover(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch cover: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch cover: unexpected status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxCoverBytes))
	if err != nil {
		return nil, fmt.Errorf("read cover: %w", err)
	}

	return ProcessCover(raw, t.maxCoverWidth)
}

// ProcessCover crops the image to a centred square, scales it down to at
// most maxWidth pixels and encodes it as PNG.
func ProcessCover(raw []byte, maxWidth int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrInvalidImage, err)
	}

	b := src.Bounds()

	side := min(b.Dx(), b.Dy())
	if side == 0 {
		return nil, fmt.Errorf("%w: empty image", errs.ErrInvalidImage)
	}

	crop := image.Rect(0, 0, side, side).Add(image.Pt(b.Min.X+(b.Dx()-side)/2, b.Min.Y+(b.Dy()-side)/2))

	out := side
	if maxWidth > 0 && out > maxWidth {
		out = maxWidth
	}

	dst := image.NewRGBA(image.Rect(0, 0, out, out))
	if out == side {
		draw.Draw(dst, dst.Bounds(), src, crop.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, crop, draw.Src, nil)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode cover: %w", err)
	}

	return buf.Bytes(), nil
}
