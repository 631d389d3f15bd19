package youtube

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"testing"

	yt "github.com/kkdai/youtube/v2"

	"mediafetch/internal/entity"
	"mediafetch/internal/errs"
)

func newTestClient() *Client {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)), Options{Name: "primary", Platform: entity.PlatformPrimary})
}

func TestBlocked(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantState  entity.Playability
		wantStatus string
		wantErr    error
		wantAnyErr bool
	}{
		{
			name:       "login required",
			err:        yt.ErrLoginRequired,
			wantState:  entity.PlayabilityLoginRequired,
			wantStatus: "LOGIN_REQUIRED",
		},
		{
			name:       "status login required",
			err:        &yt.ErrPlayabiltyStatus{Status: "LOGIN_REQUIRED", Reason: "Sign in"},
			wantState:  entity.PlayabilityLoginRequired,
			wantStatus: "LOGIN_REQUIRED",
		},
		{
			name:       "status unplayable",
			err:        &yt.ErrPlayabiltyStatus{Status: "UNPLAYABLE", Reason: "Not available in your country"},
			wantState:  entity.PlayabilityUnplayable,
			wantStatus: "UNPLAYABLE",
		},
		{
			name:       "private",
			err:        yt.ErrVideoPrivate,
			wantState:  entity.PlayabilityUnplayable,
			wantStatus: "PRIVATE",
		},
		{
			name:    "bad id",
			err:     yt.ErrVideoIDMinLength,
			wantErr: errs.ErrNotFound,
		},
		{
			name:       "transport error",
			err:        errors.New("connection reset"),
			wantAnyErr: true,
		},
	}

	c := newTestClient()

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			media, err := c.blocked("abc", tt.err)

			switch {
			case tt.wantErr != nil:
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}

				return
			case tt.wantAnyErr:
				if err == nil {
					t.Fatal("expected error")
				}

				return
			case err != nil:
				t.Fatalf("unexpected error: %v", err)
			}

			if media.Playability != tt.wantState || media.Status != tt.wantStatus {
				t.Errorf("got %s/%s, want %s/%s", media.Playability, media.Status, tt.wantState, tt.wantStatus)
			}

			if media.ID != "abc" || media.Client != "primary" {
				t.Errorf("unexpected record %+v", media)
			}
		})
	}
}

func TestToFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		in          yt.Format
		wantKind    entity.StreamKind
		wantBitrate int
	}{
		{
			name:        "audio only",
			in:          yt.Format{ItagNo: 251, MimeType: `audio/webm; codecs="opus"`, AudioChannels: 2, Bitrate: 160000},
			wantKind:    entity.StreamAudio,
			wantBitrate: 160000,
		},
		{
			name:        "muxed",
			in:          yt.Format{ItagNo: 18, MimeType: "video/mp4", AudioChannels: 2, Width: 640, Height: 360, AverageBitrate: 500000},
			wantKind:    entity.StreamVideoAudio,
			wantBitrate: 500000,
		},
		{
			name:     "video only",
			in:       yt.Format{ItagNo: 137, MimeType: "video/mp4", Width: 1920, Height: 1080},
			wantKind: entity.StreamVideo,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := toFormat(tt.in)
			if got.Kind != tt.wantKind || got.Bitrate != tt.wantBitrate || got.Itag != tt.in.ItagNo {
				t.Errorf("toFormat() = %+v, want kind %s bitrate %d", got, tt.wantKind, tt.wantBitrate)
			}
		})
	}
}

func TestSplitArtists(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"Solo", []string{"Solo"}},
		{"A, B & C", []string{"A", "B", "C"}},
		{"", nil},
	}

	for _, tt := range tests {
		if got := splitArtists(tt.in); !slices.Equal(got, tt.want) {
			t.Errorf("splitArtists(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewHTTPClientUserAgent(t *testing.T) {
	t.Parallel()

	agents := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		agents <- r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	client := NewHTTPClient("embedded-player/1.0", nil)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}

	req.Header.Set("User-Agent", "wire-client")

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}

	resp.Body.Close()

	if got := <-agents; got != "embedded-player/1.0" {
		t.Errorf("User-Agent = %q, want %q", got, "embedded-player/1.0")
	}

	if req.Header.Get("User-Agent") != "wire-client" {
		t.Error("caller request was mutated")
	}
}

func TestNewHTTPClientRoute(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var routed int

	client := NewHTTPClient("", func(base *http.Transport) http.RoundTripper {
		return rtFunc(func(req *http.Request) (*http.Response, error) {
			routed++

			return base.RoundTrip(req)
		})
	})

	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}

	resp.Body.Close()

	if routed != 1 {
		t.Errorf("route used %d times, want 1", routed)
	}
}

type rtFunc func(*http.Request) (*http.Response, error)

func (f rtFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestUserAgentTransportSkipsMediaHosts(t *testing.T) {
	t.Parallel()

	var got []string

	tr := &userAgentTransport{
		userAgent: "embedded-player/1.0",
		base: rtFunc(func(r *http.Request) (*http.Response, error) {
			got = append(got, r.Header.Get("User-Agent"))

			return &http.Response{StatusCode: http.StatusOK, Body: http.NoBody, Request: r}, nil
		}),
	}

	for _, target := range []string{
		"https://www.youtube.com/youtubei/v1/player",
		"https://rr3---sn-abc.googlevideo.com/videoplayback?itag=140",
	} {
		req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, target, nil)
		if err != nil {
			t.Fatal(err)
		}

		req.Header.Set("User-Agent", "wire-client")

		resp, err := tr.RoundTrip(req)
		if err != nil {
			t.Fatalf("RoundTrip(%s) error: %v", target, err)
		}

		resp.Body.Close()
	}

	if len(got) != 2 || got[0] != "embedded-player/1.0" || got[1] != "wire-client" {
		t.Errorf("user agents = %q", got)
	}
}
