package shellquote_test

import (
	"testing"

	"mediafetch/pkg/shellquote"
)

func TestJoin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		bin  string
		args []string
		want string
	}{
		{
			name: "no args",
			bin:  "/usr/bin/ffmpeg",
			args: nil,
			want: "/usr/bin/ffmpeg",
		},
		{
			name: "safe args stay bare",
			bin:  "/usr/bin/ffmpeg",
			args: []string{"-i", "in.webm", "-b:a", "256k", "out.mp3"},
			want: "/usr/bin/ffmpeg -i in.webm -b:a 256k out.mp3",
		},
		{
			name: "spaces are quoted",
			bin:  "ffmpeg",
			args: []string{"-metadata", "title=My Song"},
			want: `ffmpeg -metadata "title=My Song"`,
		},
		{
			name: "embedded double quote is escaped",
			bin:  "ffmpeg",
			args: []string{"-metadata", `title=a"b`},
			want: `ffmpeg -metadata "title=a\"b"`,
		},
		{
			name: "dollar and backtick are escaped",
			bin:  "ffmpeg",
			args: []string{"artist=$x`y`"},
			want: "ffmpeg \"artist=\\$x\\`y\\`\"",
		},
		{
			name: "empty arg",
			bin:  "ffmpeg",
			args: []string{""},
			want: `ffmpeg ""`,
		},
		{
			name: "newline becomes escape sequence",
			bin:  "ffmpeg",
			args: []string{"line1\nline2"},
			want: `ffmpeg "line1\nline2"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := shellquote.Join(tt.bin, tt.args)
			if got != tt.want {
				t.Fatalf("Join() mismatch\n got: %q\nwant: %q", got, tt.want)
			}
		})
	}
}

func TestQuote(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"out.mp3":          "out.mp3",
		"Band - Alpha.mp3": `"Band - Alpha.mp3"`,
		"tab\there":        `"tab\there"`,
		`back\slash`:       `"back\\slash"`,
	}

	for in, want := range tests {
		if got := shellquote.Quote(in); got != want {
			t.Errorf("Quote(%q) = %q, want %q", in, got, want)
		}
	}
}
