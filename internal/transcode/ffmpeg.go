package transcode

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// stderrTail is how many non-progress lines are kept for error messages.
const stderrTail = 8

// FFmpegRunner runs the ffmpeg binary and parses its -progress output.
type FFmpegRunner struct {
	log *slog.Logger
}

// NewFFmpegRunner creates a runner.
func NewFFmpegRunner(log *slog.Logger) *FFmpegRunner {
	return &FFmpegRunner{log: log.With(slog.String("package", "transcode"))}
}

// Run implements Runner.
func (r *FFmpegRunner) Run(ctx context.Context, inv Invocation) error {
	cmd := exec.CommandContext(ctx, inv.Bin, inv.Args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	tail := scanProgress(stderr, inv.Duration, inv.OnProgress)

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return errors.Join(ctxErr, err)
		}

		return fmt.Errorf("ffmpeg: %w: %s", err, strings.Join(tail, " | "))
	}

	r.log.DebugContext(ctx, "ffmpeg finished", slog.Duration("input", inv.Duration))

	return nil
}

// scanProgress reads ffmpeg's stderr until EOF, reporting progress ratios and
// returning the last diagnostic lines.
func scanProgress(r io.Reader, total time.Duration, onProgress func(float64)) []string {
	if onProgress == nil {
		onProgress = func(float64) {}
	}

	var tail []string

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch {
		case strings.HasPrefix(line, "out_time_us="):
			us, err := strconv.ParseInt(strings.TrimPrefix(line, "out_time_us="), 10, 64)
			if err != nil || total <= 0 || us < 0 {
				continue
			}

			onProgress(min(float64(us)/float64(total.Microseconds()), 1))
		case line == "progress=end":
			onProgress(1)
		case strings.HasPrefix(line, "Duration:"):
			if total <= 0 {
				total = parseDuration(line)
			}
		case strings.Contains(line, "="):
			// remaining -progress keys
		case line != "":
			tail = append(tail, line)
			if len(tail) > stderrTail {
				tail = tail[1:]
			}
		}
	}

	return tail
}

// parseDuration reads "Duration: 00:03:21.47, start: ..." lines.
func parseDuration(line string) time.Duration {
	value := strings.TrimSpace(strings.TrimPrefix(line, "Duration:"))
	value, _, _ = strings.Cut(value, ",")

	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return 0
	}

	h, errH := strconv.Atoi(parts[0])
	m, errM := strconv.Atoi(parts[1])
	s, errS := strconv.ParseFloat(parts[2], 64)

	if errH != nil || errM != nil || errS != nil {
		return 0
	}

	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s*float64(time.Second))
}
