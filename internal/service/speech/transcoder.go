package speech

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// Transcoder converts browser recordings to the 16 kHz mono WAV the
// recognizer expects, using an external ffmpeg binary.
type Transcoder struct {
	binary string
	// tempDir holds the scratch files; empty means os.TempDir.
	tempDir string
	logger  zerolog.Logger
}

// NewTranscoder returns a Transcoder, or nil when binary is empty.
func NewTranscoder(binary string, logger zerolog.Logger) *Transcoder {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		return nil
	}
	return &Transcoder{
		binary: binary,
		logger: logger.With().Str("component", "transcoder").Logger(),
	}
}

// NeedsTranscode reports whether audio in format must be converted first.
func NeedsTranscode(format string) bool {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "wav", "pcm":
		return false
	default:
		return true
	}
}

// ToWAV converts audio. Both scratch files exist only for the duration of
// the call and are removed on every return path.
func (t *Transcoder) ToWAV(ctx context.Context, audio []byte, format string) ([]byte, error) {
	in, err := os.CreateTemp(t.tempDir, "asr-in-*."+sanitizeExt(format))
	if err != nil {
		return nil, fmt.Errorf("create input file: %w", err)
	}
	defer os.Remove(in.Name())

	if _, err := in.Write(audio); err != nil {
		in.Close()
		return nil, fmt.Errorf("write input file: %w", err)
	}
	if err := in.Close(); err != nil {
		return nil, fmt.Errorf("close input file: %w", err)
	}

	out, err := os.CreateTemp(t.tempDir, "asr-out-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	out.Close()
	defer os.Remove(out.Name())

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.binary,
		"-y", "-i", in.Name(),
		"-ac", "1", "-ar", "16000",
		"-f", "wav", out.Name(),
	)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		t.logger.Warn().Err(err).Str("format", format).Str("stderr", strings.TrimSpace(stderr.String())).Msg("ffmpeg failed")
		return nil, fmt.Errorf("transcode %s: %w", format, err)
	}

	wav, err := os.ReadFile(out.Name())
	if err != nil {
		return nil, fmt.Errorf("read output file: %w", err)
	}
	if len(wav) == 0 {
		return nil, fmt.Errorf("transcode %s: empty output", format)
	}
	return wav, nil
}

func sanitizeExt(format string) string {
	ext := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, strings.ToLower(format))
	if ext == "" {
		return "bin"
	}
	return ext
}
