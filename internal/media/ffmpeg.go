package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

// Converter probes and transcodes local media files.
type Converter interface {
	// HasAudio reports whether the file has at least one audio stream.
	HasAudio(ctx context.Context, path string) (bool, error)
	// ToWAV writes a 16 kHz mono 16-bit PCM WAV of the input's audio to out.
	ToWAV(ctx context.Context, in, out string) error
}

// FFmpeg is a Converter that shells out to ffprobe and ffmpeg.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
	SampleRate  int // default 16000
}

type probeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
}

func (f FFmpeg) HasAudio(ctx context.Context, path string) (bool, error) {
	cmd := exec.CommandContext(ctx, orDefault(f.FFprobePath, "ffprobe"), probeArgs(path)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return false, fmt.Errorf("ffprobe failed: %w: %s", err, stderr.String())
	}

	var out probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return false, fmt.Errorf("decode ffprobe output: %w", err)
	}
	return len(out.Streams) > 0, nil
}

func (f FFmpeg) ToWAV(ctx context.Context, in, out string) error {
	cmd := exec.CommandContext(ctx, orDefault(f.FFmpegPath, "ffmpeg"), wavArgs(in, out, f.SampleRate)...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg failed: %w: %s", err, stderr.String())
	}
	return nil
}

// probeArgs lists only audio streams: ffprobe -v error -select_streams a -show_entries stream=codec_type -of json <in>
func probeArgs(in string) []string {
	return []string{
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=codec_type",
		"-of", "json",
		in,
	}
}

// wavArgs: ffmpeg -y -i <in> -vn -ac 1 -ar 16000 -acodec pcm_s16le -f wav <out>
func wavArgs(in, out string, rate int) []string {
	if rate <= 0 {
		rate = 16000
	}
	return []string{
		"-y",
		"-i", in,
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(rate),
		"-acodec", "pcm_s16le",
		"-f", "wav",
		out,
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
