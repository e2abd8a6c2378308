package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

// Prober reports the duration of an audio source in seconds.
type Prober interface {
	ProbeDuration(ctx context.Context, src string) (float64, error)
	ProbeBytes(ctx context.Context, data []byte) (float64, error)
}

// FFprobe implements Prober with the ffprobe binary. src may be a local
// path or an http(s) URL.
type FFprobe struct {
	path string
}

// NewFFprobe creates a prober; path defaults to "ffprobe" on $PATH.
func NewFFprobe(path string) *FFprobe {
	if path == "" {
		path = "ffprobe"
	}
	return &FFprobe{path: path}
}

type probeOutput struct {
	Format struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
	} `json:"format"`
}

func probeArgs(input string) []string {
	return []string{
		"-v", "error",
		"-show_entries", "format=duration,format_name",
		"-of", "json",
		input,
	}
}

// ProbeDuration runs ffprobe against src.
func (p *FFprobe) ProbeDuration(ctx context.Context, src string) (float64, error) {
	return p.run(ctx, src, nil)
}

// ProbeBytes feeds data to ffprobe on stdin.
func (p *FFprobe) ProbeBytes(ctx context.Context, data []byte) (float64, error) {
	return p.run(ctx, "pipe:0", data)
}

func (p *FFprobe) run(ctx context.Context, input string, stdin []byte) (float64, error) {
	cmd := exec.CommandContext(ctx, p.path, probeArgs(input)...)
	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe execution failed for %s: %w\nFFprobe Error: %s", input, err, stderr.String())
	}
	return parseProbeOutput(out.Bytes())
}

func parseProbeOutput(raw []byte) (float64, error) {
	var probeData probeOutput
	if err := json.Unmarshal(raw, &probeData); err != nil {
		return 0, fmt.Errorf("failed to unmarshal ffprobe output: %w", err)
	}
	if probeData.Format.Duration == "" {
		return 0, fmt.Errorf("duration not found in ffprobe output: %s", string(raw))
	}
	duration, err := strconv.ParseFloat(probeData.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration string %q: %w", probeData.Format.Duration, err)
	}
	if duration < 0 {
		return 0, fmt.Errorf("negative duration %v", duration)
	}
	return duration, nil
}
