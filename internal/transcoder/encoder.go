// Package transcoder drives ffmpeg to produce encrypted multi-quality
// HLS output from a source video.
package transcoder

import (
	"context"
	"fmt"
)

// EncodeJob describes one encode run. KeyInfoPath points at the ffmpeg
// key info descriptor; every variant is encrypted with that key.
type EncodeJob struct {
	InputPath   string
	OutputDir   string
	KeyInfoPath string
}

// SourceInfo holds the probed facts about a source video.
type SourceInfo struct {
	DurationSeconds float64
	Width           int
	Height          int
}

// Resolution renders the probed dimensions as WxH.
func (s *SourceInfo) Resolution() string {
	if s.Width == 0 || s.Height == 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Encoder produces encrypted HLS output and probes source media. The
// pipeline depends on this interface so tests can swap in a fake.
type Encoder interface {
	Encode(ctx context.Context, job EncodeJob) error
	Probe(ctx context.Context, inputPath string) (*SourceInfo, error)
}
