package transcoder

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/streamvault/streamvault/internal/metrics"
	"github.com/streamvault/streamvault/pkg/models"
)

const (
	// HLSSegmentDuration is the duration of each HLS segment in seconds.
	HLSSegmentDuration = 6
)

var tracer = otel.Tracer("streamvault/transcoder")

// FFmpegConfig holds configuration for FFmpeg execution.
type FFmpegConfig struct {
	Presets []Preset
	Logger  *slog.Logger
}

// DefaultFFmpegConfig returns the default FFmpeg configuration.
func DefaultFFmpegConfig(logger *slog.Logger) *FFmpegConfig {
	return &FFmpegConfig{
		Presets: DefaultPresets,
		Logger:  logger,
	}
}

// FFmpegEncoder implements Encoder by shelling out to ffmpeg and ffprobe.
type FFmpegEncoder struct {
	config *FFmpegConfig
}

// NewFFmpegEncoder creates an FFmpegEncoder with the given configuration.
func NewFFmpegEncoder(config *FFmpegConfig) *FFmpegEncoder {
	return &FFmpegEncoder{config: config}
}

// Encode transcodes the input to encrypted HLS with one rendition per
// preset, then writes the master playlist.
func (e *FFmpegEncoder) Encode(ctx context.Context, job EncodeJob) error {
	ctx, span := tracer.Start(ctx, "encode-hls")
	defer span.End()

	start := time.Now()

	if err := CreateOutputDirectories(job.OutputDir, e.config.Presets); err != nil {
		return fmt.Errorf("%w: %v", models.ErrEncodeFailed, err)
	}

	if err := e.runFFmpeg(ctx, job); err != nil {
		return err
	}

	if err := GenerateMasterPlaylist(job.OutputDir, e.config.Presets); err != nil {
		return fmt.Errorf("failed to generate master playlist: %w", err)
	}

	metrics.EncodeDuration.Observe(time.Since(start).Seconds())

	return nil
}

// runFFmpeg executes the FFmpeg command for HLS transcoding.
func (e *FFmpegEncoder) runFFmpeg(ctx context.Context, job EncodeJob) error {
	ctx, span := tracer.Start(ctx, "ffmpeg-execute")
	defer span.End()

	args := e.buildFFmpegArgs(job)
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		e.monitorOutput(ctx, stderrPipe)
	}()

	go func() {
		defer wg.Done()
		_, _ = io.Copy(io.Discard, stdoutPipe)
	}()

	cmdErr := cmd.Wait()
	wg.Wait()

	if cmdErr != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: context canceled", models.ErrEncodeFailed)
		}
		return fmt.Errorf("%w: %v", models.ErrEncodeFailed, cmdErr)
	}

	span.SetAttributes(attribute.String("encode.input", job.InputPath))
	return nil
}

// buildFFmpegArgs constructs the FFmpeg command arguments. The key info
// descriptor is applied per variant so every rendition is encrypted
// with the same key.
func (e *FFmpegEncoder) buildFFmpegArgs(job EncodeJob) []string {
	presets := e.config.Presets

	args := []string{
		"-i", job.InputPath,
		"-preset", "veryfast",
		"-c:v", "libx264",
		"-profile:v", "main",
		"-level", "4.1",
		"-g", "100",
		"-keyint_min", "100",
		"-sc_threshold", "0",
		"-flags", "+cgop",
		"-filter_complex", BuildFilterComplex(presets),
	}

	for i, preset := range presets {
		streamArgs := []string{
			"-map", fmt.Sprintf("[v%dout]", i+1),
			"-map", "0:a?",
			fmt.Sprintf("-c:v:%d", i), "libx264",
			fmt.Sprintf("-b:v:%d", i), preset.Bitrate,
			fmt.Sprintf("-maxrate:v:%d", i), preset.MaxRate,
			fmt.Sprintf("-bufsize:v:%d", i), preset.BufSize,
			fmt.Sprintf("-c:a:%d", i), "aac",
			fmt.Sprintf("-b:a:%d", i), preset.AudioBPS,
			"-hls_time", fmt.Sprintf("%d", HLSSegmentDuration),
			"-hls_list_size", "0",
			"-hls_key_info_file", job.KeyInfoPath,
			"-hls_segment_filename", filepath.Join(job.OutputDir, preset.Name, "seg_%03d.ts"),
			filepath.Join(job.OutputDir, preset.Name, "playlist.m3u8"),
		}
		args = append(args, streamArgs...)
	}

	return args
}

// monitorOutput reads and logs FFmpeg output.
func (e *FFmpegEncoder) monitorOutput(ctx context.Context, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
			line := scanner.Text()
			if strings.Contains(line, "frame=") || strings.Contains(line, "time=") {
				e.config.Logger.Debug("FFmpeg progress", "output", line)
			} else if strings.Contains(line, "error") || strings.Contains(line, "Error") {
				e.config.Logger.Warn("FFmpeg warning", "output", line)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		e.config.Logger.Warn("FFmpeg output scanner error", "error", err)
	}
}

// ffprobe JSON output shapes.
type probeOutput struct {
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe runs ffprobe against the source and extracts duration and the
// dimensions of the first video stream.
func (e *FFmpegEncoder) Probe(ctx context.Context, inputPath string) (*SourceInfo, error) {
	ctx, span := tracer.Start(ctx, "ffprobe")
	defer span.End()

	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-show_entries", "format=duration",
		"-of", "json",
		inputPath,
	)

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probed probeOutput
	if err := json.Unmarshal(output, &probed); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &SourceInfo{}
	if probed.Format.Duration != "" {
		duration, err := strconv.ParseFloat(probed.Format.Duration, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse duration %q: %w", probed.Format.Duration, err)
		}
		info.DurationSeconds = duration
	}
	if len(probed.Streams) > 0 {
		info.Width = probed.Streams[0].Width
		info.Height = probed.Streams[0].Height
	}

	span.SetAttributes(attribute.Float64("source.duration_seconds", info.DurationSeconds))
	return info, nil
}
