package transcoder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MasterPlaylistName is the entry point players request.
const MasterPlaylistName = "index.m3u8"

// GenerateMasterPlaylist creates the master HLS playlist file. Variant
// playlists carry the EXT-X-KEY tags; the master only points at them.
func GenerateMasterPlaylist(hlsDir string, presets []Preset) error {
	var builder strings.Builder
	builder.WriteString("#EXTM3U\n")
	builder.WriteString("#EXT-X-VERSION:3\n")

	for _, preset := range presets {
		builder.WriteString(fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n",
			preset.Bandwidth, preset.Width, preset.Height))
		builder.WriteString(fmt.Sprintf("%s/playlist.m3u8\n", preset.Name))
	}

	return os.WriteFile(filepath.Join(hlsDir, MasterPlaylistName), []byte(builder.String()), 0644)
}

// CreateOutputDirectories creates the output directories for each quality level.
func CreateOutputDirectories(hlsDir string, presets []Preset) error {
	for _, preset := range presets {
		dirPath := filepath.Join(hlsDir, preset.Name)
		if err := os.MkdirAll(dirPath, 0755); err != nil {
			return fmt.Errorf("failed to create HLS subdir %s: %w", preset.Name, err)
		}
	}
	return nil
}
