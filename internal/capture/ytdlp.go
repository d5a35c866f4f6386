package capture

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ResolveYouTubeURL asks yt-dlp for the direct media URL of a YouTube link,
// capped at the camera-like 720p.
func ResolveYouTubeURL(ctx context.Context, youtubeURL string) (string, error) {
	out, err := exec.CommandContext(ctx, "yt-dlp",
		"--get-url",
		"--format", "best[height<=720]",
		"--no-playlist",
		youtubeURL,
	).Output()
	if err != nil {
		return "", fmt.Errorf("yt-dlp failed: %w", err)
	}
	return firstURL(string(out))
}

// firstURL picks the first non-empty line; yt-dlp prints one URL per stream.
func firstURL(output string) (string, error) {
	for _, line := range strings.Split(output, "\n") {
		if u := strings.TrimSpace(line); u != "" {
			return u, nil
		}
	}
	return "", fmt.Errorf("yt-dlp returned empty URL")
}
