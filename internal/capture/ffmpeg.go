package capture

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

	"github.com/your-org/faceads/internal/config"
)

// FrameCallback receives each JPEG frame. A non-nil error stops the source.
type FrameCallback func(frame []byte) error

// FrameSource delivers camera frames until ctx is cancelled or the camera
// fails. A nil return means the stream ended.
type FrameSource interface {
	Run(ctx context.Context, cb FrameCallback) error
}

const maxFrameBytes = 10 * 1024 * 1024

var errNoFrames = errors.New("no frames received from ffmpeg")

// FFmpegSource reads frames from a camera device or stream through an ffmpeg
// child process emitting MJPEG on stdout.
type FFmpegSource struct {
	cfg    config.CameraConfig
	binary string
}

func NewFFmpegSource(cfg config.CameraConfig) *FFmpegSource {
	return &FFmpegSource{cfg: cfg, binary: "ffmpeg"}
}

// Run starts ffmpeg and feeds its frames to cb. It returns nil when ffmpeg
// ends cleanly after delivering frames, and ctx's error once ctx is done.
func (s *FFmpegSource) Run(parent context.Context, cb FrameCallback) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	input := s.cfg.Device
	if isYouTube(input) {
		resolved, err := ResolveYouTubeURL(ctx, input)
		if err != nil {
			return fmt.Errorf("resolve youtube url: %w", err)
		}
		input = resolved
		slog.Info("resolved youtube url")
	}

	cmd := exec.CommandContext(ctx, s.binary, ffmpegArgs(s.cfg, input)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	slog.Info("camera opened", "device", s.cfg.Device, "width", s.cfg.Width, "height", s.cfg.Height, "fps", s.cfg.FPS)

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			slog.Warn("ffmpeg stderr", "output", scanner.Text())
		}
	}()

	readErr := readJPEGFrames(ctx, stdout, cb)
	if readErr != nil {
		cancel()
	}
	// Wait closes the pipes, so stderr has to be drained first.
	<-stderrDone
	waitErr := cmd.Wait()

	if err := parent.Err(); err != nil {
		return err
	}
	if waitErr != nil && (readErr == nil || errors.Is(readErr, errNoFrames)) {
		return fmt.Errorf("ffmpeg exited: %w", waitErr)
	}
	if readErr != nil {
		return fmt.Errorf("read frames: %w", readErr)
	}
	return nil
}

// ffmpegArgs builds the command line for a capture input. A bare number is
// treated as a V4L2 device index.
func ffmpegArgs(cfg config.CameraConfig, input string) []string {
	args := []string{"-hide_banner", "-loglevel", "warning"}

	if _, err := strconv.Atoi(input); err == nil {
		input = "/dev/video" + input
	}

	switch {
	case strings.HasPrefix(input, "rtsp://") || strings.HasPrefix(input, "rtsps://"):
		args = append(args,
			"-rtsp_transport", "tcp",
			"-timeout", "5000000", // microseconds
		)
	case strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://"):
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
			"-timeout", "10000000",
		)
	default:
		format := cfg.Format
		if format == "" && strings.HasPrefix(input, "/dev/") {
			format = "v4l2"
		}
		if format != "" {
			args = append(args, "-f", format)
		}
		if cfg.Width > 0 && cfg.Height > 0 {
			args = append(args, "-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height))
		}
		if cfg.FPS > 0 {
			args = append(args, "-framerate", strconv.Itoa(cfg.FPS))
		}
	}

	args = append(args,
		"-i", input,
		"-vf", fmt.Sprintf("fps=%d,scale=%d:%d", cfg.FPS, cfg.Width, cfg.Height),
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "5",
		"pipe:1",
	)
	return args
}

func isYouTube(input string) bool {
	return strings.Contains(input, "youtube.com/") || strings.Contains(input, "youtu.be/")
}

// readJPEGFrames splits a stream of concatenated JPEG images on the SOI/EOI
// markers and hands each frame to cb.
func readJPEGFrames(ctx context.Context, r io.Reader, cb FrameCallback) error {
	reader := bufio.NewReaderSize(r, 512*1024)
	frames := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := findJPEGStart(reader); err != nil {
			if err == io.EOF {
				if frames > 0 {
					return nil
				}
				return errNoFrames
			}
			return err
		}

		frame, err := readUntilJPEGEnd(reader)
		if err != nil {
			if err == io.EOF && frames > 0 {
				return nil
			}
			return err
		}

		frames++
		if err := cb(frame); err != nil {
			return err
		}
	}
}

func findJPEGStart(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b != 0xFF {
			continue
		}
		if err := r.UnreadByte(); err != nil {
			return err
		}
		pair, err := r.Peek(2)
		if err != nil {
			return err
		}
		if pair[1] == 0xD8 {
			_, _ = r.Discard(2)
			return nil
		}
		_, _ = r.Discard(1)
	}
}

func readUntilJPEGEnd(r *bufio.Reader) ([]byte, error) {
	data := []byte{0xFF, 0xD8}

	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		data = append(data, b)

		if b == 0xFF {
			next, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			if next == 0xFF {
				// Fill byte; the second 0xFF may still prefix a marker.
				_ = r.UnreadByte()
				continue
			}
			data = append(data, next)
			if next == 0xD9 {
				return data, nil
			}
		}

		if len(data) > maxFrameBytes {
			return nil, fmt.Errorf("jpeg frame too large: %d bytes", len(data))
		}
	}
}
