package capture

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/faceads/internal/config"
)

func jpegBytes(body ...byte) []byte {
	out := []byte{0xFF, 0xD8}
	out = append(out, body...)
	return append(out, 0xFF, 0xD9)
}

func TestReadJPEGFrames(t *testing.T) {
	first := jpegBytes(0x01, 0x02, 0xFF, 0x00, 0x03)
	second := jpegBytes(0x04)

	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0xFF, 0x11})
	stream.Write(first)
	stream.Write([]byte{0xFF})
	stream.Write(second)

	var got [][]byte
	err := readJPEGFrames(context.Background(), &stream, func(frame []byte) error {
		got = append(got, frame)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first, got[0])
	assert.Equal(t, second, got[1])
}

func TestReadJPEGFrames_NoFrames(t *testing.T) {
	err := readJPEGFrames(context.Background(), strings.NewReader("garbage"), func([]byte) error { return nil })
	assert.ErrorIs(t, err, errNoFrames)
}

func TestReadJPEGFrames_TruncatedTail(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(jpegBytes(0x01))
	stream.Write([]byte{0xFF, 0xD8, 0x05})

	count := 0
	err := readJPEGFrames(context.Background(), &stream, func([]byte) error {
		count++
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestReadJPEGFrames_FillBytesBeforeEOI(t *testing.T) {
	first := []byte{0xFF, 0xD8, 0x01, 0xFF, 0xFF, 0xD9}
	second := jpegBytes(0x02)

	var stream bytes.Buffer
	stream.Write(first)
	stream.Write(second)

	var got [][]byte
	err := readJPEGFrames(context.Background(), &stream, func(frame []byte) error {
		got = append(got, frame)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first, got[0])
	assert.Equal(t, second, got[1])
}

func TestReadJPEGFrames_CallbackErrorStops(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(jpegBytes(0x01))
	stream.Write(jpegBytes(0x02))

	stop := errors.New("stop")
	count := 0
	err := readJPEGFrames(context.Background(), &stream, func([]byte) error {
		count++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, count)
}

func TestReadJPEGFrames_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := readJPEGFrames(ctx, bytes.NewReader(jpegBytes(0x01)), func([]byte) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFFmpegArgs(t *testing.T) {
	cam := config.CameraConfig{Width: 640, Height: 480, FPS: 5}

	tests := []struct {
		name    string
		input   string
		format  string
		want    []string
		notWant []string
	}{
		{
			name:  "device index",
			input: "0",
			want:  []string{"-f v4l2", "-video_size 640x480", "-framerate 5", "-i /dev/video0"},
		},
		{
			name:  "device path",
			input: "/dev/video2",
			want:  []string{"-f v4l2", "-i /dev/video2"},
		},
		{
			name:   "explicit format",
			input:  "0:none",
			format: "avfoundation",
			want:   []string{"-f avfoundation", "-i 0:none"},
		},
		{
			name:    "rtsp",
			input:   "rtsp://cam.local/stream",
			want:    []string{"-rtsp_transport tcp", "-i rtsp://cam.local/stream"},
			notWant: []string{"-f v4l2", "-video_size"},
		},
		{
			name:    "http",
			input:   "http://cam.local/mjpeg",
			want:    []string{"-reconnect 1", "-i http://cam.local/mjpeg"},
			notWant: []string{"-f v4l2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cam
			c.Format = tt.format
			line := strings.Join(ffmpegArgs(c, tt.input), " ")

			for _, w := range tt.want {
				assert.Contains(t, line, w)
			}
			for _, nw := range tt.notWant {
				assert.NotContains(t, line, nw)
			}
			assert.Contains(t, line, "-vf fps=5,scale=640:480")
			assert.True(t, strings.HasSuffix(line, "-f image2pipe -vcodec mjpeg -q:v 5 pipe:1"))
		})
	}
}

func TestIsYouTube(t *testing.T) {
	assert.True(t, isYouTube("https://www.youtube.com/watch?v=abc"))
	assert.True(t, isYouTube("https://youtu.be/abc"))
	assert.False(t, isYouTube("/dev/video0"))
}

func TestFirstURL(t *testing.T) {
	u, err := firstURL("\n https://video.example/1 \nhttps://audio.example/2\n")
	require.NoError(t, err)
	assert.Equal(t, "https://video.example/1", u)

	_, err = firstURL("  \n")
	assert.Error(t, err)
}
