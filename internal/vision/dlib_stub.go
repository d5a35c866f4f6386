//go:build !dlib

package vision

import (
	"errors"

	"github.com/your-org/faceads/internal/config"
)

// ErrDlibUnavailable is returned when the binary was built without the dlib tag.
var ErrDlibUnavailable = errors.New("dlib backend not compiled in, rebuild with -tags dlib")

func NewDlibRecognizer(config.VisionConfig) (Recognizer, error) {
	return nil, ErrDlibUnavailable
}
