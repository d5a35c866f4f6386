// Package vision wraps face recognizers that turn a camera frame into one
// embedding per visible face. Embeddings stay in memory; callers hash them
// and drop them.
package vision

import (
	"context"
	"fmt"

	"github.com/your-org/faceads/internal/config"
)

// Recognizer returns one embedding per face found in a JPEG frame. A frame
// without faces yields an empty slice and no error.
type Recognizer interface {
	Embed(ctx context.Context, frame []byte) ([][]float32, error)
	Close()
}

const (
	BackendONNX = "onnx"
	BackendDlib = "dlib"
)

// New builds the recognizer selected by cfg.Backend.
func New(cfg config.VisionConfig) (Recognizer, error) {
	switch cfg.Backend {
	case BackendONNX, "":
		return NewONNXRecognizer(cfg)
	case BackendDlib:
		return NewDlibRecognizer(cfg)
	default:
		return nil, fmt.Errorf("unknown vision backend %q", cfg.Backend)
	}
}
