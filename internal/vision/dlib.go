//go:build dlib

package vision

import (
	"context"
	"fmt"
	"sync"
	"time"

	face "github.com/Kagami/go-face"

	"github.com/your-org/faceads/internal/config"
	"github.com/your-org/faceads/internal/observability"
)

// DlibRecognizer uses dlib's ResNet face model through go-face and yields
// 128-dimensional descriptors. It needs the dlib models
// (shape_predictor_5_face_landmarks.dat, dlib_face_recognition_resnet_model_v1.dat,
// mmod_human_face_detector.dat) in cfg.ModelsDir.
type DlibRecognizer struct {
	mu  sync.Mutex
	rec *face.Recognizer
}

func NewDlibRecognizer(cfg config.VisionConfig) (Recognizer, error) {
	rec, err := face.NewRecognizer(cfg.ModelsDir)
	if err != nil {
		return nil, fmt.Errorf("load dlib models: %w", err)
	}
	return &DlibRecognizer{rec: rec}, nil
}

func (r *DlibRecognizer) Embed(ctx context.Context, frame []byte) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	faces, err := r.rec.Recognize(frame)
	if err != nil {
		return nil, fmt.Errorf("recognize: %w", err)
	}
	observability.InferenceDuration.WithLabelValues("dlib").Observe(time.Since(start).Seconds())

	out := make([][]float32, 0, len(faces))
	for _, f := range faces {
		d := make([]float32, len(f.Descriptor))
		copy(d, f.Descriptor[:])
		out = append(out, d)
	}
	return out, nil
}

func (r *DlibRecognizer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rec.Close()
}
