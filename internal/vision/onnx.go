package vision

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/faceads/internal/config"
	"github.com/your-org/faceads/internal/observability"
)

// InitRuntime loads the ONNX Runtime shared library. An empty libPath picks
// the platform default name. Call DestroyRuntime on shutdown.
func InitRuntime(libPath string) error {
	if libPath == "" {
		libPath = defaultONNXLibPath()
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("init onnx runtime: %w", err)
	}
	return nil
}

func DestroyRuntime() {
	if err := ort.DestroyEnvironment(); err != nil {
		slog.Warn("destroy onnx runtime", "error", err)
	}
}

func defaultONNXLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// ONNXRecognizer detects faces with RetinaFace and embeds each crop with
// ArcFace. Sessions own fixed input tensors, so calls are serialized.
type ONNXRecognizer struct {
	mu       sync.Mutex
	detector *Detector
	embedder *Embedder
}

// NewONNXRecognizer loads det_10g.onnx and w600k_r50.onnx from cfg.ModelsDir.
// The runtime must already be initialised with InitRuntime.
func NewONNXRecognizer(cfg config.VisionConfig) (*ONNXRecognizer, error) {
	detPath := filepath.Join(cfg.ModelsDir, "det_10g.onnx")
	embPath := filepath.Join(cfg.ModelsDir, "w600k_r50.onnx")

	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, float32(cfg.DetectionThreshold), float32(cfg.MinFaceSize))
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath)
	emb, err := NewEmbedder(embPath)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	return &ONNXRecognizer{detector: det, embedder: emb}, nil
}

func (r *ONNXRecognizer) Embed(ctx context.Context, frame []byte) ([][]float32, error) {
	img, err := decodeFrame(frame)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()

	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	detections, err := r.detector.Detect(preprocessForDetection(img), b.Dx(), b.Dy())
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	embeddings := make([][]float32, 0, len(detections))
	for _, det := range detections {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		face := cropFace(img, det.BBox)
		if face == nil {
			continue
		}

		start = time.Now()
		emb, err := r.embedder.Extract(face)
		if err != nil {
			return nil, fmt.Errorf("embed: %w", err)
		}
		observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
		embeddings = append(embeddings, emb)
	}

	return embeddings, nil
}

func (r *ONNXRecognizer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detector.Close()
	r.embedder.Close()
}
