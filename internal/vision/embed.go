package vision

import (
	"fmt"
	"image"
	"math"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	embInputSize = 112
	embDim       = 512
)

// Embedder extracts ArcFace (w600k_r50) embeddings from face crops.
type Embedder struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func NewEmbedder(modelPath string) (*Embedder, error) {
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, embInputSize, embInputSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, embDim))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		[]string{"683"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}

	return &Embedder{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Extract returns the L2-normalized embedding of a face crop.
func (e *Embedder) Extract(face image.Image) ([]float32, error) {
	copy(e.inputTensor.GetData(), preprocessForEmbedding(face))

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}

	embedding := make([]float32, embDim)
	copy(embedding, e.outputTensor.GetData())
	normalize(embedding)
	return embedding, nil
}

func (e *Embedder) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
	}
}

// normalize scales v to unit length in place. Zero vectors are left as is.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := float32(math.Sqrt(sum))
	if norm > 0 {
		for i := range v {
			v[i] /= norm
		}
	}
}
