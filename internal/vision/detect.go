package vision

import (
	"fmt"
	"math"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection is a face bounding box in source pixel coordinates.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2
	Confidence float32
}

// Width and Height of the box in pixels.
func (d Detection) Width() float32  { return d.BBox[2] - d.BBox[0] }
func (d Detection) Height() float32 { return d.BBox[3] - d.BBox[1] }

// Detector runs RetinaFace (det_10g) face detection using ONNX Runtime.
type Detector struct {
	session       *ort.AdvancedSession
	inputTensor   *ort.Tensor[float32]
	outputTensors []*ort.Tensor[float32]
	threshold     float32
	minFace       float32
	inputW        int
	inputH        int
}

const (
	detInputSize     = 640
	anchorsPerStride = 2
	nmsIoU           = 0.4
)

var strides = []int{8, 16, 32}

// det_10g outputs have no batch dimension. Each stride yields
// (640/stride)^2 * 2 anchors: 12800, 3200, 800.
var detOutputs = []struct {
	name  string
	shape ort.Shape
}{
	{"448", ort.NewShape(12800, 1)}, // scores stride 8
	{"471", ort.NewShape(3200, 1)},  // scores stride 16
	{"494", ort.NewShape(800, 1)},   // scores stride 32
	{"451", ort.NewShape(12800, 4)}, // bboxes stride 8
	{"474", ort.NewShape(3200, 4)},  // bboxes stride 16
	{"497", ort.NewShape(800, 4)},   // bboxes stride 32
}

// NewDetector loads the RetinaFace model. Boxes narrower or shorter than
// minFace source pixels are discarded.
func NewDetector(modelPath string, threshold, minFace float32) (*Detector, error) {
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, detInputSize, detInputSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputNames := make([]string, len(detOutputs))
	outputTensors := make([]*ort.Tensor[float32], len(detOutputs))
	outputValues := make([]ort.Value, len(detOutputs))

	destroy := func() {
		inputTensor.Destroy()
		for _, t := range outputTensors {
			if t != nil {
				t.Destroy()
			}
		}
	}

	for i, out := range detOutputs {
		t, err := ort.NewEmptyTensor[float32](out.shape)
		if err != nil {
			destroy()
			return nil, fmt.Errorf("create output tensor %s: %w", out.name, err)
		}
		outputNames[i] = out.name
		outputTensors[i] = t
		outputValues[i] = t
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"},
		outputNames,
		[]ort.Value{inputTensor},
		outputValues,
		nil,
	)
	if err != nil {
		destroy()
		return nil, fmt.Errorf("create detector session: %w", err)
	}

	return &Detector{
		session:       session,
		inputTensor:   inputTensor,
		outputTensors: outputTensors,
		threshold:     threshold,
		minFace:       minFace,
		inputW:        detInputSize,
		inputH:        detInputSize,
	}, nil
}

// Detect runs detection on a CHW tensor of the detector's input size.
// origW and origH are the source image dimensions.
func (d *Detector) Detect(chw []float32, origW, origH int) ([]Detection, error) {
	copy(d.inputTensor.GetData(), chw)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}

	return nms(d.decode(origW, origH), nmsIoU), nil
}

// decode turns anchor distances at each stride into source-space boxes.
func (d *Detector) decode(origW, origH int) []Detection {
	var out []Detection

	scaleW := float32(origW) / float32(d.inputW)
	scaleH := float32(origH) / float32(d.inputH)

	for si, stride := range strides {
		scores := d.outputTensors[si].GetData()
		boxes := d.outputTensors[si+len(strides)].GetData()
		st := float32(stride)

		idx := 0
		for cy := 0; cy < d.inputH/stride; cy++ {
			for cx := 0; cx < d.inputW/stride; cx++ {
				for a := 0; a < anchorsPerStride; a++ {
					if score := scores[idx]; score >= d.threshold {
						ax, ay := float32(cx)*st, float32(cy)*st
						det := Detection{
							BBox: [4]float32{
								clampF((ax-boxes[idx*4+0]*st)*scaleW, 0, float32(origW)),
								clampF((ay-boxes[idx*4+1]*st)*scaleH, 0, float32(origH)),
								clampF((ax+boxes[idx*4+2]*st)*scaleW, 0, float32(origW)),
								clampF((ay+boxes[idx*4+3]*st)*scaleH, 0, float32(origH)),
							},
							Confidence: score,
						}
						if det.Width() >= d.minFace && det.Height() >= d.minFace {
							out = append(out, det)
						}
					}
					idx++
				}
			}
		}
	}

	return out
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.inputTensor != nil {
		d.inputTensor.Destroy()
	}
	for _, t := range d.outputTensors {
		if t != nil {
			t.Destroy()
		}
	}
}

// nms keeps the highest confidence box among overlapping detections.
func nms(detections []Detection, iouThreshold float32) []Detection {
	if len(detections) == 0 {
		return detections
	}

	sort.Slice(detections, func(i, j int) bool {
		return detections[i].Confidence > detections[j].Confidence
	})

	suppressed := make([]bool, len(detections))
	var result []Detection
	for i := range detections {
		if suppressed[i] {
			continue
		}
		result = append(result, detections[i])
		for j := i + 1; j < len(detections); j++ {
			if !suppressed[j] && iou(detections[i].BBox, detections[j].BBox) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return result
}

func iou(a, b [4]float32) float32 {
	x1 := float32(math.Max(float64(a[0]), float64(b[0])))
	y1 := float32(math.Max(float64(a[1]), float64(b[1])))
	x2 := float32(math.Min(float64(a[2]), float64(b[2])))
	y2 := float32(math.Min(float64(a[3]), float64(b[3])))

	inter := float32(math.Max(0, float64(x2-x1))) * float32(math.Max(0, float64(y2-y1)))
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clampF(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
