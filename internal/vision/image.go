package vision

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

// decodeFrame decodes a JPEG (or PNG) frame.
func decodeFrame(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return img, nil
}

func preprocessForDetection(img image.Image) []float32 {
	return imageToFloat32CHW(img, detInputSize, detInputSize, [3]float32{127.5, 127.5, 127.5}, [3]float32{128, 128, 128})
}

func preprocessForEmbedding(img image.Image) []float32 {
	return imageToFloat32CHW(img, embInputSize, embInputSize, [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5})
}

// imageToFloat32CHW resizes img and lays it out as normalized RGB planes:
//
//	pixel = (pixel - mean) / std
func imageToFloat32CHW(img image.Image, targetW, targetH int, mean, std [3]float32) []float32 {
	resized := resizeImage(img, targetW, targetH)
	plane := targetW * targetH
	data := make([]float32, 3*plane)

	for y := 0; y < targetH; y++ {
		for x := 0; x < targetW; x++ {
			off := resized.PixOffset(x, y)
			idx := y*targetW + x
			data[idx] = (float32(resized.Pix[off]) - mean[0]) / std[0]
			data[plane+idx] = (float32(resized.Pix[off+1]) - mean[1]) / std[1]
			data[2*plane+idx] = (float32(resized.Pix[off+2]) - mean[2]) / std[2]
		}
	}
	return data
}

// resizeImage scales img to the target size with bilinear filtering.
func resizeImage(img image.Image, targetW, targetH int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// cropFace cuts the bbox out of img with 10% padding on each side, clamped
// to the image. It returns nil for an empty box.
func cropFace(img image.Image, bbox [4]float32) image.Image {
	b := img.Bounds()
	r := image.Rect(int(bbox[0]), int(bbox[1]), int(bbox[2]), int(bbox[3])).Intersect(b)
	if r.Empty() {
		return nil
	}

	padW, padH := r.Dx()/10, r.Dy()/10
	r = image.Rect(r.Min.X-padW, r.Min.Y-padH, r.Max.X+padW, r.Max.Y+padH).Intersect(b)

	crop := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(crop, crop.Bounds(), img, r.Min, draw.Src)
	return crop
}
