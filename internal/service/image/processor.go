package image

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"os"
)

const (
	defaultMaxWidth     = 1280
	defaultMaxSizeBytes = 4 * 1024 * 1024
	defaultQuality      = 85
)

// Encoded — картинка, подготовленная к отправке в /analyze.
type Encoded struct {
	DataURL   string
	Width     int
	Height    int
	SizeBytes int
}

// Processor уменьшает картинку до maxWidth и перекодирует в JPEG.
type Processor struct {
	maxWidth    int
	maxSizeByte int
	quality     int
}

func NewProcessor() *Processor {
	return &Processor{
		maxWidth:    defaultMaxWidth,
		maxSizeByte: defaultMaxSizeBytes,
		quality:     defaultQuality,
	}
}

// FileToDataURL читает png/jpeg с диска и возвращает JPEG data URL шириной не больше 1280px.
func FileToDataURL(path string) (string, error) {
	enc, err := NewProcessor().File(path)
	if err != nil {
		return "", err
	}
	return enc.DataURL, nil
}

func (p *Processor) File(path string) (Encoded, error) {
	file, err := os.Open(path)
	if err != nil {
		return Encoded{}, err
	}
	defer file.Close()
	return p.Process(file)
}

func (p *Processor) Process(r io.Reader) (Encoded, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return Encoded{}, fmt.Errorf("decode image: %w", err)
	}
	return p.Encode(img)
}

// Encode ужимает уже декодированную картинку, например кадр с экрана.
func (p *Processor) Encode(img image.Image) (Encoded, error) {
	origBounds := img.Bounds()
	origWidth := origBounds.Dx()
	origHeight := origBounds.Dy()
	if origWidth == 0 || origHeight == 0 {
		return Encoded{}, fmt.Errorf("invalid image size: %dx%d", origWidth, origHeight)
	}

	quality := min(max(p.quality, 1), 100)
	width := min(origWidth, p.maxWidth)
	height := max(1, origHeight*width/origWidth)

	var (
		encoded []byte
		err     error
	)
	for {
		var src image.Image = img
		if width != origWidth {
			src = resizeNearest(img, width, height)
		}
		encoded, err = encodeJPEG(src, quality)
		if err != nil {
			return Encoded{}, err
		}
		if len(encoded) <= p.maxSizeByte {
			break
		}
		if width <= 320 {
			return Encoded{}, fmt.Errorf("image exceeds max size %d bytes even after downscale", p.maxSizeByte)
		}
		width = max(1, int(float64(width)*0.9))
		height = max(1, origHeight*width/origWidth)
	}

	return Encoded{
		DataURL:   "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(encoded),
		Width:     width,
		Height:    height,
		SizeBytes: len(encoded),
	}, nil
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func resizeNearest(src image.Image, width int, height int) *image.RGBA {
	srcBounds := src.Bounds()
	srcWidth := srcBounds.Dx()
	srcHeight := srcBounds.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		srcY := srcBounds.Min.Y + y*srcHeight/height
		for x := range width {
			srcX := srcBounds.Min.X + x*srcWidth/width
			dst.Set(x, y, src.At(srcX, srcY))
		}
	}
	return dst
}
