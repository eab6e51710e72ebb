package image

import (
	"errors"
	"fmt"
	"image"
	"image/draw"

	"github.com/kbinani/screenshot"
)

var ErrNoDisplay = errors.New("no active displays")

// CaptureScreen склеивает все мониторы в один кадр.
func CaptureScreen() (*image.RGBA, error) {
	n := screenshot.NumActiveDisplays()
	if n <= 0 {
		return nil, ErrNoDisplay
	}

	union := screenshot.GetDisplayBounds(0)
	for i := 1; i < n; i++ {
		union = union.Union(screenshot.GetDisplayBounds(i))
	}

	canvas := image.NewRGBA(union)
	captured := 0
	for i := range n {
		b := screenshot.GetDisplayBounds(i)
		img, err := screenshot.CaptureRect(b)
		if err != nil {
			continue
		}
		dst := image.Pt(b.Min.X-union.Min.X, b.Min.Y-union.Min.Y)
		draw.Draw(canvas, image.Rectangle{Min: dst, Max: dst.Add(b.Size())}, img, image.Point{}, draw.Src)
		captured++
	}
	if captured == 0 {
		return nil, fmt.Errorf("capture %d displays: all failed", n)
	}
	return canvas, nil
}

// ScreenToDataURL снимает экран и сразу готовит его для /analyze.
func ScreenToDataURL() (string, error) {
	shot, err := CaptureScreen()
	if err != nil {
		return "", err
	}
	enc, err := NewProcessor().Encode(shot)
	if err != nil {
		return "", err
	}
	return enc.DataURL, nil
}
