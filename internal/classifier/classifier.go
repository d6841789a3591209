// Package classifier grades a dump-site photo into a severity tier.
package classifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"

	"dumpsite-dispatch/internal/models"
)

// ErrUnreadableImage means the bytes could not be decoded as an image.
var ErrUnreadableImage = errors.New("unreadable image")

// Result is the classification of one image.
type Result struct {
	Severity   models.Severity `json:"severity"`
	Vehicle    models.Vehicle  `json:"vehicle"`
	Confidence float64         `json:"confidence"`
}

// Classifier maps raw image bytes to a severity tier.
type Classifier interface {
	Classify(ctx context.Context, data []byte) (Result, error)
}

const (
	sampleSize = 200
	darkPixel  = 100
)

// Brightness grades an image by how much of it is dark. Heavy, dense dumping photographs
// darker than scattered litter, so darker images get a higher tier.
type Brightness struct{}

func NewBrightness() Brightness { return Brightness{} }

// Classify decodes data, downsamples it and buckets the dark-pixel ratio and mean brightness.
func (Brightness) Classify(ctx context.Context, data []byte) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnreadableImage, err)
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return Result{}, fmt.Errorf("%w: empty image", ErrUnreadableImage)
	}

	sample := imaging.Fit(img, sampleSize, sampleSize, imaging.Box)
	ratio, mean := darkness(sample)
	return grade(ratio, mean), nil
}

// darkness returns the share of dark pixels and the mean brightness on a 0-255 scale.
func darkness(img *image.NRGBA) (float64, float64) {
	b := img.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return 0, 255
	}
	dark := 0
	var sum float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			i := img.PixOffset(x, y)
			px := img.Pix[i : i+3 : i+3]
			v := (float64(px[0]) + float64(px[1]) + float64(px[2])) / 3
			sum += v
			if v < darkPixel {
				dark++
			}
		}
	}
	return float64(dark) / float64(total), sum / float64(total)
}

func grade(ratio, mean float64) Result {
	var r Result
	switch {
	case ratio > 0.4 || mean < 80:
		r = Result{Severity: models.SeverityHigh, Confidence: 0.9}
	case ratio > 0.25 || mean < 120:
		r = Result{Severity: models.SeverityMedium, Confidence: 0.82}
	default:
		r = Result{Severity: models.SeverityLow, Confidence: 0.8}
	}
	r.Vehicle = models.VehicleFor(r.Severity)
	return r
}
