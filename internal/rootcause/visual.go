package rootcause

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	visualThreshold     = 0.1
	visualMaxConfidence = 0.9
	// channelTolerance is the per-channel delta, on the 16-bit scale, below
	// which two pixels count as equal. It absorbs compression noise.
	channelTolerance = 0x0a00
)

// analyzeVisual compares the before and after screenshots.
func (a *Analyzer) analyzeVisual(_ context.Context, f *Failure) (Finding, error) {
	out := Finding{Category: Unknown}
	if f.Screenshots == nil || len(f.Screenshots.Before) == 0 || len(f.Screenshots.After) == 0 {
		out.Detail = "screenshots not supplied"
		return out, nil
	}
	before, _, err := image.Decode(bytes.NewReader(f.Screenshots.Before))
	if err != nil {
		return out, fmt.Errorf("decode before screenshot: %w", err)
	}
	after, _, err := image.Decode(bytes.NewReader(f.Screenshots.After))
	if err != nil {
		return out, fmt.Errorf("decode after screenshot: %w", err)
	}

	ratio := DiffRatio(before, after)
	out.Detail = fmt.Sprintf("%.1f%% of pixels changed", ratio*100)
	if ratio > visualThreshold {
		out.Category = DOMChange
		out.Confidence = math.Min(ratio*2, visualMaxConfidence)
	}
	return out, nil
}

// DiffRatio returns the fraction of pixels that differ between a and b.
// When the sizes differ, b is scaled to a's bounds first.
func DiffRatio(a, b image.Image) float64 {
	ab := a.Bounds()
	if ab.Empty() {
		return 0
	}
	if b.Bounds().Size() != ab.Size() {
		scaled := image.NewRGBA(image.Rect(0, 0, ab.Dx(), ab.Dy()))
		xdraw.NearestNeighbor.Scale(scaled, scaled.Bounds(), b, b.Bounds(), xdraw.Src, nil)
		b = scaled
	}
	bb := b.Bounds()

	var changed int
	for y := 0; y < ab.Dy(); y++ {
		for x := 0; x < ab.Dx(); x++ {
			if !samePixel(a.At(ab.Min.X+x, ab.Min.Y+y), b.At(bb.Min.X+x, bb.Min.Y+y)) {
				changed++
			}
		}
	}
	return float64(changed) / float64(ab.Dx()*ab.Dy())
}

func samePixel(p, q color.Color) bool {
	pr, pg, pb, pa := p.RGBA()
	qr, qg, qb, qa := q.RGBA()
	return near(pr, qr) && near(pg, qg) && near(pb, qb) && near(pa, qa)
}

func near(x, y uint32) bool {
	if x > y {
		return x-y <= channelTolerance
	}
	return y-x <= channelTolerance
}
