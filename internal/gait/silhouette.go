package gait

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"

	"github.com/rcliao/watchpost/internal/model"
)

// ExtractSilhouette cuts the person region out of frame, binarizes it with an
// Otsu threshold, cleans it with a 3x3 close and open, and scales it to
// SilhouetteSize x SilhouetteSize. Boxes that do not overlap the frame yield
// an all-zero image of the same size.
func ExtractSilhouette(frame image.Image, box model.BBox) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, SilhouetteSize, SilhouetteSize))
	if frame == nil || !box.Valid() {
		return out
	}
	region := box.Rect().Intersect(frame.Bounds())
	if region.Empty() {
		return out
	}

	gray := image.NewGray(image.Rect(0, 0, region.Dx(), region.Dy()))
	draw.Draw(gray, gray.Bounds(), frame, region.Min, draw.Src)

	t := otsu(gray)
	for i, p := range gray.Pix {
		if p > t {
			gray.Pix[i] = 255
		} else {
			gray.Pix[i] = 0
		}
	}
	binary := erode(dilate(gray))
	binary = dilate(erode(binary))

	draw.BiLinear.Scale(out, out.Bounds(), binary, binary.Bounds(), draw.Src, nil)
	return out
}

// otsu returns the threshold that maximizes between-class variance.
func otsu(g *image.Gray) uint8 {
	var hist [256]int
	for _, p := range g.Pix {
		hist[p]++
	}
	total := len(g.Pix)
	var sum float64
	for i, n := range hist {
		sum += float64(i * n)
	}

	var sumB, best float64
	var wB int
	var threshold uint8
	for i, n := range hist {
		wB += n
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(i * n)
		mB := sumB / float64(wB)
		mF := (sum - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			threshold = uint8(i)
		}
	}
	return threshold
}

// cross is the 3x3 elliptical structuring element.
var cross = []image.Point{{0, 0}, {-1, 0}, {1, 0}, {0, -1}, {0, 1}}

func dilate(g *image.Gray) *image.Gray {
	return morph(g, func(cur, v uint8) bool { return v > cur })
}

func erode(g *image.Gray) *image.Gray {
	return morph(g, func(cur, v uint8) bool { return v < cur })
}

func morph(g *image.Gray, better func(cur, v uint8) bool) *image.Gray {
	b := g.Bounds()
	out := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := g.GrayAt(x, y).Y
			for _, d := range cross {
				p := image.Pt(x+d.X, y+d.Y)
				if !p.In(b) {
					continue
				}
				if n := g.GrayAt(p.X, p.Y).Y; better(v, n) {
					v = n
				}
			}
			out.SetGray(x, y, color.Gray{Y: v})
		}
	}
	return out
}
