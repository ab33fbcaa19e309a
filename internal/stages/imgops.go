package stages

import (
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

// toGray converts any image to 8-bit luma with its origin at (0, 0).
func toGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Rect.Min == (image.Point{}) {
		return g
	}
	return packGray(imaging.Grayscale(img))
}

// packGray keeps one channel of an already gray NRGBA image.
func packGray(n *image.NRGBA) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, n.Rect.Dx(), n.Rect.Dy()))
	for y := 0; y < g.Rect.Dy(); y++ {
		row := n.Pix[y*n.Stride:]
		for x := 0; x < g.Rect.Dx(); x++ {
			g.Pix[y*g.Stride+x] = row[x*4]
		}
	}
	return g
}

// kernelSigma derives a gaussian sigma from an odd kernel size the way
// OpenCV does when none is given.
func kernelSigma(k int, sigma float64) float64 {
	if sigma > 0 {
		return sigma
	}
	return 0.3*(float64(k-1)*0.5-1) + 0.8
}

func gaussianBlur(src *image.Gray, k int, sigma float64) *image.Gray {
	return packGray(imaging.Blur(src, kernelSigma(k, sigma)))
}

// adaptiveThreshold compares each pixel with the gaussian-weighted mean of
// its block_size neighbourhood minus c.
func adaptiveThreshold(src *image.Gray, blockSize int, c float64) *image.Gray {
	mean := gaussianBlur(src, blockSize, 0)
	dst := image.NewGray(src.Rect)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if float64(src.Pix[y*src.Stride+x]) > float64(mean.Pix[y*mean.Stride+x])-c {
				dst.Pix[y*dst.Stride+x] = 255
			}
		}
	}
	return dst
}

// otsuLevel picks the threshold maximising between-class variance.
func otsuLevel(src *image.Gray) uint8 {
	var hist [256]int
	w, h := src.Rect.Dx(), src.Rect.Dy()
	for y := 0; y < h; y++ {
		for _, v := range src.Pix[y*src.Stride : y*src.Stride+w] {
			hist[v]++
		}
	}
	total := w * h
	var sumAll float64
	for i, n := range hist {
		sumAll += float64(i * n)
	}
	var sumB, best float64
	var wB int
	level := 0
	for t := 0; t < 256; t++ {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := total - wB
		if wF == 0 {
			break
		}
		sumB += float64(t * hist[t])
		mB := sumB / float64(wB)
		mF := (sumAll - sumB) / float64(wF)
		between := float64(wB) * float64(wF) * (mB - mF) * (mB - mF)
		if between > best {
			best, level = between, t
		}
	}
	return uint8(level)
}

// binarize maps pixels above level to white and the rest to black.
func binarize(src *image.Gray, level uint8) *image.Gray {
	dst := image.NewGray(src.Rect)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if src.Pix[y*src.Stride+x] > level {
				dst.Pix[y*dst.Stride+x] = 255
			}
		}
	}
	return dst
}

// skewAngle searches [-maxAngle, maxAngle] degrees for the rotation whose
// horizontal projection of dark pixels is sharpest.
func skewAngle(src *image.Gray, maxAngle, step float64) float64 {
	if step <= 0 {
		step = 0.5
	}
	w, h := src.Rect.Dx(), src.Rect.Dy()
	type pt struct{ x, y float64 }
	var ink []pt
	stride := 1
	if w*h > 1_000_000 {
		stride = 2
	}
	for y := 0; y < h; y += stride {
		for x := 0; x < w; x += stride {
			if src.Pix[y*src.Stride+x] < 128 {
				ink = append(ink, pt{float64(x), float64(y)})
			}
		}
	}
	if len(ink) == 0 {
		return 0
	}
	bins := make([]int, 2*(w+h)+1)
	offset := w + h
	score := func(deg float64) float64 {
		clear(bins)
		s, c := math.Sincos(deg * math.Pi / 180)
		for _, p := range ink {
			bins[int(math.Round(p.y*c-p.x*s))+offset]++
		}
		var v float64
		for i := 1; i < len(bins); i++ {
			d := float64(bins[i] - bins[i-1])
			v += d * d
		}
		return v
	}
	bestAngle, bestScore := 0.0, score(0)
	for a := -maxAngle; a <= maxAngle+1e-9; a += step {
		if sc := score(a); sc > bestScore {
			bestAngle, bestScore = a, sc
		}
	}
	return bestAngle
}

// rotate turns src clockwise by deg degrees about its centre, keeping its
// size and filling uncovered corners with white.
func rotate(src *image.Gray, deg float64) *image.Gray {
	turned := imaging.Rotate(src, -deg, color.White)
	return packGray(imaging.CropCenter(turned, src.Rect.Dx(), src.Rect.Dy()))
}

// scale resizes src by factor with Catmull-Rom resampling.
func scale(src image.Image, factor float64) *image.Gray {
	b := src.Bounds()
	w := max(int(math.Round(float64(b.Dx())*factor)), 1)
	h := max(int(math.Round(float64(b.Dy())*factor)), 1)
	return toGray(imaging.Resize(src, w, h, imaging.CatmullRom))
}
