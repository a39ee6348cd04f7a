/*
 *	Copyright 2024 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package imagefolder

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"math/rand"
	"sync"

	"github.com/disintegration/imaging"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Augmenter applies the stochastic training-time augmentations: random
// grayscale, random horizontal flip and one composed random affine
// transform (rotation, translation, scale and shear) filled with a
// constant border color.
//
// The random source is injected so augmentation is reproducible under a
// fixed seed. Apply is safe for concurrent use: the source is only
// locked while drawing the random parameters.
type Augmenter struct {
	GrayscaleProb float64 // probability of grayscale conversion.
	FlipProb      float64 // probability of horizontal flip.
	MaxRotation   float64 // degrees, sampled in [-MaxRotation, MaxRotation].
	Translate     float64 // fraction of width/height, sampled in [-Translate, Translate].
	ScaleMin      float64 // scale sampled in [ScaleMin, ScaleMax].
	ScaleMax      float64
	MaxShear      float64     // degrees along the horizontal axis.
	Fill          color.NRGBA // border color for pixels the affine maps from outside the image.

	mu  sync.Mutex
	rng *rand.Rand
}

// NewAugmenter returns an Augmenter with the standard training
// parameters: grayscale p=0.01, horizontal flip p=0.5, rotation within
// ±1°, translation within ±20%, scale in [1/1.5, 1.5], shear within ±1°
// and a (114, 114, 114) gray fill.
func NewAugmenter(rng *rand.Rand) *Augmenter {
	return &Augmenter{
		GrayscaleProb: 0.01,
		FlipProb:      0.5,
		MaxRotation:   1.0,
		Translate:     0.2,
		ScaleMin:      1.0 / 1.5,
		ScaleMax:      1.5,
		MaxShear:      1.0,
		Fill:          color.NRGBA{R: 114, G: 114, B: 114, A: 255},
		rng:           rng,
	}
}

type affineParams struct {
	gray, flip             bool
	angle, scale, shear    float64
	translateX, translateY float64
}

func (a *Augmenter) sample() (p affineParams) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p.gray = a.rng.Float64() < a.GrayscaleProb
	p.flip = a.rng.Float64() < a.FlipProb
	p.angle = uniform(a.rng, -a.MaxRotation, a.MaxRotation)
	p.scale = uniform(a.rng, a.ScaleMin, a.ScaleMax)
	p.shear = uniform(a.rng, -a.MaxShear, a.MaxShear)
	p.translateX = uniform(a.rng, -a.Translate, a.Translate)
	p.translateY = uniform(a.rng, -a.Translate, a.Translate)
	return
}

func uniform(rng *rand.Rand, min, max float64) float64 {
	return min + rng.Float64()*(max-min)
}

// Apply augments one image.
func (a *Augmenter) Apply(img image.Image) image.Image {
	p := a.sample()
	if p.gray {
		img = imaging.Grayscale(img)
	}
	if p.flip {
		img = imaging.FlipH(img)
	}
	return a.affine(img, p)
}

// affine warps img with a rotation+shear+scale matrix around the image
// center plus a translation, bilinearly interpolated, leaving the
// constant fill color wherever the warp maps from outside the image.
func (a *Augmenter) affine(img image.Image, p affineParams) image.Image {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	angle := p.angle * math.Pi / 180
	shear := math.Tan(p.shear * math.Pi / 180)
	cos, sin := math.Cos(angle), math.Sin(angle)

	// 2x2 linear part: rotation · shear · uniform scale.
	m00 := p.scale * cos
	m01 := p.scale * (cos*shear - sin)
	m10 := p.scale * sin
	m11 := p.scale * (sin*shear + cos)

	centerX := float64(width) / 2
	centerY := float64(height) / 2
	translateX := p.translateX * float64(width)
	translateY := p.translateY * float64(height)

	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(a.Fill), image.Point{}, draw.Src)
	matrix := f64.Aff3{
		m00, m01, centerX + translateX - m00*centerX - m01*centerY,
		m10, m11, centerY + translateY - m10*centerX - m11*centerY,
	}
	xdraw.BiLinear.Transform(dst, matrix, img, bounds, xdraw.Over, nil)
	return dst
}

// ResizeSquare squashes an image to a size×size square. It is the
// deterministic part of the pipeline, shared by training and
// evaluation; tensor conversion and channel normalization happen later.
func ResizeSquare(img image.Image, size int) image.Image {
	return imaging.Resize(img, size, size, imaging.Linear)
}
