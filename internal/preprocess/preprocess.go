// Package preprocess builds the client dataset preprocessing pipeline:
// repeat over epochs, shuffle, image crop and standardization, batching.
// All option validation happens at construction time, before any dataset
// resource is touched.
package preprocess

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/vk/fedgridgo/internal/computation"
	"github.com/vk/fedgridgo/internal/dataset"
)

// DefaultCropShape matches the native image shape of the CIFAR-style
// examples fed to the simulation.
var DefaultCropShape = []int{32, 32, 3}

// Options configure a preprocessing pipeline.
type Options struct {
	NumEpochs     int
	BatchSize     int
	ShuffleBuffer int

	// CropShape is height, width, channels. Nil uses DefaultCropShape.
	CropShape []int

	// DistortImage enables random cropping and horizontal flips instead
	// of a deterministic central crop.
	DistortImage bool

	// Seed drives shuffling and distortion for reproducible runs.
	Seed int64
}

// Fn transforms a client's raw dataset into preprocessed batches.
type Fn func(*dataset.Dataset) ([]dataset.Batch, error)

// New validates the options and returns the preprocessing function.
// Validation failures surface here, synchronously, so a misconfigured
// pipeline never allocates execution resources.
func New(opts Options) (Fn, error) {
	if opts.NumEpochs < 1 {
		return nil, &computation.InvalidArgumentError{Field: "num_epochs", Reason: fmt.Sprintf("num_epochs must be a positive integer, got %d", opts.NumEpochs)}
	}
	if opts.BatchSize < 1 {
		return nil, &computation.InvalidArgumentError{Field: "batch_size", Reason: fmt.Sprintf("batch_size must be a positive integer, got %d", opts.BatchSize)}
	}
	crop := opts.CropShape
	if crop == nil {
		crop = DefaultCropShape
	}
	if len(crop) != 3 {
		return nil, &computation.InvalidArgumentError{Field: "crop_shape", Reason: fmt.Sprintf("crop_shape must have length 3, got %d", len(crop))}
	}
	for i, dim := range crop {
		if dim < 1 {
			return nil, &computation.InvalidArgumentError{Field: "crop_shape", Reason: fmt.Sprintf("crop_shape[%d] must be positive, got %d", i, dim)}
		}
	}

	imageMap := BuildImageMap(crop, opts.DistortImage, opts.Seed)
	shuffleBuffer := opts.ShuffleBuffer
	if shuffleBuffer < 1 {
		shuffleBuffer = 1
	}

	return func(ds *dataset.Dataset) ([]dataset.Batch, error) {
		repeated := ds.Repeat(opts.NumEpochs)
		shuffled := repeated.Shuffle(shuffleBuffer, opts.Seed)
		mapped, err := shuffled.Map(imageMap)
		if err != nil {
			return nil, err
		}
		return mapped.Batches(opts.BatchSize)
	}, nil
}

// BuildImageMap returns the per-example image transform: crop to the
// given shape (central when distort is false, random crop plus random
// horizontal flip when true) followed by per-image standardization.
func BuildImageMap(cropShape []int, distort bool, seed int64) func(dataset.Example) (dataset.Example, error) {
	rng := rand.New(rand.NewSource(seed))
	return func(ex dataset.Example) (dataset.Example, error) {
		cropped, err := crop(ex.Image, cropShape, distort, rng)
		if err != nil {
			return dataset.Example{}, err
		}
		if distort && rng.Intn(2) == 1 {
			cropped = flipHorizontal(cropped)
		}
		return dataset.Example{Image: standardize(cropped), Label: ex.Label}, nil
	}
}

func crop(img [][][]float64, shape []int, random bool, rng *rand.Rand) ([][][]float64, error) {
	h, w := len(img), 0
	if h > 0 {
		w = len(img[0])
	}
	ch := 0
	if w > 0 {
		ch = len(img[0][0])
	}
	ph, pw, pc := shape[0], shape[1], shape[2]
	if ph > h || pw > w {
		return nil, fmt.Errorf("crop shape %dx%d exceeds image shape %dx%d", ph, pw, h, w)
	}
	if pc != ch {
		return nil, fmt.Errorf("crop shape expects %d channels, image has %d", pc, ch)
	}

	var top, left int
	if random {
		top = rng.Intn(h - ph + 1)
		left = rng.Intn(w - pw + 1)
	} else {
		top = (h - ph) / 2
		left = (w - pw) / 2
	}

	out := make([][][]float64, ph)
	for y := 0; y < ph; y++ {
		out[y] = make([][]float64, pw)
		for x := 0; x < pw; x++ {
			out[y][x] = img[top+y][left+x]
		}
	}
	return out, nil
}

func flipHorizontal(img [][][]float64) [][][]float64 {
	out := make([][][]float64, len(img))
	for y, row := range img {
		out[y] = make([][]float64, len(row))
		for x := range row {
			out[y][x] = row[len(row)-1-x]
		}
	}
	return out
}

// standardize applies per-image standardization: (x - mean) / max(std,
// 1/sqrt(N)), with the population standard deviation. A zero-mean,
// unit-variance image passes through unchanged.
func standardize(img [][][]float64) [][][]float64 {
	n := 0
	sum := 0.0
	for _, row := range img {
		for _, px := range row {
			for _, v := range px {
				sum += v
				n++
			}
		}
	}
	if n == 0 {
		return img
	}
	mean := sum / float64(n)

	variance := 0.0
	for _, row := range img {
		for _, px := range row {
			for _, v := range px {
				d := v - mean
				variance += d * d
			}
		}
	}
	std := math.Sqrt(variance / float64(n))
	minStd := 1.0 / math.Sqrt(float64(n))
	if std < minStd {
		std = minStd
	}

	out := make([][][]float64, len(img))
	for y, row := range img {
		out[y] = make([][]float64, len(row))
		for x, px := range row {
			out[y][x] = make([]float64, len(px))
			for c, v := range px {
				out[y][x][c] = (v - mean) / std
			}
		}
	}
	return out
}
