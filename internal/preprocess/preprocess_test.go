package preprocess

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/fedgridgo/internal/computation"
	"github.com/vk/fedgridgo/internal/dataset"
	"pgregory.net/rapid"
)

// zeros returns an all-zero image of the given shape.
func zeros(h, w, c int) [][][]float64 {
	img := make([][][]float64, h)
	for y := range img {
		img[y] = make([][]float64, w)
		for x := range img[y] {
			img[y][x] = make([]float64, c)
		}
	}
	return img
}

func singleExample() *dataset.Dataset {
	return dataset.New([]dataset.Example{{Image: zeros(32, 32, 3), Label: 1}})
}

func TestNonPositiveEpochsRejected(t *testing.T) {
	for _, epochs := range []int{0, -2} {
		_, err := New(Options{NumEpochs: epochs, BatchSize: 1})
		var invalid *computation.InvalidArgumentError
		require.ErrorAs(t, err, &invalid)
		assert.Contains(t, err.Error(), "num_epochs must be a positive integer")
	}
}

func TestBadCropShapeRejected(t *testing.T) {
	_, err := New(Options{NumEpochs: 1, BatchSize: 1, CropShape: []int{32, 32}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crop_shape must have length 3")

	_, err = New(Options{NumEpochs: 1, BatchSize: 1, CropShape: []int{32, 32, 3, 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crop_shape must have length 3")

	_, err = New(Options{NumEpochs: 1, BatchSize: 1, CropShape: []int{32, 0, 3}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be positive")
}

func TestBatchCountIsCeilEpochsOverBatchSize(t *testing.T) {
	cases := []struct{ epochs, batch int }{
		{1, 1}, {4, 2}, {9, 3}, {12, 1}, {3, 5}, {7, 2},
	}
	for _, tc := range cases {
		fn, err := New(Options{NumEpochs: tc.epochs, BatchSize: tc.batch, ShuffleBuffer: 1})
		require.NoError(t, err)
		batches, err := fn(singleExample())
		require.NoError(t, err)
		want := int(math.Ceil(float64(tc.epochs) / float64(tc.batch)))
		assert.Len(t, batches, want, "epochs=%d batch=%d", tc.epochs, tc.batch)
	}
}

// The general form of the batch-count property: for any dataset length,
// epoch count, and batch size, the pipeline yields ceil(len*epochs/batch)
// batches and every example appears exactly epochs times.
func TestBatchCountProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		numExamples := rapid.IntRange(0, 20).Draw(rt, "numExamples")
		epochs := rapid.IntRange(1, 10).Draw(rt, "epochs")
		batch := rapid.IntRange(1, 10).Draw(rt, "batch")
		buffer := rapid.IntRange(1, 30).Draw(rt, "buffer")

		examples := make([]dataset.Example, numExamples)
		for i := range examples {
			examples[i] = dataset.Example{Image: zeros(4, 4, 3), Label: int64(i)}
		}

		fn, err := New(Options{NumEpochs: epochs, BatchSize: batch, ShuffleBuffer: buffer, CropShape: []int{4, 4, 3}})
		require.NoError(rt, err)
		batches, err := fn(dataset.New(examples))
		require.NoError(rt, err)

		total := numExamples * epochs
		wantBatches := (total + batch - 1) / batch
		require.Len(rt, batches, wantBatches)

		counts := make(map[int64]int)
		got := 0
		for _, b := range batches {
			require.Len(rt, b.Images, len(b.Labels))
			got += len(b.Labels)
			for _, label := range b.Labels {
				counts[label]++
			}
		}
		require.Equal(rt, total, got)
		for label, count := range counts {
			require.Equal(rt, epochs, count, "label %d", label)
		}
	})
}

func TestNormalizedImagePassesThroughUnchanged(t *testing.T) {
	// A single-pixel image with mean 0 and population variance 1.
	x := []float64{1.0, -1.0, 0.0}
	mean := (x[0] + x[1] + x[2]) / 3
	variance := 0.0
	for _, v := range x {
		variance += (v - mean) * (v - mean)
	}
	std := math.Sqrt(variance / 3)
	img := [][][]float64{{{x[0] / std, x[1] / std, x[2] / std}}}

	imageMap := BuildImageMap([]int{1, 1, 3}, false, 0)
	out, err := imageMap(dataset.Example{Image: img, Label: 0})
	require.NoError(t, err)

	assert.Equal(t, int64(0), out.Label)
	for c := range img[0][0] {
		assert.InDelta(t, img[0][0][c], out.Image[0][0][c], 1e-3)
	}
}

func TestCentralCropShape(t *testing.T) {
	fn, err := New(Options{NumEpochs: 1, BatchSize: 1, ShuffleBuffer: 1, CropShape: []int{24, 26, 3}})
	require.NoError(t, err)
	batches, err := fn(singleExample())
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Images, 1)

	img := batches[0].Images[0]
	assert.Len(t, img, 24)
	assert.Len(t, img[0], 26)
	assert.Len(t, img[0][0], 3)
	assert.Equal(t, int64(1), batches[0].Labels[0])
}

func TestDistortedCropShape(t *testing.T) {
	fn, err := New(Options{NumEpochs: 1, BatchSize: 1, ShuffleBuffer: 1, CropShape: []int{28, 28, 3}, DistortImage: true, Seed: 7})
	require.NoError(t, err)
	batches, err := fn(singleExample())
	require.NoError(t, err)
	require.Len(t, batches, 1)

	img := batches[0].Images[0]
	assert.Len(t, img, 28)
	assert.Len(t, img[0], 28)
}

func TestCropLargerThanImageFails(t *testing.T) {
	fn, err := New(Options{NumEpochs: 1, BatchSize: 1, CropShape: []int{64, 64, 3}})
	require.NoError(t, err)
	_, err = fn(singleExample())
	assert.ErrorContains(t, err, "exceeds image shape")
}

func TestChannelMismatchFails(t *testing.T) {
	fn, err := New(Options{NumEpochs: 1, BatchSize: 1, CropShape: []int{32, 32, 1}})
	require.NoError(t, err)
	_, err = fn(singleExample())
	assert.ErrorContains(t, err, "channels")
}
