package clientdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/fedgridgo/internal/dataset"
	"github.com/vk/fedgridgo/internal/preprocess"
)

func onePixel(label int64) dataset.Example {
	return dataset.Example{Image: [][][]float64{{{0, 0, 0}}}, Label: label}
}

func testSource() *InMemory {
	return NewInMemory(map[string]*dataset.Dataset{
		"b": dataset.New([]dataset.Example{onePixel(2), onePixel(3)}),
		"a": dataset.New([]dataset.Example{onePixel(1)}),
	})
}

func TestClientIDsAreSorted(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, testSource().ClientIDs())
}

func TestDatasetForClient(t *testing.T) {
	s := testSource()
	ds, err := s.DatasetForClient("a")
	require.NoError(t, err)
	assert.Equal(t, 1, ds.Len())

	_, err = s.DatasetForClient("zz")
	assert.ErrorContains(t, err, `no dataset for client "zz"`)
}

func TestAllClientsDataset(t *testing.T) {
	all := testSource().AllClientsDataset()
	require.Equal(t, 3, all.Len())
	// Client-ID order: a's examples before b's.
	assert.Equal(t, int64(1), all.Examples()[0].Label)
	assert.Equal(t, int64(2), all.Examples()[1].Label)
}

func TestPreprocess(t *testing.T) {
	fn, err := preprocess.New(preprocess.Options{NumEpochs: 2, BatchSize: 1, CropShape: []int{1, 1, 3}})
	require.NoError(t, err)

	batched := testSource().Preprocess(fn)
	assert.Equal(t, []string{"a", "b"}, batched.ClientIDs())

	batches, err := batched.BatchesForClient("b")
	require.NoError(t, err)
	// 2 examples x 2 epochs, batch size 1.
	assert.Len(t, batches, 4)

	_, err = batched.BatchesForClient("zz")
	assert.Error(t, err)
}
