// Package dataset provides the in-memory dataset model the simulation
// feeds to clients, with the transform operations preprocessing pipelines
// compose: repeat, shuffle, map, batch.
package dataset

import (
	"fmt"
	"math/rand"
)

// Example is one labeled image, height x width x channels.
type Example struct {
	Image [][][]float64
	Label int64
}

// Dataset is an ordered, immutable sequence of examples. Transform
// methods return new datasets; example payloads are shared, not copied.
type Dataset struct {
	examples []Example
}

// New builds a dataset over the given examples.
func New(examples []Example) *Dataset {
	return &Dataset{examples: examples}
}

// Len returns the number of examples.
func (d *Dataset) Len() int {
	return len(d.examples)
}

// Examples returns the backing examples in order.
func (d *Dataset) Examples() []Example {
	return d.examples
}

// Repeat concatenates the dataset with itself count times.
func (d *Dataset) Repeat(count int) *Dataset {
	if count <= 0 {
		return New(nil)
	}
	out := make([]Example, 0, len(d.examples)*count)
	for i := 0; i < count; i++ {
		out = append(out, d.examples...)
	}
	return New(out)
}

// Shuffle performs a windowed shuffle with the given buffer size, the
// same visitation model tf.data uses: examples are drawn uniformly from
// a sliding buffer. A buffer of 1 is a no-op pass-through.
func (d *Dataset) Shuffle(bufferSize int, seed int64) *Dataset {
	if bufferSize < 1 {
		bufferSize = 1
	}
	rng := rand.New(rand.NewSource(seed))
	buffer := make([]Example, 0, bufferSize)
	out := make([]Example, 0, len(d.examples))
	for _, ex := range d.examples {
		buffer = append(buffer, ex)
		if len(buffer) == bufferSize {
			i := rng.Intn(len(buffer))
			out = append(out, buffer[i])
			buffer[i] = buffer[len(buffer)-1]
			buffer = buffer[:len(buffer)-1]
		}
	}
	for len(buffer) > 0 {
		i := rng.Intn(len(buffer))
		out = append(out, buffer[i])
		buffer[i] = buffer[len(buffer)-1]
		buffer = buffer[:len(buffer)-1]
	}
	return New(out)
}

// Map applies fn to every example.
func (d *Dataset) Map(fn func(Example) (Example, error)) (*Dataset, error) {
	out := make([]Example, len(d.examples))
	for i, ex := range d.examples {
		mapped, err := fn(ex)
		if err != nil {
			return nil, fmt.Errorf("mapping example %d: %w", i, err)
		}
		out[i] = mapped
	}
	return New(out), nil
}

// Concatenate appends other's examples after d's.
func (d *Dataset) Concatenate(other *Dataset) *Dataset {
	out := make([]Example, 0, len(d.examples)+len(other.examples))
	out = append(out, d.examples...)
	out = append(out, other.examples...)
	return New(out)
}

// Batch groups examples into batches of at most size examples; the final
// batch may be smaller. The number of batches is ceil(Len()/size).
type Batch struct {
	Images [][][][]float64
	Labels []int64
}

// Batches groups the dataset into batches of the given size.
func (d *Dataset) Batches(size int) ([]Batch, error) {
	if size < 1 {
		return nil, fmt.Errorf("batch size must be a positive integer, got %d", size)
	}
	var out []Batch
	for start := 0; start < len(d.examples); start += size {
		end := start + size
		if end > len(d.examples) {
			end = len(d.examples)
		}
		b := Batch{
			Images: make([][][][]float64, 0, end-start),
			Labels: make([]int64, 0, end-start),
		}
		for _, ex := range d.examples[start:end] {
			b.Images = append(b.Images, ex.Image)
			b.Labels = append(b.Labels, ex.Label)
		}
		out = append(out, b)
	}
	return out, nil
}
