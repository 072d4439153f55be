// Package clientdata defines the capability interface a federated data
// source exposes to the simulation, replacing runtime patching of
// loaders with an explicit contract an in-memory implementation can
// satisfy in tests and local runs alike.
package clientdata

import (
	"fmt"
	"sort"

	"github.com/vk/fedgridgo/internal/dataset"
	"github.com/vk/fedgridgo/internal/preprocess"
)

// Source is the data a federation of simulated clients draws from.
type Source interface {
	// ClientIDs lists the participating client identifiers, sorted.
	ClientIDs() []string

	// DatasetForClient returns one client's local dataset.
	DatasetForClient(id string) (*dataset.Dataset, error)

	// AllClientsDataset amalgamates every client's examples into a
	// single dataset, in client-ID order.
	AllClientsDataset() *dataset.Dataset

	// Preprocess returns a source whose per-client batches have the
	// given pipeline applied.
	Preprocess(fn preprocess.Fn) BatchSource
}

// BatchSource is a Source view after preprocessing: per-client batched
// data ready to feed a local training step.
type BatchSource interface {
	ClientIDs() []string
	BatchesForClient(id string) ([]dataset.Batch, error)
}

// InMemory is a Source backed by a map of client datasets. It is both
// the local-simulation implementation and the test double.
type InMemory struct {
	clients map[string]*dataset.Dataset
	ids     []string
}

// NewInMemory builds a source over the given per-client datasets.
func NewInMemory(clients map[string]*dataset.Dataset) *InMemory {
	ids := make([]string, 0, len(clients))
	for id := range clients {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return &InMemory{clients: clients, ids: ids}
}

// ClientIDs implements Source.
func (s *InMemory) ClientIDs() []string {
	return s.ids
}

// DatasetForClient implements Source.
func (s *InMemory) DatasetForClient(id string) (*dataset.Dataset, error) {
	ds, ok := s.clients[id]
	if !ok {
		return nil, fmt.Errorf("no dataset for client %q", id)
	}
	return ds, nil
}

// AllClientsDataset implements Source.
func (s *InMemory) AllClientsDataset() *dataset.Dataset {
	all := dataset.New(nil)
	for _, id := range s.ids {
		all = all.Concatenate(s.clients[id])
	}
	return all
}

// Preprocess implements Source.
func (s *InMemory) Preprocess(fn preprocess.Fn) BatchSource {
	return &preprocessed{source: s, fn: fn}
}

type preprocessed struct {
	source *InMemory
	fn     preprocess.Fn
}

func (p *preprocessed) ClientIDs() []string {
	return p.source.ClientIDs()
}

func (p *preprocessed) BatchesForClient(id string) ([]dataset.Batch, error) {
	ds, err := p.source.DatasetForClient(id)
	if err != nil {
		return nil, err
	}
	return p.fn(ds)
}
