package factory

import (
	"context"
	"sync"

	"github.com/vk/fedgridgo/internal/codec"
	"github.com/vk/fedgridgo/internal/computation"
	"github.com/vk/fedgridgo/internal/placement"
	"github.com/vk/fedgridgo/internal/value"
)

// SizingReport is the telemetry a sizing factory accumulates: the payload
// volume logically moved toward clients (broadcast) and back toward the
// server (aggregation), per execution.
type SizingReport struct {
	Executions      int
	BroadcastBytes  int
	AggregatedBytes int
}

// SizingFactory wraps a LocalFactory and accounts the bytes moved between
// placements. It satisfies the same Factory contract as the standard
// variant; the report is an explicit secondary channel, not a second
// return value callers must type-sniff for.
type SizingFactory struct {
	*LocalFactory

	mu     sync.Mutex
	report SizingReport
}

// NewSizingFactory constructs a sizing-aware factory.
func NewSizingFactory(cfg Config) (*SizingFactory, error) {
	inner, err := NewLocalFactory(cfg)
	if err != nil {
		return nil, err
	}
	return &SizingFactory{LocalFactory: inner}, nil
}

// Execute runs the computation and accounts the payload volume it moved.
func (f *SizingFactory) Execute(ctx context.Context, h *Handle, comp computation.Computation, arg *value.Federated) (*value.Federated, error) {
	out, err := f.LocalFactory.Execute(ctx, h, comp, arg)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.report.Executions++
	if arg != nil && arg.Placement == placement.Server && out.Placement == placement.Clients {
		if payload, perr := arg.Single(); perr == nil {
			f.report.BroadcastBytes += codec.ByteSize(payload)
		}
	}
	if out.Placement == placement.Server {
		if payload, perr := out.Single(); perr == nil {
			f.report.AggregatedBytes += codec.ByteSize(payload)
		}
	}
	return out, nil
}

// SizingReport returns a snapshot of the accumulated telemetry.
func (f *SizingFactory) SizingReport() SizingReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.report
}
