package config

import (
	"context"
	"fmt"
	"os"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/fedgridgo/internal/ctxlog"
)

// Load parses an HCL config file and merges it over the defaults. An
// empty path returns the defaults unchanged.
func Load(ctx context.Context, path string) (*Model, error) {
	logger := ctxlog.FromContext(ctx)
	model := Default()

	if path != "" {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", path, err)
		}
		if err := decodeInto(model, path, src); err != nil {
			return nil, err
		}
		logger.Debug("Configuration file loaded.", "path", path)
	}

	if err := model.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return model, nil
}

// LoadBytes parses in-memory HCL over the defaults; tests use it to
// avoid temp files.
func LoadBytes(src []byte) (*Model, error) {
	model := Default()
	if err := decodeInto(model, "config.hcl", src); err != nil {
		return nil, err
	}
	if err := model.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return model, nil
}

func decodeInto(model *Model, filename string, src []byte) error {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return fmt.Errorf("parsing %q: %w", filename, diags)
	}

	// Decode into a scratch model so absent blocks keep their defaults.
	var parsed Model
	if diags := gohcl.DecodeBody(file.Body, nil, &parsed); diags.HasErrors() {
		return fmt.Errorf("decoding %q: %w", filename, diags)
	}
	if parsed.Server != nil {
		mergeServer(model.Server, parsed.Server)
	}
	if parsed.Executor != nil {
		mergeExecutor(model.Executor, parsed.Executor)
	}
	return nil
}

func mergeServer(dst, src *Server) {
	if src.Port != 0 {
		dst.Port = src.Port
	}
	if src.MaxWorkers != 0 {
		dst.MaxWorkers = src.MaxWorkers
	}
	if src.Backpressure != "" {
		dst.Backpressure = src.Backpressure
	}
	if src.GracePeriod != "" {
		dst.GracePeriod = src.GracePeriod
	}
	if src.TLSCert != "" {
		dst.TLSCert = src.TLSCert
	}
	if src.TLSKey != "" {
		dst.TLSKey = src.TLSKey
	}
}

func mergeExecutor(dst, src *Executor) {
	if src.DefaultNumClients != nil {
		dst.DefaultNumClients = src.DefaultNumClients
	}
	if src.FactoryKind != "" {
		dst.FactoryKind = src.FactoryKind
	}
	if src.Reuse != "" {
		dst.Reuse = src.Reuse
	}
	if src.FanoutWorkers != 0 {
		dst.FanoutWorkers = src.FanoutWorkers
	}
}
