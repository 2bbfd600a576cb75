package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/malbeclabs/rwe/agent/pkg/pipeline"
	"github.com/malbeclabs/rwe/pkg/cohort"
	"github.com/malbeclabs/rwe/pkg/tablestore"
	"github.com/malbeclabs/rwe/pkg/vectorindex"
)

const (
	defaultReadHeaderTimeout = 5 * time.Second
	defaultShutdownTimeout   = 5 * time.Second
)

type Asker interface {
	RunWithProgress(ctx context.Context, query string, onProgress pipeline.ProgressCallback) (*pipeline.Record, error)
}

type TableLister interface {
	Tables() []tablestore.TableConfig
}

type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]vectorindex.Result, error)
}

type Config struct {
	Logger *slog.Logger

	Asker    Asker
	Tables   TableLister
	Resolver *cohort.Resolver
	// Searcher is optional; search_records is only registered when set.
	Searcher Searcher

	Version           string
	ListenAddr        string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return fmt.Errorf("logger is required")
	}
	if c.Asker == nil {
		return fmt.Errorf("asker is required")
	}
	if c.Tables == nil {
		return fmt.Errorf("table lister is required")
	}
	if c.Resolver == nil {
		return fmt.Errorf("resolver is required")
	}
	if c.Version == "" {
		c.Version = "dev"
	}
	if c.ReadHeaderTimeout == 0 {
		c.ReadHeaderTimeout = defaultReadHeaderTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	return nil
}
