package cohort

import (
	"context"
	"fmt"
	"strings"

	"github.com/malbeclabs/rwe/pkg/tablestore"
)

// TableSource is the subset of the table store the engine needs.
type TableSource interface {
	Load(ctx context.Context, logicalName string) (*tablestore.Table, error)
	Lookup(logicalName string) (tablestore.TableConfig, bool)
}

// Resolver maps the table names a plan uses onto registered tables,
// consulting a configurable alias table when the name is not registered.
type Resolver struct {
	tables  TableSource
	aliases map[string]string
}

func NewResolver(tables TableSource, aliases map[string]string) *Resolver {
	a := make(map[string]string, len(aliases))
	for k, v := range aliases {
		a[strings.ToLower(k)] = v
	}
	return &Resolver{tables: tables, aliases: a}
}

// Resolve returns the registered name for name.
func (r *Resolver) Resolve(name string) (string, error) {
	if _, ok := r.tables.Lookup(name); ok {
		return name, nil
	}
	if target, ok := r.aliases[strings.ToLower(name)]; ok {
		if _, ok := r.tables.Lookup(target); ok {
			return target, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownTable, name)
}

// Load resolves name and loads the table.
func (r *Resolver) Load(ctx context.Context, name string) (*tablestore.Table, error) {
	resolved, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	return r.tables.Load(ctx, resolved)
}
