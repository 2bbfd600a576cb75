// Package tablestore loads registered tab-separated tables through DuckDB
// and caches them per resolved path for the life of the store.
package tablestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/jellydator/ttlcache/v3"
	"github.com/malbeclabs/rwe/pkg/duck"
	"github.com/malbeclabs/rwe/pkg/metrics"
	"golang.org/x/sync/singleflight"
)

var (
	ErrNotFound     = errors.New("table file not found")
	ErrSchema       = errors.New("required column missing")
	ErrUnknownTable = errors.New("unknown table")
)

const DefaultCacheSize = 16

// TableConfig registers one table under a logical name.
type TableConfig struct {
	Name        string
	Path        string
	IDColumn    string
	TextColumns []string
}

type Config struct {
	Logger    *slog.Logger
	Tables    []TableConfig
	CacheSize int
	// BaseDir resolves relative table paths. Defaults to the working directory.
	BaseDir string
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if len(cfg.Tables) == 0 {
		return errors.New("at least one table is required")
	}
	for _, t := range cfg.Tables {
		if t.Name == "" || t.Path == "" {
			return fmt.Errorf("table name and path are required: %+v", t)
		}
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	return nil
}

// Store is safe for concurrent use. Loaded tables are never mutated.
type Store struct {
	log    *slog.Logger
	cfg    Config
	db     *duck.DB
	tables map[string]TableConfig
	cache  *ttlcache.Cache[string, *Table]
	group  singleflight.Group
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	db, err := duck.Open(ctx, cfg.Logger, "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}

	cache := ttlcache.New(
		ttlcache.WithCapacity[string, *Table](uint64(cfg.CacheSize)),
	)
	cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *Table]) {
		if reason == ttlcache.EvictionReasonCapacityReached {
			cfg.Logger.Debug("tablestore: evicted table", "path", item.Key())
		}
	})

	tables := make(map[string]TableConfig, len(cfg.Tables))
	for _, t := range cfg.Tables {
		tables[t.Name] = t
	}

	return &Store{
		log:    cfg.Logger,
		cfg:    cfg,
		db:     db,
		tables: tables,
		cache:  cache,
	}, nil
}

func (s *Store) Close() error {
	s.cache.DeleteAll()
	return s.db.Close()
}

// Tables returns the registered table configs sorted by name.
func (s *Store) Tables() []TableConfig {
	out := make([]TableConfig, 0, len(s.tables))
	for _, t := range s.tables {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Lookup returns the config registered under name.
func (s *Store) Lookup(name string) (TableConfig, bool) {
	t, ok := s.tables[name]
	return t, ok
}

// Load returns the table registered under logicalName, reading the file on
// first use. Tables that share a path share one cached load.
func (s *Store) Load(ctx context.Context, logicalName string) (*Table, error) {
	tc, ok := s.tables[logicalName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, logicalName)
	}

	path, err := s.resolvePath(tc.Path)
	if err != nil {
		return nil, err
	}

	if item := s.cache.Get(path); item != nil {
		metrics.TableLoadsTotal.WithLabelValues("hit").Inc()
		return s.view(item.Value(), tc)
	}

	// The flight is shared by every waiter, so one caller's cancellation must
	// not fail the others.
	v, err, _ := s.group.Do(path, func() (any, error) {
		if item := s.cache.Get(path); item != nil {
			return item.Value(), nil
		}
		t, err := s.read(context.WithoutCancel(ctx), path, tc)
		if err != nil {
			return nil, err
		}
		s.cache.Set(path, t, ttlcache.NoTTL)
		return t, nil
	})
	if err != nil {
		metrics.TableLoadsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.TableLoadsTotal.WithLabelValues("miss").Inc()
	return s.view(v.(*Table), tc)
}

// view adapts a cached table to the logical name that requested it and
// checks that name's id column.
func (s *Store) view(t *Table, tc TableConfig) (*Table, error) {
	if tc.IDColumn != "" && !t.HasColumn(tc.IDColumn) {
		return nil, fmt.Errorf("%w: table %s has no id column %q", ErrSchema, tc.Name, tc.IDColumn)
	}
	if t.Name == tc.Name && t.IDColumn == tc.IDColumn {
		return t, nil
	}
	out := t.WithRows(t.Rows)
	out.Name = tc.Name
	out.IDColumn = tc.IDColumn
	return out, nil
}

func (s *Store) resolvePath(p string) (string, error) {
	if !filepath.IsAbs(p) && s.cfg.BaseDir != "" {
		p = filepath.Join(s.cfg.BaseDir, p)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("failed to resolve table path %s: %w", p, err)
	}
	return filepath.Clean(abs), nil
}

func (s *Store) read(ctx context.Context, path string, tc TableConfig) (*Table, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	s.log.Info("tablestore: loading table", "table", tc.Name, "path", path)

	query := fmt.Sprintf("SELECT * FROM read_csv(%s, delim='\\t', header=true, all_varchar=true)", duck.QuoteLiteral(path))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", path, err)
	}

	var data [][]string
	for rows.Next() {
		cells := make([]sql.NullString, len(columns))
		ptrs := make([]any, len(columns))
		for i := range cells {
			ptrs[i] = &cells[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row of %s: %w", path, err)
		}
		row := make([]string, len(columns))
		for i, c := range cells {
			if c.Valid {
				row[i] = c.String
			}
		}
		data = append(data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows of %s: %w", path, err)
	}

	t := NewTable(tc.Name, path, tc.IDColumn, columns, data)
	s.log.Info("tablestore: table loaded", "table", tc.Name, "rows", t.Len(), "columns", len(columns))
	return t, nil
}
