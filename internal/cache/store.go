// Package cache persists fetched series tables between sessions.
//
// An entry lives in a slot: ordinary requests and batched (large) requests
// use distinct slots because their code lists and table widths differ. Every
// entry remembers the parameters it was fetched with so that a later lookup
// can tell whether it still matches the caller's request.
package cache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/seenimoa/bcrpdata/pkg/models"
)

// ErrNotFound is returned by Store.Read when a slot holds no entry.
var ErrNotFound = errors.New("cache entry not found")

// Kind selects the persistence backend.
type Kind string

const (
	KindFile     Kind = "file"
	KindPostgres Kind = "postgres"
	KindBadger   Kind = "badger"
)

// ParseKind validates a storage kind name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindFile, KindPostgres, KindBadger:
		return k, nil
	}
	return "", fmt.Errorf("unknown cache storage %q (want file, postgres or badger)", s)
}

// Slot is the logical cache slot of a request.
type Slot string

const (
	SlotSingle Slot = "single"
	SlotLarge  Slot = "large"
)

// Signature identifies a cache entry.
type Signature struct {
	Storage Kind
	Slot    Slot
}

// Key returns "<kind>/<slot>".
func (s Signature) Key() string { return string(s.Storage) + "/" + string(s.Slot) }

// Params is the snapshot of request parameters stored next to a table.
type Params struct {
	Codes []string `yaml:"codes" json:"codes"`
	Start string   `yaml:"start" json:"start"`
	End   string   `yaml:"end" json:"end"`
}

// ParamsOf snapshots the parameters of r.
func ParamsOf(r models.SeriesRequest) Params {
	return Params{Codes: slices.Clone(r.Codes), Start: r.Start, End: r.End}
}

// Equal compares codes (in order), start and end.
func (p Params) Equal(o Params) bool {
	return p.Start == o.Start && p.End == o.End && slices.Equal(p.Codes, o.Codes)
}

// Entry is one stored table with its parameters.
type Entry struct {
	ID        string
	Params    Params
	Table     *models.Table
	WrittenAt time.Time
}

// NewEntry stamps a fresh entry for t.
func NewEntry(p Params, t *models.Table) *Entry {
	return &Entry{
		ID:        uuid.NewString(),
		Params:    p,
		Table:     t,
		WrittenAt: time.Now().UTC(),
	}
}

// Store is a persistence backend. Implementations keep at most one entry per
// slot; Write replaces whatever the slot held.
type Store interface {
	Read(ctx context.Context, slot Slot) (*Entry, error)
	Write(ctx context.Context, slot Slot, e *Entry) error
	Delete(ctx context.Context, slot Slot) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Storage     Kind
	Dir         string // file and badger stores
	PostgresDSN string
}

// Open creates the backend named by cfg.Storage.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Storage {
	case KindFile, "":
		return NewFileStore(cfg.Dir)
	case KindBadger:
		return NewBadgerStore(cfg.Dir)
	case KindPostgres:
		if cfg.PostgresDSN == "" {
			return nil, errors.New("postgres cache storage requires a DSN")
		}
		return NewPostgresStore(ctx, cfg.PostgresDSN)
	}
	return nil, fmt.Errorf("unknown cache storage %q", cfg.Storage)
}
