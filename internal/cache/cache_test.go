package cache

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/guregu/null/v6"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/bcrpdata/internal/infra"
	"github.com/seenimoa/bcrpdata/internal/observability"
	"github.com/seenimoa/bcrpdata/pkg/models"
)

func month(y int, m time.Month) time.Time { return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC) }

// sampleTable has dated periods, codes and a null cell that must survive
// every backend.
func sampleTable() *models.Table {
	t := models.NewTable("PBI (var. %)", "Inflación")
	t.Columns[0].Code = "PN01288PM"
	t.Columns[1].Code = "PN01289PM"
	_ = t.AppendRow(models.Period{Label: "Ene.2010", Date: month(2010, time.January)}, []null.Float{null.FloatFrom(1.5), null.Float{}})
	_ = t.AppendRow(models.Period{Label: "Feb.2010", Date: month(2010, time.February)}, []null.Float{null.FloatFrom(0), null.FloatFrom(-0.25)})
	_ = t.AppendRow(models.Period{Label: "Mar.2010", Date: month(2010, time.March)}, []null.Float{null.FloatFrom(3.313), null.FloatFrom(2)})
	return t
}

func undatedTable() *models.Table {
	t := models.NewTable("A")
	_ = t.AppendRow(models.Period{Label: "T1.10"}, []null.Float{null.FloatFrom(1)})
	_ = t.AppendRow(models.Period{Label: "T2.10"}, []null.Float{null.Float{}})
	return t
}

var sampleParams = Params{Codes: []string{"PN01288PM", "PN01289PM"}, Start: "2010-1", End: "2010-3"}

// ── Codec ──

func TestCodecRoundTrip(t *testing.T) {
	codec, err := NewCodec()
	require.NoError(t, err)
	defer codec.Close()

	for name, tbl := range map[string]*models.Table{
		"dated":   sampleTable(),
		"undated": undatedTable(),
		"columns": models.NewTable("x", "y"),
		"empty":   models.Empty(),
	} {
		t.Run(name, func(t *testing.T) {
			data, err := codec.EncodeTable(tbl)
			require.NoError(t, err)
			got, err := codec.DecodeTable(data)
			require.NoError(t, err)
			assert.True(t, tbl.Equal(got), "round trip changed the table: %+v", got)
		})
	}
}

func TestCodecRejectsGarbage(t *testing.T) {
	codec, err := NewCodec()
	require.NoError(t, err)
	defer codec.Close()

	_, err = codec.DecodeTable([]byte("not zstd"))
	assert.Error(t, err)
}

func TestCodecMeta(t *testing.T) {
	codec, err := NewCodec()
	require.NoError(t, err)
	defer codec.Close()

	in := NewEntry(sampleParams, nil)
	data, err := codec.EncodeMeta(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), "2010-1")

	out := &Entry{}
	require.NoError(t, codec.DecodeMeta(data, out))
	assert.Equal(t, in.ID, out.ID)
	assert.True(t, in.Params.Equal(out.Params))
	assert.True(t, in.WrittenAt.Equal(out.WrittenAt))
}

// ── Stores ──

func testStoreRoundTrip(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Read(ctx, SlotSingle)
	require.ErrorIs(t, err, ErrNotFound)

	in := NewEntry(sampleParams, sampleTable())
	require.NoError(t, store.Write(ctx, SlotSingle, in))

	got, err := store.Read(ctx, SlotSingle)
	require.NoError(t, err)
	assert.Equal(t, in.ID, got.ID)
	assert.True(t, got.Params.Equal(sampleParams))
	assert.WithinDuration(t, in.WrittenAt, got.WrittenAt, time.Millisecond)
	assert.True(t, sampleTable().Equal(got.Table), "table changed: %+v", got.Table)
	assert.True(t, got.Table.Columns[0].Values[0].Valid, "valid cell became null")
	assert.False(t, got.Table.Columns[1].Values[0].Valid, "null cell must stay null")
	assert.True(t, got.Table.Columns[0].Values[1].Valid, "zero must not become null")

	// Slots are independent.
	_, err = store.Read(ctx, SlotLarge)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, store.Write(ctx, SlotLarge, NewEntry(Params{Codes: []string{"A"}}, undatedTable())))

	// Write replaces.
	replacement := NewEntry(Params{Codes: []string{"X"}, Start: "2020-1", End: "2020-2"}, models.NewTable("only"))
	require.NoError(t, store.Write(ctx, SlotSingle, replacement))
	got, err = store.Read(ctx, SlotSingle)
	require.NoError(t, err)
	assert.Equal(t, []string{"only"}, got.Table.ColumnNames())
	assert.Equal(t, 0, got.Table.NumRows())

	large, err := store.Read(ctx, SlotLarge)
	require.NoError(t, err)
	assert.True(t, undatedTable().Equal(large.Table))

	require.NoError(t, store.Delete(ctx, SlotSingle))
	_, err = store.Read(ctx, SlotSingle)
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, store.Delete(ctx, SlotSingle), "deleting a missing slot")
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()
	testStoreRoundTrip(t, store)
}

func TestFileStoreLayout(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Write(context.Background(), SlotLarge, NewEntry(sampleParams, sampleTable())))
	assert.FileExists(t, dir+"/cache-large.bcrfile")
	assert.FileExists(t, dir+"/cache-large.params.yaml")

	// A table without its sidecar is not an entry.
	require.NoError(t, os.Remove(store.ParamsPath(SlotLarge)))
	_, err = store.Read(context.Background(), SlotLarge)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBadgerStore(t *testing.T) {
	store, err := NewMemoryBadgerStore()
	require.NoError(t, err)
	defer store.Close()
	testStoreRoundTrip(t, store)
}

func TestOpenFile(t *testing.T) {
	store, err := Open(context.Background(), Config{Storage: KindFile, Dir: t.TempDir()})
	require.NoError(t, err)
	defer store.Close()
	assert.IsType(t, &FileStore{}, store)

	_, err = Open(context.Background(), Config{Storage: KindPostgres})
	assert.Error(t, err, "postgres without DSN")

	_, err = ParseKind("sqlite")
	assert.Error(t, err)
}

func TestSignatureKey(t *testing.T) {
	assert.Equal(t, "file/large", Signature{Storage: KindFile, Slot: SlotLarge}.Key())
}

// ── Cache policy ──

func newTestCache(t *testing.T, opts ...Option) (*Cache, *bytes.Buffer, *observability.Metrics) {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	var logs bytes.Buffer
	metrics := observability.NewMetrics("")
	opts = append([]Option{WithLogger(infra.NewLogger(&logs, "debug", "text")), WithMetrics(metrics)}, opts...)
	c := New(store, KindFile, opts...)
	t.Cleanup(func() { c.Close() })
	return c, &logs, metrics
}

func TestCacheMissThenHit(t *testing.T) {
	c, logs, metrics := newTestCache(t)
	ctx := context.Background()

	tbl, ok, err := c.Lookup(ctx, SlotSingle, sampleParams, false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, tbl)

	require.NoError(t, c.Save(ctx, SlotSingle, sampleParams, sampleTable()))
	tbl, ok, err = c.Lookup(ctx, SlotSingle, sampleParams, false)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, sampleTable().Equal(tbl))
	assert.NotContains(t, logs.String(), StaleWarning)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("file", observability.CacheMiss)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("file", observability.CacheHit)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheWrites.WithLabelValues("file", observability.OutcomeSuccess)))
}

func TestCacheStaleIsAdvisory(t *testing.T) {
	c, logs, metrics := newTestCache(t)
	ctx := context.Background()

	// Cached [A, B] 2010-1..2016-9, now asking for [A, C].
	cached := Params{Codes: []string{"A", "B"}, Start: "2010-1", End: "2016-9"}
	require.NoError(t, c.Save(ctx, SlotSingle, cached, sampleTable()))

	current := Params{Codes: []string{"A", "C"}, Start: "2010-1", End: "2016-9"}
	tbl, ok, err := c.Lookup(ctx, SlotSingle, current, false)
	require.NoError(t, err)
	assert.True(t, ok, "stale entry is still returned")
	assert.True(t, sampleTable().Equal(tbl))
	assert.Contains(t, logs.String(), StaleWarning)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("file", observability.CacheStale)))
}

func TestCacheStrictMode(t *testing.T) {
	c, logs, _ := newTestCache(t, WithStrict(true))
	ctx := context.Background()

	require.NoError(t, c.Save(ctx, SlotSingle, sampleParams, sampleTable()))
	current := Params{Codes: []string{"OTHER"}, Start: "2010-1", End: "2010-3"}
	_, ok, err := c.Lookup(ctx, SlotSingle, current, false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, logs.String(), StaleWarning)
}

func TestCacheForget(t *testing.T) {
	c, logs, metrics := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Save(ctx, SlotSingle, Params{Codes: []string{"OLD"}}, sampleTable()))
	_, ok, err := c.Lookup(ctx, SlotSingle, sampleParams, true)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotContains(t, logs.String(), StaleWarning, "forget never warns")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheLookups.WithLabelValues("file", observability.CacheForget)))

	// The entry is gone for good.
	_, ok, err = c.Lookup(ctx, SlotSingle, sampleParams, false)
	require.NoError(t, err)
	assert.False(t, ok)

	// Forgetting an empty slot is fine.
	_, _, err = c.Lookup(ctx, SlotLarge, sampleParams, true)
	require.NoError(t, err)
}

func TestCacheReturnsCopies(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	in := sampleTable()
	require.NoError(t, c.Save(ctx, SlotSingle, sampleParams, in))
	in.Columns[0].Values[0] = null.FloatFrom(999)

	got, _, err := c.Lookup(ctx, SlotSingle, sampleParams, false)
	require.NoError(t, err)
	assert.Equal(t, 1.5, got.Columns[0].Values[0].Float64)

	got.Columns[0].Name = "mutated"
	again, _, err := c.Lookup(ctx, SlotSingle, sampleParams, false)
	require.NoError(t, err)
	assert.Equal(t, "PBI (var. %)", again.Columns[0].Name)
}

func TestCacheInvalidate(t *testing.T) {
	c, _, _ := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Save(ctx, SlotLarge, sampleParams, sampleTable()))
	require.NoError(t, c.Invalidate(ctx, SlotLarge))
	_, ok, err := c.Lookup(ctx, SlotLarge, sampleParams, false)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParamsEqual(t *testing.T) {
	a := Params{Codes: []string{"A", "B"}, Start: "2010-1", End: "2016-9"}
	assert.True(t, a.Equal(Params{Codes: []string{"A", "B"}, Start: "2010-1", End: "2016-9"}))
	assert.False(t, a.Equal(Params{Codes: []string{"B", "A"}, Start: "2010-1", End: "2016-9"}), "order matters")
	assert.False(t, a.Equal(Params{Codes: []string{"A", "B"}, Start: "2010-2", End: "2016-9"}))
	assert.True(t, Params{}.Equal(Params{Codes: []string{}}))

	r := models.SeriesRequest{Codes: []string{"A"}, Start: "2010-1", End: "2010-2"}
	p := ParamsOf(r)
	r.Codes[0] = "Z"
	assert.Equal(t, "A", p.Codes[0], "snapshot must not alias the request")
}
