package store

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/pairdb/indexstore/internal/codec"
	storeerrors "github.com/devrev/pairdb/indexstore/internal/errors"
	"github.com/devrev/pairdb/indexstore/internal/model"
)

func sampleLeaf(e int64) *model.NodeRecord {
	return &model.NodeRecord{
		Level: 0,
		Keys: []model.Tuple{
			{E: e, A: "name", V: model.StringValue("Ivan"), Tx: 1},
			{E: e, A: "age", V: model.IntValue(15), Tx: 1},
			{E: e, A: "score", V: model.FloatValue(1.5), Tx: 2},
			{E: e, A: "active", V: model.BoolValue(true), Tx: 2},
			{E: e, A: "kind", V: model.KeywordValue("person"), Tx: 3},
		},
	}
}

func sampleEntries() []Entry {
	branch := &model.NodeRecord{
		Level:     1,
		Keys:      []model.Tuple{{E: 1, A: "name", V: model.StringValue("Ivan"), Tx: 1}, {E: 2, A: "name", V: model.StringValue("Petr"), Tx: 1}},
		Addresses: []model.Address{2, 3},
	}
	root := &model.RootRecord{
		Schema:    model.Schema{"name": {Cardinality: "one", Index: true}},
		EAVT:      4,
		AEVT:      4,
		AVET:      4,
		MaxEid:    2,
		MaxTx:     3,
		MaxAddr:   4,
		Branching: 64,
	}
	return []Entry{
		{Addr: 2, Payload: model.NodePayload(sampleLeaf(1))},
		{Addr: 3, Payload: model.NodePayload(sampleLeaf(2))},
		{Addr: 4, Payload: model.NodePayload(branch)},
		{Addr: model.RootAddress, Payload: model.RootPayload(root)},
		{Addr: model.TailAddress, Payload: model.TailPayload(nil)},
	}
}

// runConformance checks the storage port contract against one backend.
func runConformance(t *testing.T, s NodeStore) {
	ctx := context.Background()

	_, err := s.Restore(ctx, model.RootAddress)
	require.Error(t, err)
	assert.True(t, storeerrors.IsNotFound(err), "missing address must be NotFound: %v", err)

	entries := sampleEntries()
	require.NoError(t, s.Store(ctx, entries))

	for _, e := range entries {
		got, err := s.Restore(ctx, e.Addr)
		require.NoError(t, err, "address %s", e.Addr)
		require.Equal(t, e.Payload.Kind(), got.Kind())
		switch got.Kind() {
		case "tail":
			assert.Empty(t, *got.Tail)
		default:
			assert.Equal(t, e.Payload, got)
		}
	}

	addrs, err := s.ListAddresses(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.Address{0, 1, 2, 3, 4}, addrs)

	tail := [][]model.Tuple{{{E: 3, A: "name", V: model.StringValue("Oleg"), Tx: 4}}}
	require.NoError(t, s.Store(ctx, []Entry{{Addr: model.TailAddress, Payload: model.TailPayload(tail)}}))
	got, err := s.Restore(ctx, model.TailAddress)
	require.NoError(t, err)
	require.NotNil(t, got.Tail)
	assert.Equal(t, model.TailRecord(tail), *got.Tail)

	require.NoError(t, s.Delete(ctx, []model.Address{2, 3, 99}))
	addrs, err = s.ListAddresses(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.Address{0, 1, 4}, addrs)

	_, err = s.Restore(ctx, 2)
	assert.True(t, storeerrors.IsNotFound(err))

	require.NoError(t, s.Delete(ctx, nil))
}

func TestMemoryStore_Conformance(t *testing.T) {
	for _, name := range []string{codec.NameJSON, codec.NameYAML, codec.NameCBOR} {
		t.Run(name, func(t *testing.T) {
			c, err := codec.ByName(name)
			require.NoError(t, err)
			runConformance(t, NewMemoryStore(c))
		})
	}
}

func TestMemoryStore_MalformedRecord(t *testing.T) {
	s := NewMemoryStore(nil)
	s.PutRaw(7, []byte("{not json"))

	_, err := s.Restore(context.Background(), 7)
	require.Error(t, err)
	assert.True(t, storeerrors.IsMalformed(err))
}

func TestMemoryStore_DistinctIDs(t *testing.T) {
	assert.NotEqual(t, NewMemoryStore(nil).ID(), NewMemoryStore(nil).ID())
}

func TestFileStore_Conformance(t *testing.T) {
	cborCodec, err := codec.CBOR()
	require.NoError(t, err)

	tests := []struct {
		name string
		cfg  FileStoreConfig
	}{
		{name: "defaults"},
		{name: "yaml with checksums", cfg: FileStoreConfig{
			Write:     codec.Writer(codec.YAML()),
			Read:      codec.Reader(codec.YAML()),
			Checksums: true,
		}},
		{name: "cbor parallel", cfg: FileStoreConfig{
			Write:       codec.Writer(cborCodec),
			Read:        codec.Reader(cborCodec),
			Parallelism: 4,
			SyncWrites:  true,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			cfg.Dir = t.TempDir()
			s, err := NewFileStore(cfg, zap.NewNop())
			require.NoError(t, err)
			defer s.Close()
			runConformance(t, s)
		})
	}
}

func TestFileStore_FileNames(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(FileStoreConfig{Dir: dir}, nil)
	require.NoError(t, err)

	require.NoError(t, s.Store(context.Background(), sampleEntries()))

	for _, name := range []string{"00000000", "00000001", "00000002", "00000003", "00000004"} {
		assert.FileExists(t, filepath.Join(dir, name))
	}
}

func TestFileStore_ListIgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(FileStoreConfig{Dir: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Store(context.Background(), sampleEntries()[:1]))

	for _, name := range []string{"README", "2", ".00000005.tmp", "0000000G", "00000000a"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "00000009"), 0755))

	addrs, err := s.ListAddresses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []model.Address{2}, addrs)
}

func TestFileStore_CustomAddressFormat(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(FileStoreConfig{
		Dir:        dir,
		FormatAddr: func(a model.Address) string { return "node-" + FormatAddr(a) },
		ParseAddr: func(name string) (model.Address, bool) {
			if len(name) < 5 || name[:5] != "node-" {
				return 0, false
			}
			return ParseAddr(name[5:])
		},
	}, nil)
	require.NoError(t, err)

	runConformance(t, s)
	assert.FileExists(t, filepath.Join(dir, "node-00000004"))
}

func TestFileStore_ChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(FileStoreConfig{Dir: dir, Checksums: true}, nil)
	require.NoError(t, err)
	require.NoError(t, s.Store(context.Background(), sampleEntries()[:1]))

	path := filepath.Join(dir, "00000002")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[0] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err = s.Restore(context.Background(), 2)
	require.Error(t, err)
	assert.True(t, storeerrors.IsMalformed(err))
}

func TestFileStore_MalformedRecord(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(FileStoreConfig{Dir: dir}, nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "00000000"), []byte("{\"root\": 12"), 0644))

	_, err = s.Restore(context.Background(), model.RootAddress)
	require.Error(t, err)
	assert.True(t, storeerrors.IsMalformed(err))
}

func TestFileStore_RequiresDir(t *testing.T) {
	_, err := NewFileStore(FileStoreConfig{}, nil)
	require.Error(t, err)
	assert.Equal(t, storeerrors.ErrCodeInvalidArgument, storeerrors.GetCode(err))
}

func TestParseAddr(t *testing.T) {
	tests := []struct {
		name string
		want model.Address
		ok   bool
	}{
		{"00000000", 0, true},
		{"0000002a", 42, true},
		{"100000000", 1 << 32, true},
		{"2a", 0, false},
		{"0000002A", 0, false},
		{"000000002a", 0, false},
		{"", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseAddr(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRedisStore_Conformance(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisStoreWithClient(client, mr.Addr(), "idx:", nil, zap.NewNop())
	runConformance(t, s)

	// Keys outside the prefix are not part of the store.
	mr.Set("other:00000009", "x")
	addrs, err := s.ListAddresses(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, addrs, model.Address(9))
}

func TestRedisStore_PrefixesAreIsolated(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	a := NewRedisStoreWithClient(client, mr.Addr(), "a:", nil, nil)
	b := NewRedisStoreWithClient(client, mr.Addr(), "b:", nil, nil)
	assert.NotEqual(t, a.ID(), b.ID())

	require.NoError(t, a.Store(context.Background(), sampleEntries()))
	addrs, err := b.ListAddresses(context.Background())
	require.NoError(t, err)
	assert.Empty(t, addrs)
}

func TestNewRedisStore_ConnectionRefused(t *testing.T) {
	mr := miniredis.RunT(t)
	host := mr.Host()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	mr.Close()

	_, err = NewRedisStore(RedisConfig{Host: host, Port: port}, nil, zap.NewNop())
	assert.Error(t, err)
}

func TestPostgresStore_Conformance(t *testing.T) {
	dsn := os.Getenv("INDEXSTORE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("INDEXSTORE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStoreFromDSN(ctx, dsn, "indexstore_conformance", nil, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()

	addrs, err := s.ListAddresses(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, addrs))

	runConformance(t, s)
}

func TestPostgresStore_RejectsTableName(t *testing.T) {
	_, err := NewPostgresStoreFromDSN(context.Background(), "host=localhost", "nodes; DROP TABLE x", nil, nil)
	require.Error(t, err)
	assert.Equal(t, storeerrors.ErrCodeInvalidArgument, storeerrors.GetCode(err))
}
