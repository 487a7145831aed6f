package dataset

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/viant/afs"

	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/config"
	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/model"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644))
	}
}

func testData(t *testing.T) config.DataConfig {
	t.Helper()
	dir := t.TempDir()
	lmDir := filepath.Join(dir, "lm_all")
	require.NoError(t, os.MkdirAll(lmDir, 0o755))

	touch(t, dir,
		"train_1k.0.000", "train_1k.0.001", "train_1k.0.002",
		"train_1k.1.000", "train_1k.1.001",
		"train_1k.2.000",
		"dev.000", "dev.001",
		"README",
	)
	touch(t, lmDir, "lm.000", "lm.001", "vocab.txt")

	cfg := config.Default().Data
	cfg.DataDir = dir
	cfg.LMDataDir = lmDir
	cfg.BucketBatchSizes = []int{128, 64, 32}
	return cfg
}

func TestBucketsGroupByIndex(t *testing.T) {
	cfg := testData(t)
	p := NewProvider(context.Background(), afs.New(), cfg, rand.New(rand.NewSource(10)))

	buckets, err := p.Buckets(context.Background())
	require.NoError(t, err)
	require.Len(t, buckets, 3)

	assert.Len(t, buckets[0].Files, 3)
	assert.Len(t, buckets[1].Files, 2)
	assert.Len(t, buckets[2].Files, 1)
	assert.Equal(t, 64, buckets[1].BatchSize)
	for _, f := range buckets[1].Files {
		assert.Contains(t, filepath.Base(f), "train_1k.1.")
	}
}

func TestBucketsDeterministicForSeed(t *testing.T) {
	cfg := testData(t)
	ctx := context.Background()

	a, err := NewProvider(ctx, afs.New(), cfg, rand.New(rand.NewSource(10))).Buckets(ctx)
	require.NoError(t, err)
	b, err := NewProvider(ctx, afs.New(), cfg, rand.New(rand.NewSource(10))).Buckets(ctx)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSubsetFiltersBucketFiles(t *testing.T) {
	cfg := testData(t)
	subset := filepath.Join(t.TempDir(), "subset.txt")
	require.NoError(t, os.WriteFile(subset, []byte("train_1k.0.001\ntrain_1k.2.000\n"), 0o644))
	cfg.SubsetFile = subset

	p := NewProvider(context.Background(), afs.New(), cfg, rand.New(rand.NewSource(1)))
	buckets, err := p.Buckets(context.Background())
	require.NoError(t, err)

	assert.Len(t, buckets[0].Files, 1)
	assert.Empty(t, buckets[1].Files)
	assert.Len(t, buckets[2].Files, 1)
}

func TestMissingSubsetDisablesFiltering(t *testing.T) {
	cfg := testData(t)
	cfg.SubsetFile = filepath.Join(t.TempDir(), "nope.txt")

	assert.Nil(t, LoadSubset(context.Background(), afs.New(), cfg.SubsetFile))

	p := NewProvider(context.Background(), afs.New(), cfg, rand.New(rand.NewSource(1)))
	buckets, err := p.Buckets(context.Background())
	require.NoError(t, err)
	assert.Len(t, buckets[0].Files, 3)
}

func TestDevAndLMFiles(t *testing.T) {
	cfg := testData(t)
	p := NewProvider(context.Background(), afs.New(), cfg, rand.New(rand.NewSource(1)))

	dev, err := p.DevFiles(context.Background())
	require.NoError(t, err)
	assert.Len(t, dev, 2)

	lm, err := p.LMFiles(context.Background())
	require.NoError(t, err)
	sort.Strings(lm)
	assert.Equal(t, []string{filepath.Join(cfg.LMDataDir, "lm.000"), filepath.Join(cfg.LMDataDir, "lm.001")}, lm)
}

// #region active-set

type stubOpener struct {
	opened []model.StreamSpec
	failOn int
}

func (o *stubOpener) OpenStream(_ context.Context, spec model.StreamSpec) (model.StreamHandle, error) {
	if o.failOn >= 0 && spec.Bucket == o.failOn {
		return "", errors.New("iterator init failed")
	}
	o.opened = append(o.opened, spec)
	return model.StreamHandle(fmt.Sprintf("h%d", spec.Bucket)), nil
}

func TestActiveSetDrainsAndRebuilds(t *testing.T) {
	buckets := []Bucket{
		{Index: 0, BatchSize: 128, Files: []string{"a"}},
		{Index: 1, BatchSize: 64, Files: []string{"b"}},
		{Index: 2, BatchSize: 32, Files: []string{"c"}},
	}
	ctx := context.Background()

	set, err := InitEpoch(ctx, &stubOpener{failOn: -1}, buckets)
	require.NoError(t, err)
	require.Equal(t, 3, set.Len())

	first, ok := set.First()
	require.True(t, ok)
	assert.Equal(t, 0, first.Bucket, "lowest bucket has priority")

	for set.Len() > 0 {
		set.RemoveFirst()
	}
	_, ok = set.First()
	assert.False(t, ok)
	assert.Empty(t, set.Buckets())

	set, err = InitEpoch(ctx, &stubOpener{failOn: -1}, buckets)
	require.NoError(t, err)
	assert.Equal(t, 3, set.Len())
	assert.Equal(t, []int{0, 1, 2}, set.Buckets())
}

func TestInitEpochSkipsEmptyBuckets(t *testing.T) {
	opener := &stubOpener{failOn: -1}
	set, err := InitEpoch(context.Background(), opener, []Bucket{
		{Index: 0, Files: nil},
		{Index: 1, Files: []string{"b"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, set.Buckets())
	assert.Len(t, opener.opened, 1)
	assert.True(t, opener.opened[0].Shuffle)
}

func TestInitEpochPropagatesOpenError(t *testing.T) {
	_, err := InitEpoch(context.Background(), &stubOpener{failOn: 1}, []Bucket{
		{Index: 0, Files: []string{"a"}},
		{Index: 1, Files: []string{"b"}},
	})
	assert.Error(t, err)
}

// #endregion active-set
