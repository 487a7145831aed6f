package dataset

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"path"
	"sort"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/url"

	"github.com/danielpatrickdp/asr-multitask/go-trainer/internal/config"
)

// #region types

// Bucket is one length bucket's file membership for an epoch.
type Bucket struct {
	Index     int
	BatchSize int
	Files     []string
}

// #endregion types

// #region provider

// Provider lists shard files for the ASR buckets, the dev set and the LM
// corpus. Every call to Buckets re-lists and reshuffles.
type Provider struct {
	fs     afs.Service
	cfg    config.DataConfig
	rng    *rand.Rand
	subset map[string]struct{}
}

// NewProvider builds a provider and loads the optional subset file.
func NewProvider(ctx context.Context, fs afs.Service, cfg config.DataConfig, rng *rand.Rand) *Provider {
	if fs == nil {
		fs = afs.New()
	}
	return &Provider{
		fs:     fs,
		cfg:    cfg,
		rng:    rng,
		subset: LoadSubset(ctx, fs, cfg.SubsetFile),
	}
}

// Buckets lists and shuffles every bucket's files. Bucket i holds files
// named <train_prefix>.<i>.*; with a subset file only listed basenames stay.
func (p *Provider) Buckets(ctx context.Context) ([]Bucket, error) {
	names, err := p.list(ctx, p.cfg.DataDir)
	if err != nil {
		return nil, err
	}

	buckets := make([]Bucket, 0, len(p.cfg.BucketBatchSizes))
	total := 0
	for i, size := range p.cfg.BucketBatchSizes {
		prefix := fmt.Sprintf("%s.%d.", p.cfg.TrainPrefix, i)
		var files []string
		for _, name := range names {
			if !strings.HasPrefix(name, prefix) {
				continue
			}
			if p.subset != nil {
				if _, ok := p.subset[name]; !ok {
					continue
				}
			}
			files = append(files, path.Join(p.cfg.DataDir, name))
		}
		p.rng.Shuffle(len(files), func(a, b int) { files[a], files[b] = files[b], files[a] })
		total += len(files)
		buckets = append(buckets, Bucket{Index: i, BatchSize: size, Files: files})
	}
	log.Printf("[DATASET] total train files: %d across %d buckets", total, len(buckets))
	return buckets, nil
}

// DevFiles lists the dev set shards.
func (p *Provider) DevFiles(ctx context.Context) ([]string, error) {
	return p.matching(ctx, p.cfg.DataDir, p.cfg.DevPrefix)
}

// LMFiles lists the LM corpus shards.
func (p *Provider) LMFiles(ctx context.Context) ([]string, error) {
	return p.matching(ctx, p.cfg.LMDataDir, p.cfg.LMPrefix)
}

func (p *Provider) matching(ctx context.Context, dir, prefix string) ([]string, error) {
	names, err := p.list(ctx, dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, name := range names {
		if strings.HasPrefix(name, prefix) {
			out = append(out, path.Join(dir, name))
		}
	}
	return out, nil
}

// list returns sorted file basenames in dir. A missing dir lists nothing.
func (p *Provider) list(ctx context.Context, dir string) ([]string, error) {
	if ok, _ := p.fs.Exists(ctx, dir); !ok {
		return nil, nil
	}
	objects, err := p.fs.List(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	names := make([]string, 0, len(objects))
	for _, obj := range objects {
		if obj.IsDir() {
			continue
		}
		names = append(names, path.Base(url.Path(obj.URL())))
	}
	sort.Strings(names)
	return names, nil
}

// #endregion provider

// #region subset

// LoadSubset reads a newline-delimited list of shard basenames. A missing,
// unreadable or empty file disables filtering (nil map).
func LoadSubset(ctx context.Context, fs afs.Service, subsetPath string) map[string]struct{} {
	if subsetPath == "" {
		return nil
	}
	if ok, _ := fs.Exists(ctx, subsetPath); !ok {
		log.Printf("[DATASET] subset file %s not found, training on all files", subsetPath)
		return nil
	}
	data, err := fs.DownloadWithURL(ctx, subsetPath)
	if err != nil {
		log.Printf("[DATASET] subset file %s unreadable, training on all files: %v", subsetPath, err)
		return nil
	}
	subset := make(map[string]struct{})
	for _, line := range strings.Split(string(data), "\n") {
		if name := strings.TrimSpace(line); name != "" {
			subset[name] = struct{}{}
		}
	}
	if len(subset) == 0 {
		return nil
	}
	return subset
}

// #endregion subset
