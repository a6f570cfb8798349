package scenery

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Group is a logical file group used for progress estimation
type Group string

const (
	GroupBGL      Group = "bgl"
	GroupDat      Group = "dat"
	GroupManifest Group = "manifest"
	GroupOSM      Group = "osm"
	GroupOther    Group = "other"
)

// GroupOf classifies a file by name
func GroupOf(name string) Group {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".bgl"):
		return GroupBGL
	case strings.HasSuffix(lower, ".dat"):
		return GroupDat
	case strings.HasSuffix(lower, ".ini"), strings.HasSuffix(lower, ".cfg"):
		return GroupManifest
	case strings.HasSuffix(lower, ".osm"), strings.HasSuffix(lower, ".osm.pbf"), strings.HasSuffix(lower, ".pbf"):
		return GroupOSM
	}
	return GroupOther
}

// FileCounts holds per-area and total file counts
type FileCounts struct {
	PerArea map[string]map[Group]int
	Total   map[Group]int
}

// Sum returns the total over the given groups, or all groups when none are given
func (c FileCounts) Sum(groups ...Group) int {
	n := 0
	if len(groups) == 0 {
		for _, v := range c.Total {
			n += v
		}
		return n
	}
	for _, g := range groups {
		n += c.Total[g]
	}
	return n
}

// CountFiles walks all usable areas concurrently with at most workers
// goroutines and counts files per group.
func CountFiles(ctx context.Context, areas []Area, workers int) (FileCounts, error) {
	if workers <= 0 {
		workers = 1
	}
	counts := FileCounts{
		PerArea: make(map[string]map[Group]int),
		Total:   make(map[Group]int),
	}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, area := range areas {
		if !area.Usable() {
			continue
		}
		root := area.Path
		g.Go(func() error {
			local := make(map[Group]int)
			err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
				if err != nil {
					return nil
				}
				if gctx.Err() != nil {
					return gctx.Err()
				}
				if !d.IsDir() {
					local[GroupOf(d.Name())]++
				}
				return nil
			})
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			counts.PerArea[root] = local
			for grp, n := range local {
				counts.Total[grp] += n
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return counts, err
	}
	return counts, nil
}
