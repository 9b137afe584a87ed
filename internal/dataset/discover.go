package dataset

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var shardRegexp = regexp.MustCompile(`\.(csv|tsv|txt)(\.xz)?$`)

// DiscoverShards returns the data shards under root in lexical path order.
// root may also name a single shard. Hidden files and directories are
// skipped, which keeps editor swap files and .cache dirs out of a pass.
func DiscoverShards(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("discover shards: %w", err)
	}
	if !info.IsDir() {
		if !shardRegexp.MatchString(info.Name()) {
			return nil, fmt.Errorf("discover shards: %s is not a shard", root)
		}
		return []string{root}, nil
	}

	var shards []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		hidden := path != root && strings.HasPrefix(d.Name(), ".")
		switch {
		case d.IsDir() && hidden:
			return fs.SkipDir
		case d.IsDir(), hidden:
			return nil
		case shardRegexp.MatchString(d.Name()):
			shards = append(shards, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover shards: %w", err)
	}
	sort.Strings(shards)
	return shards, nil
}
