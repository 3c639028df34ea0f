package fcs

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/uyouii/cytometry-algorithms/common"
)

// MatchFileExt reports whether path ends in ext, ignoring case.
func MatchFileExt(path, ext string) bool {
	return strings.EqualFold(filepath.Ext(path), ext)
}

// FilterFCSFiles walks dir for .fcs files, skipping file names that contain
// excludeFiles and directories named excludeDir. Empty filters exclude nothing.
func FilterFCSFiles(dir, excludeFiles, excludeDir string) ([]string, error) {
	res := []string{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && excludeDir != "" && d.Name() == excludeDir {
				return filepath.SkipDir
			}
			return nil
		}
		if !MatchFileExt(path, ".fcs") {
			return nil
		}
		if excludeFiles != "" && strings.Contains(d.Name(), excludeFiles) {
			return nil
		}
		res = append(res, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(res)
	return res, nil
}

type DirectoryOptions struct {
	// ControlNames are matched against the names of files containing ControlID.
	ControlNames     []string
	ControlID        string
	ExcludeFiles     string
	ExcludeDir       string
	CompensationFile string
}

// FileTree is the layout of one experiment directory: a single primary
// staining, controls by name and an optional compensation file.
type FileTree struct {
	Primary          string
	Controls         map[string]string
	CompensationFile string
}

func ParseDirectoryForCytometryFiles(dir string, opts DirectoryOptions) (*FileTree, error) {
	files, err := FilterFCSFiles(dir, opts.ExcludeFiles, opts.ExcludeDir)
	if err != nil {
		return nil, err
	}

	controls, primary := []string{}, []string{}
	for _, f := range files {
		if opts.ControlID != "" && strings.Contains(filepath.Base(f), opts.ControlID) {
			controls = append(controls, f)
		} else {
			primary = append(primary, f)
		}
	}
	if len(primary) != 1 {
		return nil, fmt.Errorf("%w: expected one primary staining in %s, found %d: %v",
			common.ErrorInvalidValue, dir, len(primary), primary)
	}

	tree := &FileTree{Primary: primary[0], Controls: map[string]string{}}
	for _, name := range opts.ControlNames {
		matched := []string{}
		for _, f := range controls {
			if strings.Contains(filepath.Base(f), name) {
				matched = append(matched, f)
			}
		}
		if len(matched) != 1 {
			return nil, fmt.Errorf("%w: expected one file for control %s, found %d: %v",
				common.ErrorInvalidValue, name, len(matched), matched)
		}
		tree.Controls[name] = matched[0]
	}

	if opts.CompensationFile != "" {
		path := filepath.Join(dir, opts.CompensationFile)
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("compensation file: %w", err)
		}
		tree.CompensationFile = path
	}
	return tree, nil
}
