package backbuild

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gobwas/glob"
	"github.com/otiai10/copy"
)

// OutputMovement configures which artifacts of a successful build are kept.
type OutputMovement struct {
	ParentDir string   `yaml:"parent_dir"` // The directory in which a directory per built commit is created
	ToMove    []string `yaml:"to_move"`    // Glob patterns, relative to the working copy, of the files and directories to keep
}

// relocateArtifacts moves the artifacts matching output.ToMove out of the build location into output.ParentDir/<commit>,
// then deletes the build location.
func relocateArtifacts(location BuildLocation, commit Sha, output OutputMovement) error {
	local, ok := location.(LocalLocation)
	if !ok {
		return fmt.Errorf("cannot relocate artifacts of %s from build location %T", commit, location)
	}

	dest := filepath.Join(output.ParentDir, commit.String())
	if err := os.MkdirAll(dest, 0755); err != nil {
		return errors.Join(fmt.Errorf("failed to create output directory %s", dest), err)
	}

	matches, err := matchArtifacts(local.Path, output.ToMove)
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("none of the artifacts %v exist in %s", output.ToMove, local.Path)
	}

	// Artifacts are moved by base name, two of them must not end up at the same target
	moved := make(map[string]string, len(matches))
	for _, match := range matches {
		target := filepath.Join(dest, filepath.Base(match))
		if previous, ok := moved[target]; ok {
			return fmt.Errorf("artifacts %s and %s would both be moved to %s", previous, match, target)
		}
		moved[target] = match
		if err := moveArtifact(match, target); err != nil {
			return errors.Join(fmt.Errorf("failed to move %s to %s", match, target), err)
		}
	}

	if err := os.RemoveAll(local.Path); err != nil {
		return errors.Join(fmt.Errorf("failed to remove working copy %s", local.Path), err)
	}
	return nil
}

// matchArtifacts returns the paths below root matching any of the patterns.
// A matched directory is returned as a whole, its contents are not matched individually. .git is never matched.
func matchArtifacts(root string, patterns []string) ([]string, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(filepath.ToSlash(pattern), '/')
		if err != nil {
			return nil, errors.Join(fmt.Errorf("invalid artifact pattern %q", pattern), err)
		}
		globs = append(globs, g)
	}

	var matches []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		if d.IsDir() && d.Name() == ".git" {
			return filepath.SkipDir
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		for _, g := range globs {
			if g.Match(rel) {
				matches = append(matches, path)
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to search artifacts in %s", root), err)
	}
	return matches, nil
}

// moveArtifact renames src to dest, copying if they are on different devices
func moveArtifact(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	if err := copy.Copy(src, dest, copy.Options{PreserveTimes: true}); err != nil {
		return err
	}
	return os.RemoveAll(src)
}
