package backbuild

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/otiai10/copy"
)

// A Sha is the hash git uses to identify a commit.
type Sha string

func (s Sha) String() string {
	return string(s)
}

// A RemoteRef is the remote and branch pulled from when looking for new commits.
type RemoteRef struct {
	Name   string `yaml:"name"`
	Branch string `yaml:"branch"`
}

// WorkingCopyMode determines how a worker gets its own copy of the main repository.
type WorkingCopyMode string

const (
	// CloneWorkingCopy runs git clone from the main repository
	CloneWorkingCopy WorkingCopyMode = "clone"
	// CopyWorkingCopy recursively copies the main repository, including untracked files
	CopyWorkingCopy WorkingCopyMode = "copy"
)

// Repo is the version control operations needed to walk history and build commits.
type Repo interface {
	// RevParse resolves a revision, e.g. HEAD, to a commit hash
	RevParse(rev string) (Sha, error)
	// Parent returns the first parent of the commit. The boolean is false for a root commit
	Parent(commit Sha) (Sha, bool, error)
	// CommitTime returns the committer date of the commit
	CommitTime(commit Sha) (time.Time, error)
	// Checkout checks out the revision in this repo's working tree
	Checkout(rev string) error
	// Pull pulls the given remote branch into this repo
	Pull(remote RemoteRef) error
	// WorkingCopy returns a repo at dir holding a copy of this repo.
	// If dir already holds a working copy, it is reused.
	WorkingCopy(dir string) (Repo, error)
	// Path returns the root of the working tree
	Path() string
}

// gitRepo implements Repo by running the git binary
type gitRepo struct {
	path string

	mode WorkingCopyMode
}

// NewGitRepo returns a Repo for the git working tree at path
func NewGitRepo(path string, mode WorkingCopyMode) Repo {
	if mode == "" {
		mode = CloneWorkingCopy
	}
	return &gitRepo{path: path, mode: mode}
}

func (r *gitRepo) Path() string {
	return r.path
}

// git runs git with the passed arguments in the root of the repo and returns its trimmed stdout
func (r *gitRepo) git(args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = r.path
	out, err := cmd.Output()
	if err != nil {
		var stderr []byte
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			stderr = exitErr.Stderr
		}
		return "", errors.Join(fmt.Errorf("git %s failed in %s, output: %s%s", strings.Join(args, " "), r.path, out, stderr), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (r *gitRepo) RevParse(rev string) (Sha, error) {
	out, err := r.git("rev-parse", "--verify", rev+"^{commit}")
	if err != nil {
		return "", err
	}
	return Sha(out), nil
}

func (r *gitRepo) Parent(commit Sha) (Sha, bool, error) {
	// Prints the commit followed by its parents, first parent first
	out, err := r.git("rev-list", "--parents", "-n", "1", commit.String())
	if err != nil {
		return "", false, err
	}
	fields := strings.Fields(out)
	if len(fields) == 0 {
		return "", false, fmt.Errorf("git rev-list returned nothing for commit %s", commit)
	}
	if len(fields) == 1 {
		return "", false, nil
	}
	return Sha(fields[1]), true, nil
}

func (r *gitRepo) CommitTime(commit Sha) (time.Time, error) {
	out, err := r.git("log", "-1", "--format=%ct", commit.String())
	if err != nil {
		return time.Time{}, err
	}
	seconds, err := strconv.ParseInt(out, 10, 64)
	if err != nil {
		return time.Time{}, errors.Join(fmt.Errorf("commit time %q of %s is not a unix timestamp", out, commit), err)
	}
	return time.Unix(seconds, 0), nil
}

func (r *gitRepo) Checkout(rev string) error {
	if _, err := r.git("checkout", "--quiet", "--force", rev); err != nil {
		return err
	}
	// Update all submodules
	if _, err := r.git("submodule", "update", "--init", "--recursive"); err != nil {
		return err
	}
	return nil
}

func (r *gitRepo) Pull(remote RemoteRef) error {
	_, err := r.git("pull", remote.Name, remote.Branch)
	return err
}

func (r *gitRepo) WorkingCopy(dir string) (Repo, error) {
	sub := &gitRepo{path: dir, mode: r.mode}

	info, err := os.Stat(dir)
	switch {
	case err == nil && !info.IsDir():
		return nil, fmt.Errorf("cannot create a working copy at %s, it is not a directory", dir)
	case err == nil:
		if sub.isWorkingCopyRoot() {
			return sub, nil
		}
		// Left over from an interrupted clone or copy
		if err := os.RemoveAll(dir); err != nil {
			return nil, errors.Join(fmt.Errorf("failed to remove broken working copy at %s", dir), err)
		}
	case !os.IsNotExist(err):
		return nil, err
	}

	switch r.mode {
	case CopyWorkingCopy:
		if err := copy.Copy(r.path, dir, copy.Options{Specials: true}); err != nil {
			return nil, errors.Join(fmt.Errorf("copy of repository %s to %s failed", r.path, dir), err)
		}
	default:
		cmd := exec.Command("git", "clone", "--quiet", r.path, dir)
		if out, err := cmd.CombinedOutput(); err != nil {
			return nil, errors.Join(fmt.Errorf("git clone of repository %s at %s failed, output: %s", r.path, dir, out), err)
		}
	}

	return sub, nil
}

// isWorkingCopyRoot reports whether the repo's path is the top level of a git working tree.
// git searches parent directories for a repository, so an empty directory inside another repo is not one.
func (r *gitRepo) isWorkingCopyRoot() bool {
	top, err := r.git("rev-parse", "--show-toplevel")
	if err != nil {
		return false
	}
	top, err = filepath.EvalSymlinks(top)
	if err != nil {
		return false
	}
	dir, err := filepath.EvalSymlinks(r.path)
	if err != nil {
		return false
	}
	return filepath.Clean(top) == filepath.Clean(dir)
}
