package backbuild

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// fakeHistory is a commit graph shared by a fakeRepo and all of its working copies
type fakeHistory struct {
	mu sync.Mutex

	head    Sha
	parents map[Sha]Sha // Commits missing from this map are root commits
	times   map[Sha]time.Time

	onPull  func(h *fakeHistory) // Called with mu held on every pull
	pullErr error
	pulls   int

	failParent   map[Sha]bool // Commits whose parent lookup fails
	failCheckout map[Sha]bool
	checkouts    []Sha
}

// fakeRepo implements Repo without git
type fakeRepo struct {
	path    string
	history *fakeHistory
}

var baseTime = time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

// newLinearRepo returns a repo with a linear history where commits[0] is HEAD and commits[len-1] the root commit.
// Each commit is one hour older than its child.
func newLinearRepo(path string, commits ...Sha) *fakeRepo {
	h := &fakeHistory{
		parents:      make(map[Sha]Sha),
		times:        make(map[Sha]time.Time),
		failCheckout: make(map[Sha]bool),
	}
	if len(commits) > 0 {
		h.head = commits[0]
	}
	for i, commit := range commits {
		h.times[commit] = baseTime.Add(time.Duration(len(commits)-i) * time.Hour)
		if i+1 < len(commits) {
			h.parents[commit] = commits[i+1]
		}
	}
	return &fakeRepo{path: path, history: h}
}

// commitOnTop adds a new commit as the child of HEAD and moves HEAD to it. mu must be held.
func (h *fakeHistory) commitOnTop(commit Sha) {
	h.parents[commit] = h.head
	h.times[commit] = h.times[h.head].Add(time.Hour)
	h.head = commit
}

func (r *fakeRepo) RevParse(rev string) (Sha, error) {
	r.history.mu.Lock()
	defer r.history.mu.Unlock()

	if rev == "HEAD" {
		if r.history.head == "" {
			return "", fmt.Errorf("no HEAD")
		}
		return r.history.head, nil
	}
	if _, ok := r.history.times[Sha(rev)]; ok {
		return Sha(rev), nil
	}
	return "", fmt.Errorf("unknown revision %s", rev)
}

func (r *fakeRepo) Parent(commit Sha) (Sha, bool, error) {
	r.history.mu.Lock()
	defer r.history.mu.Unlock()

	if _, ok := r.history.times[commit]; !ok || r.history.failParent[commit] {
		return "", false, fmt.Errorf("unknown commit %s", commit)
	}
	parent, ok := r.history.parents[commit]
	return parent, ok, nil
}

func (r *fakeRepo) CommitTime(commit Sha) (time.Time, error) {
	r.history.mu.Lock()
	defer r.history.mu.Unlock()

	t, ok := r.history.times[commit]
	if !ok {
		return time.Time{}, fmt.Errorf("unknown commit %s", commit)
	}
	return t, nil
}

func (r *fakeRepo) Checkout(rev string) error {
	r.history.mu.Lock()
	defer r.history.mu.Unlock()

	if r.history.failCheckout[Sha(rev)] {
		return fmt.Errorf("checkout of %s failed", rev)
	}
	r.history.checkouts = append(r.history.checkouts, Sha(rev))
	return nil
}

func (r *fakeRepo) Pull(remote RemoteRef) error {
	r.history.mu.Lock()
	defer r.history.mu.Unlock()

	r.history.pulls++
	if r.history.pullErr != nil {
		return r.history.pullErr
	}
	if r.history.onPull != nil {
		r.history.onPull(r.history)
	}
	return nil
}

func (r *fakeRepo) WorkingCopy(dir string) (Repo, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &fakeRepo{path: dir, history: r.history}, nil
}

func (r *fakeRepo) Path() string {
	return r.path
}
