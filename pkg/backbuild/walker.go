package backbuild

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// commitWalker walks the first-parent history of a repo backwards from HEAD, handing out commits that still need building.
// It is owned by the scheduler and must not be used concurrently.
type commitWalker struct {
	repo Repo

	next *Sha // The next commit to consider, or nil if the walk is exhausted

	inProgress   map[Sha]struct{} // Commits handed out but not yet registered as built
	alreadyBuilt map[Sha]struct{} // Commits in the ledger, whether they built or not

	ledger *Ledger

	pullFrom *RemoteRef // If set, pulled before every search so new commits are picked up

	earliestBuild time.Time // Commits older than this are never built
	hasCutoff     bool

	log *logrus.Entry
}

func newCommitWalker(repo Repo, alreadyBuilt map[Sha]struct{}, ledger *Ledger, pullFrom *RemoteRef, earliestBuild *time.Time, log *logrus.Entry) (*commitWalker, error) {
	head, err := repo.RevParse("HEAD")
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to resolve HEAD of %s", repo.Path()), err)
	}

	if alreadyBuilt == nil {
		alreadyBuilt = make(map[Sha]struct{})
	}

	w := &commitWalker{
		repo: repo,
		next: &head,

		inProgress:   make(map[Sha]struct{}),
		alreadyBuilt: alreadyBuilt,

		ledger: ledger,

		pullFrom: pullFrom,

		log: log,
	}
	if earliestBuild != nil {
		w.earliestBuild = *earliestBuild
		w.hasCutoff = true
	}
	return w, nil
}

// findUnbuiltCommit returns the newest commit at or behind the cursor that is neither built nor being built, and marks it as being built.
// The boolean is false if there is nothing left to build, either because the root commit was passed or because commits got too old.
// Errors resolving commits are returned rather than skipped, since skipping could build commits past the cutoff.
func (w *commitWalker) findUnbuiltCommit() (Sha, bool, error) {
	if w.pullFrom != nil {
		if err := w.pull(); err != nil {
			return "", false, err
		}
	}

	if w.next == nil {
		return "", false, nil
	}

	commit := *w.next
	for {
		// Resolved even without a cutoff, a commit without a readable timestamp is never built
		commitTime, err := w.repo.CommitTime(commit)
		if err != nil {
			return "", false, errors.Join(fmt.Errorf("failed to get commit time of %s", commit), err)
		}
		if w.hasCutoff && commitTime.Before(w.earliestBuild) {
			w.log.Infof("Commit %s from %s is older than %s, not building any further", commit, commitTime, w.earliestBuild)
			w.next = nil
			return "", false, nil
		}

		parent, hasParent, err := w.repo.Parent(commit)
		if err != nil {
			return "", false, errors.Join(fmt.Errorf("failed to get parent of %s", commit), err)
		}

		if !w.isBuilt(commit) && !w.isInProgress(commit) {
			if hasParent {
				w.next = &parent
			} else {
				w.next = nil
			}
			w.inProgress[commit] = struct{}{}
			return commit, true, nil
		}

		if !hasParent {
			w.log.Infof("Reached root commit %s, nothing left to build", commit)
			w.next = nil
			return "", false, nil
		}
		commit = parent
	}
}

// pull pulls from the configured remote and restarts the walk at the new HEAD if it moved.
// A failed pull only gets logged, the walk then continues from where it was.
func (w *commitWalker) pull() error {
	oldHead, err := w.repo.RevParse("HEAD")
	if err != nil {
		return errors.Join(fmt.Errorf("failed to resolve HEAD before pulling"), err)
	}

	if err := w.repo.Pull(*w.pullFrom); err != nil {
		w.log.Warnf("Pulling %s %s failed - %v", w.pullFrom.Name, w.pullFrom.Branch, err)
	}

	newHead, err := w.repo.RevParse("HEAD")
	if err != nil {
		return errors.Join(fmt.Errorf("failed to resolve HEAD after pulling"), err)
	}

	if newHead != oldHead {
		w.log.Infof("HEAD moved from %s to %s, restarting walk", oldHead, newHead)
		w.next = &newHead
	}
	return nil
}

// registerBuilt records the commit as built in the ledger and releases it from the in progress set.
// Registering a commit which isn't in progress is fine.
func (w *commitWalker) registerBuilt(commit Sha, success bool) error {
	delete(w.inProgress, commit)

	status := StatusFailure
	if success {
		status = StatusSuccess
	}
	if err := w.ledger.Append(commit, status); err != nil {
		return err
	}

	w.alreadyBuilt[commit] = struct{}{}
	return nil
}

func (w *commitWalker) isBuilt(commit Sha) bool {
	_, ok := w.alreadyBuilt[commit]
	return ok
}

func (w *commitWalker) isInProgress(commit Sha) bool {
	_, ok := w.inProgress[commit]
	return ok
}

// inFlight returns the commits currently being built, in no particular order
func (w *commitWalker) inFlight() []Sha {
	commits := make([]Sha, 0, len(w.inProgress))
	for commit := range w.inProgress {
		commits = append(commits, commit)
	}
	return commits
}

func (w *commitWalker) builtCount() int {
	return len(w.alreadyBuilt)
}
