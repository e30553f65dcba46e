package backbuild

import (
	"slices"
	"sync"
	"time"
)

// How many results are kept in Status.Recent
const recentResultsCount = 20

// A FinishedBuild is a build which completed during this run
type FinishedBuild struct {
	Commit   Sha       `json:"commit"`
	Success  bool      `json:"success"`
	Finished time.Time `json:"finished"`
}

// Status is a snapshot of a running job
type Status struct {
	Started      time.Time `json:"started"`
	RecipeDigest string    `json:"recipeDigest"` // Digest of the build commands

	Workers  int   `json:"workers"`  // Workers currently in the pool
	InFlight []Sha `json:"inFlight"` // Commits currently being built

	AlreadyBuilt int `json:"alreadyBuilt"` // Commits in the ledger, including the ones built this run
	Succeeded    int `json:"succeeded"`    // Successful builds this run
	Failed       int `json:"failed"`       // Failed builds this run

	Recent []FinishedBuild `json:"recent"` // The latest finished builds, newest first

	Done bool `json:"done"`
}

// statusBoard holds the latest status. The scheduler writes it, anything may read it.
type statusBoard struct {
	mu     sync.Mutex
	status Status
}

func (b *statusBoard) update(f func(s *Status)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	f(&b.status)
}

func (b *statusBoard) snapshot() Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.status
	s.InFlight = slices.Clone(b.status.InFlight)
	s.Recent = slices.Clone(b.status.Recent)
	return s
}

// recordFinished adds a finished build to the counters and the recent list
func (s *Status) recordFinished(commit Sha, success bool, at time.Time) {
	if success {
		s.Succeeded++
	} else {
		s.Failed++
	}
	s.Recent = append([]FinishedBuild{{Commit: commit, Success: success, Finished: at}}, s.Recent...)
	if len(s.Recent) > recentResultsCount {
		s.Recent = s.Recent[:recentResultsCount]
	}
}
