package backbuild

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Fails the build of every commit whose name starts with "bad"
var failBadCommits = Command{Name: "sh", Args: []string{"-c", `case "$(basename "$PWD")" in bad*) exit 1;; esac`}}

func newTestJob(t *testing.T, repo Repo, workers int, commands ...Command) *Job {
	return &Job{
		NumLocalBuilders: workers,

		BuildParentDir: t.TempDir(),
		MainRepo:       t.TempDir(),

		BuildCommands: commands,

		PollInterval: time.Millisecond,
		LedgerPath:   filepath.Join(t.TempDir(), "already-built.txt"),

		Log: mutedLog().Logger,

		repo: repo,
	}
}

// ledgerLines returns the lines of the job's ledger
func ledgerLines(t *testing.T, job *Job) []string {
	contents, err := os.ReadFile(job.LedgerPath)
	require.NoError(t, err)
	if len(contents) == 0 {
		return nil
	}
	return strings.Split(strings.TrimSuffix(string(contents), "\n"), "\n")
}

// panicRepo makes every build panic while creating its working copy
type panicRepo struct {
	*fakeRepo
}

func (panicRepo) WorkingCopy(dir string) (Repo, error) {
	panic("boom")
}

func TestJobRun(t *testing.T) {
	t.Run("Pool drains to completion", func(t *testing.T) {
		repo := newLinearRepo("", "C3", "C2", "C1")
		job := newTestJob(t, repo, 2, Command{Name: "true"})

		require.NoError(t, job.Run())

		assert.ElementsMatch(t, []string{"C3:success", "C2:success", "C1:success"}, ledgerLines(t, job))
		assert.ElementsMatch(t, []Sha{"C3", "C2", "C1"}, repo.history.checkouts, "Every commit must be built exactly once")

		status := job.Status()
		assert.Equal(t, 3, status.Succeeded)
		assert.Equal(t, 0, status.Failed)
		assert.Equal(t, 3, status.AlreadyBuilt)
		assert.Equal(t, 0, status.Workers)
		assert.Empty(t, status.InFlight)
		assert.True(t, status.Done)
	})

	t.Run("More workers than commits", func(t *testing.T) {
		repo := newLinearRepo("", "A", "B")
		job := newTestJob(t, repo, 8, Command{Name: "true"})

		require.NoError(t, job.Run())
		assert.ElementsMatch(t, []string{"A:success", "B:success"}, ledgerLines(t, job))
	})

	t.Run("Failures are recorded and not retried", func(t *testing.T) {
		repo := newLinearRepo("", "good3", "bad2", "good1", "bad0")
		job := newTestJob(t, repo, 2, failBadCommits)

		require.NoError(t, job.Run())
		assert.ElementsMatch(t, []string{"good3:success", "bad2:failure", "good1:success", "bad0:failure"}, ledgerLines(t, job))
		assert.Equal(t, 2, job.Status().Failed)

		// A second run over the same ledger builds nothing
		again := newTestJob(t, repo, 2, failBadCommits)
		again.LedgerPath = job.LedgerPath
		require.NoError(t, again.Run())
		assert.Len(t, repo.history.checkouts, 4, "Commits from the ledger were built again")
		assert.Len(t, ledgerLines(t, again), 4)
	})

	t.Run("Failed checkout is recorded", func(t *testing.T) {
		repo := newLinearRepo("", "A", "B")
		repo.history.failCheckout["A"] = true
		job := newTestJob(t, repo, 1, Command{Name: "true"})

		require.NoError(t, job.Run())
		assert.Equal(t, []string{"A:failure", "B:success"}, ledgerLines(t, job))
	})

	t.Run("Stops at cutoff", func(t *testing.T) {
		repo := newLinearRepo("", "H", "P1", "P2", "P3")
		job := newTestJob(t, repo, 3, Command{Name: "true"})
		cutoff := repo.history.times["P2"]
		job.EarliestBuild = &cutoff

		require.NoError(t, job.Run())
		assert.ElementsMatch(t, []string{"H:success", "P1:success", "P2:success"}, ledgerLines(t, job))
	})

	t.Run("Moves artifacts of successful builds", func(t *testing.T) {
		repo := newLinearRepo("", "good1", "bad0")
		build := Command{Name: "sh", Args: []string{"-c", "mkdir -p out && echo artifact > out/app.bin && touch junk"}}
		job := newTestJob(t, repo, 2, build, failBadCommits)
		job.Output = &OutputMovement{ParentDir: t.TempDir(), ToMove: []string{"out/*.bin"}}

		require.NoError(t, job.Run())

		assert.FileExists(t, filepath.Join(job.Output.ParentDir, "good1", "app.bin"))
		assert.NoFileExists(t, filepath.Join(job.Output.ParentDir, "good1", "junk"))
		assert.NoDirExists(t, filepath.Join(job.BuildParentDir, "good1"), "Working copy of successful build not removed")
		assert.NoDirExists(t, filepath.Join(job.Output.ParentDir, "bad0"), "Artifacts of failed build moved")
		assert.DirExists(t, filepath.Join(job.BuildParentDir, "bad0"), "Working copy of failed build removed")
	})

	t.Run("Failed relocation is fatal", func(t *testing.T) {
		repo := newLinearRepo("", "A", "B")
		job := newTestJob(t, repo, 1, Command{Name: "true"})
		job.Output = &OutputMovement{ParentDir: t.TempDir(), ToMove: []string{"missing"}}

		assert.Error(t, job.Run())
		assert.Empty(t, ledgerLines(t, job), "Commit recorded although its artifacts were lost")
	})

	t.Run("Runs when_finished", func(t *testing.T) {
		marker := filepath.Join(t.TempDir(), "finished")
		repo := newLinearRepo("", "A")
		job := newTestJob(t, repo, 1, Command{Name: "true"})
		job.WhenFinished = []Command{
			{Name: "false"},
			{Name: "touch", Args: []string{marker}},
		}

		require.NoError(t, job.Run(), "Failing when_finished command must not fail the run")
		assert.FileExists(t, marker)
	})

	t.Run("No workers builds nothing", func(t *testing.T) {
		marker := filepath.Join(t.TempDir(), "finished")
		repo := newLinearRepo("", "A")
		job := newTestJob(t, repo, 0, Command{Name: "true"})
		job.WhenFinished = []Command{{Name: "touch", Args: []string{marker}}}

		require.NoError(t, job.Run())
		assert.Empty(t, ledgerLines(t, job))
		assert.Empty(t, repo.history.checkouts)
		assert.FileExists(t, marker)
	})

	t.Run("Picks up pulled commits", func(t *testing.T) {
		repo := newLinearRepo("", "H", "P1")
		repo.history.onPull = func(h *fakeHistory) {
			// New commit arrives once H and P1 were handed out
			if h.pulls == 3 {
				h.commitOnTop("N")
			}
		}
		job := newTestJob(t, repo, 1, Command{Name: "true"})
		job.PullFrom = &RemoteRef{Name: "origin", Branch: "main"}

		require.NoError(t, job.Run())
		assert.Equal(t, []string{"H:success", "P1:success", "N:success"}, ledgerLines(t, job))
	})

	t.Run("Dead workers are retired", func(t *testing.T) {
		repo := newLinearRepo("", "C3", "C2", "C1")
		job := newTestJob(t, panicRepo{repo}, 2, Command{Name: "true"})

		err := job.Run()
		assert.ErrorContains(t, err, "boom")
		assert.Empty(t, ledgerLines(t, job), "Commits of dead workers recorded")
		assert.Empty(t, repo.history.checkouts)

		status := job.Status()
		assert.True(t, status.Done)
		assert.Equal(t, 0, status.Workers)
		// C1 never gets sent to a dead worker
		assert.Equal(t, []Sha{"C2", "C3"}, status.InFlight)
	})

	t.Run("Missing directory is fatal", func(t *testing.T) {
		job := newTestJob(t, newLinearRepo("", "A"), 1)
		job.BuildParentDir = filepath.Join(job.BuildParentDir, "missing")

		assert.Error(t, job.Run())
	})

	t.Run("Missing output directory is fatal", func(t *testing.T) {
		job := newTestJob(t, newLinearRepo("", "A"), 1)
		job.Output = &OutputMovement{ParentDir: filepath.Join(t.TempDir(), "missing")}

		assert.Error(t, job.Run())
	})

	t.Run("Missing HEAD is fatal", func(t *testing.T) {
		job := newTestJob(t, newLinearRepo(""), 1)

		assert.Error(t, job.Run())
	})
}
