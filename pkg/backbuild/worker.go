package backbuild

import (
	"fmt"
	"os/exec"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// A taskWorker builds the commits it is sent on its own goroutine, one at a time.
// The scheduler closes instructions to stop the worker. The worker closes results when it returns,
// so a worker which died is noticed as a closed channel.
type taskWorker struct {
	id string // ID of this worker, used for logging

	instructions chan BuildInstruction // Written by the scheduler, read by the worker
	results      chan BuildResult      // Written by the worker, read by the scheduler

	current Sha // The commit the worker was last sent. Only touched by the scheduler

	buildDir string    // The directory in which a working copy is created for each commit
	repo     Repo      // The main repository, only used for creating working copies
	commands []Command // The build commands, run in order

	log *logrus.Entry
}

func newTaskWorker(id, buildDir string, repo Repo, commands []Command, log *logrus.Entry) *taskWorker {
	return &taskWorker{
		id: id,

		// Buffered so neither side ever waits on the other, the scheduler only sends once it received a result
		instructions: make(chan BuildInstruction, 1),
		results:      make(chan BuildResult, 1),

		buildDir: buildDir,
		repo:     repo,
		commands: commands,

		log: log.WithField("worker-id", id),
	}
}

// send hands the worker its next commit
func (w *taskWorker) send(commit Sha) {
	w.current = commit
	w.instructions <- BuildCommit{Commit: commit}
}

// stop makes the worker return once it is done with its current instruction
func (w *taskWorker) stop() {
	close(w.instructions)
}

// run is the worker's loop. It returns when instructions gets closed, or with an error if a build panicked.
func (w *taskWorker) run() (err error) {
	defer close(w.results)
	defer func() {
		if r := recover(); r != nil {
			w.log.Errorf("Worker panicked - %v", r)
			err = fmt.Errorf("worker %s panicked: %v", w.id, r)
		}
	}()

	for instruction := range w.instructions {
		var result BuildResult
		switch instruction := instruction.(type) {
		case BuildCommit:
			result = w.build(instruction.Commit)
		default:
			panic(fmt.Sprintf("unknown build instruction %T", instruction))
		}

		w.log.Debugf("Finished build of %s with %T", result.Sha(), result)
		w.results <- result
	}

	w.log.Debug("Scheduler hung up, stopping worker")
	return nil
}

// build checks out the commit in its own working copy and runs all build commands in it
func (w *taskWorker) build(commit Sha) BuildResult {
	w.log.Infof("Building %s", commit)

	// build_parent_dir/0088119922aa33bb...77ff
	dir := filepath.Join(w.buildDir, commit.String())
	workingCopy, err := w.repo.WorkingCopy(dir)
	if err != nil {
		w.log.Warnf("Failed to create working copy for %s - %v", commit, err)
		return BuildFailure{Commit: commit}
	}

	if err := workingCopy.Checkout(commit.String()); err != nil {
		w.log.Warnf("Failed to check out %s - %v", commit, err)
		return BuildFailure{Commit: commit}
	}

	if !runCommands(workingCopy.Path(), w.commands, w.log) {
		return BuildFailure{Commit: commit}
	}
	return BuildSuccess{Location: LocalLocation{Path: workingCopy.Path()}, Commit: commit}
}

// runCommands runs the commands in dir one after another and stops at the first one exiting with a non-zero status.
// It returns whether all commands succeeded.
func runCommands(dir string, commands []Command, log *logrus.Entry) bool {
	for _, command := range commands {
		cmd := exec.Command(command.Name, command.Args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		if err != nil {
			log.Warnf("Build command %s failed in %s - %v, output: %s", command, dir, err, out)
			return false
		}
		log.Tracef("Build command %s output:\n%s", command, out)
	}
	return true
}
