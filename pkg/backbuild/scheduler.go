package backbuild

import (
	"os/exec"
	"slices"
	"time"

	"github.com/dchest/uniuri"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// scheduler hands out commits from the walker to a pool of workers and collects their results.
// It is the only user of the walker and the ledger, so neither needs locking.
type scheduler struct {
	job    *Job
	repo   Repo
	walker *commitWalker

	workers []*taskWorker // Workers which are building a commit or just finished one
	group   errgroup.Group

	log *logrus.Entry
}

func newScheduler(job *Job, repo Repo, walker *commitWalker) *scheduler {
	return &scheduler{
		job:    job,
		repo:   repo,
		walker: walker,
		log:    job.Log.WithField("component", "scheduler"),
	}
}

// run builds until no worker is left, then runs the WhenFinished commands
func (s *scheduler) run() (err error) {
	defer func() {
		if err != nil {
			// Let the remaining workers exit after their current build
			for _, w := range s.workers {
				w.stop()
			}
			s.workers = nil
		}
	}()

	if err = s.start(); err != nil {
		return err
	}
	if err = s.loop(); err != nil {
		return err
	}

	s.log.Info("No more builds, running when_finished")
	runFinishCommands(s.job.WhenFinished, s.log)

	err = s.group.Wait()
	s.publish(true)
	return err
}

// start creates a worker for every commit to build, up to the maximum amount of workers.
// No worker is created without a commit to build.
func (s *scheduler) start() error {
	for i := 0; i < s.job.NumLocalBuilders; i++ {
		commit, ok, err := s.walker.findUnbuiltCommit()
		if err != nil {
			return err
		}
		if !ok {
			s.log.Info("No more commits to build")
			break
		}

		w := newTaskWorker(uniuri.NewLen(6), s.job.BuildParentDir, s.repo, s.job.BuildCommands, s.log)
		s.group.Go(w.run)

		s.log.Infof("Sending %s to worker %d (%s)", commit, i, w.id)
		w.send(commit)
		s.workers = append(s.workers, w)
	}
	s.publish(false)
	return nil
}

// loop polls the workers in order until none are left. It sleeps if a full pass found no results.
func (s *scheduler) loop() error {
	for len(s.workers) > 0 {
		foundMessage := false

		for i := 0; i < len(s.workers); {
			w := s.workers[i]

			var result BuildResult
			var open bool
			select {
			case result, open = <-w.results:
			default:
				i++
				continue
			}
			foundMessage = true

			if !open {
				s.log.Warnf("Worker %s hung up while building %s, removing it", w.id, w.current)
				s.removeWorker(i)
				continue
			}

			if err := s.handleResult(result); err != nil {
				return err
			}

			// Get back to work
			commit, ok, err := s.walker.findUnbuiltCommit()
			if err != nil {
				return err
			}
			if !ok {
				s.log.Debugf("Removing worker %s, nothing left to build", w.id)
				w.stop()
				s.removeWorker(i)
				continue
			}
			s.log.Infof("Sending %s to worker %s", commit, w.id)
			w.send(commit)
			i++
		}

		if foundMessage {
			s.publish(false)
		} else {
			time.Sleep(s.job.PollInterval)
		}
	}
	return nil
}

// handleResult moves the artifacts of a successful build and records the result in the ledger
func (s *scheduler) handleResult(result BuildResult) error {
	commit := result.Sha()
	log := s.log.WithField("commit", commit)

	switch result := result.(type) {
	case BuildFailure:
		log.Warnf("%s failed.", commit)
		if err := s.walker.registerBuilt(commit, false); err != nil {
			return err
		}
		s.recordFinished(commit, false)

	case BuildSuccess:
		log.Infof("%s succeeded.", commit)
		if s.job.Output != nil {
			if err := relocateArtifacts(result.Location, commit, *s.job.Output); err != nil {
				return err
			}
			log.Debugf("Moved artifacts of %s to %s", commit, s.job.Output.ParentDir)
		}
		if err := s.walker.registerBuilt(commit, true); err != nil {
			return err
		}
		s.recordFinished(commit, true)
	}
	return nil
}

// removeWorker removes the worker at index i, keeping the order of the others
func (s *scheduler) removeWorker(i int) {
	s.workers = slices.Delete(s.workers, i, i+1)
}

func (s *scheduler) recordFinished(commit Sha, success bool) {
	now := time.Now()
	s.job.status.update(func(st *Status) {
		st.recordFinished(commit, success, now)
	})
}

// publish updates the job's status with the current state of the pool and the walker
func (s *scheduler) publish(done bool) {
	inFlight := s.walker.inFlight()
	slices.Sort(inFlight)
	workers := len(s.workers)
	built := s.walker.builtCount()

	s.job.status.update(func(st *Status) {
		st.Workers = workers
		st.InFlight = inFlight
		st.AlreadyBuilt = built
		st.Done = done
	})
}

// runFinishCommands runs all commands in the current directory. Failures are logged and don't stop later commands.
func runFinishCommands(commands []Command, log *logrus.Entry) {
	for _, command := range commands {
		log.Debugf("Running %s", command)
		out, err := exec.Command(command.Name, command.Args...).CombinedOutput()
		if err != nil {
			log.Errorf("%s failed - %v, output: %s", command.Name, err, out)
			continue
		}
		log.Tracef("%s output:\n%s", command.Name, out)
	}
}
