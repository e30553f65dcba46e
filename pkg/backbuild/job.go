package backbuild

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "crypto/sha256"

	"github.com/creasty/defaults"
	"github.com/opencontainers/go-digest"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	DefaultLedgerPath   = "already-built.txt"
	defaultPollInterval = 500 * time.Millisecond
)

// jobConfig is the on-disk configuration. It is usually JSON, which yaml.v3 reads just as well.
type jobConfig struct {
	NumLocalBuilders int `yaml:"num_local_builders"`

	BuildParentDir string `yaml:"build_parent_dir"`
	MainRepo       string `yaml:"main_repo"`

	BuildCommands []Command `yaml:"build_commands"`

	Output *OutputMovement `yaml:"output,omitempty"`

	PullFrom *RemoteRef `yaml:"pull_from,omitempty"`

	EarliestBuild *int64 `yaml:"earliest_build,omitempty"`

	WhenFinished []Command `yaml:"when_finished"`

	PollIntervalMs int    `yaml:"poll_interval_ms" default:"500"`
	WorkingCopy    string `yaml:"working_copy" default:"clone"`
}

// GetJobFromConfig reads in a job config in json or yaml format from a reader and initializes the corresponding job struct
func GetJobFromConfig(r io.Reader) (*Job, error) {
	var config jobConfig

	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&config); err != nil {
		return nil, err
	}
	if err := defaults.Set(&config); err != nil {
		return nil, err
	}

	mode := WorkingCopyMode(strings.ToLower(config.WorkingCopy))
	if mode != CloneWorkingCopy && mode != CopyWorkingCopy {
		return nil, fmt.Errorf("invalid working copy mode %q, must be %q or %q", config.WorkingCopy, CloneWorkingCopy, CopyWorkingCopy)
	}
	if config.NumLocalBuilders < 0 {
		return nil, fmt.Errorf("num_local_builders must not be negative, got %d", config.NumLocalBuilders)
	}

	job := Job{
		NumLocalBuilders: config.NumLocalBuilders,

		BuildParentDir: config.BuildParentDir,
		MainRepo:       config.MainRepo,

		BuildCommands: config.BuildCommands,
		WhenFinished:  config.WhenFinished,

		Output:   config.Output,
		PullFrom: config.PullFrom,

		PollInterval: time.Duration(config.PollIntervalMs) * time.Millisecond,
		WorkingCopy:  mode,
	}
	if config.EarliestBuild != nil {
		earliest := time.Unix(*config.EarliestBuild, 0)
		job.EarliestBuild = &earliest
	}

	return &job, nil
}

// A Job builds every commit reachable from HEAD of a repository which was not built before.
type Job struct {
	NumLocalBuilders int // The maximum amount of builds running at once. With 0, nothing gets built

	BuildParentDir string // The directory in which a working copy is created for each commit
	MainRepo       string // The path to the repository whose commits are built

	BuildCommands []Command // The commands building a commit, run in order in the commit's working copy
	WhenFinished  []Command // The commands run once there is nothing left to build. Failures are only logged

	Output *OutputMovement // Where to move the artifacts of successful builds. If nil, working copies are left as they are

	PullFrom *RemoteRef // The remote branch pulled from before looking for the next commit. If nil, the repo is never pulled

	EarliestBuild *time.Time // Commits older than this are not built. If nil, all commits are built

	PollInterval time.Duration // How long to sleep when no worker had a result
	WorkingCopy  WorkingCopyMode

	LedgerPath string // The path to the ledger of already built commits

	Log *logrus.Logger // The log to which information gets printed to

	repo Repo // Used instead of a git repo at MainRepo if set

	status statusBoard
}

// Run builds commits until there is nothing left to build, then runs WhenFinished.
// Build failures are recorded in the ledger. An error is returned if the run could not start,
// if walking the history failed, or if moving artifacts or writing the ledger failed.
func (j *Job) Run() error {
	// Init the logger
	if j.Log == nil {
		// Mute logger
		j.Log = logrus.New()
		j.Log.SetOutput(io.Discard)
	}
	if j.PollInterval <= 0 {
		j.PollInterval = defaultPollInterval
	}
	if j.LedgerPath == "" {
		j.LedgerPath = DefaultLedgerPath
	}

	if err := j.checkDirectories(); err != nil {
		return err
	}

	ledger, err := OpenLedger(j.LedgerPath)
	if err != nil {
		return err
	}
	defer ledger.Close()

	built, err := ledger.Load()
	if err != nil {
		return err
	}
	j.Log.Infof("Found %d already built commits", len(built))

	recipe := j.RecipeDigest()
	j.Log.Infof("Build recipe %s, running with max %d workers", recipe, j.NumLocalBuilders)

	repo := j.repo
	if repo == nil {
		repo = NewGitRepo(j.MainRepo, j.WorkingCopy)
	}

	walker, err := newCommitWalker(repo, built, ledger, j.PullFrom, j.EarliestBuild, j.Log.WithField("component", "walker"))
	if err != nil {
		return err
	}

	j.status.update(func(s *Status) {
		*s = Status{Started: time.Now(), RecipeDigest: recipe, AlreadyBuilt: walker.builtCount()}
	})

	return newScheduler(j, repo, walker).run()
}

// Status returns a snapshot of the job's progress. It is safe to call while the job is running.
func (j *Job) Status() Status {
	return j.status.snapshot()
}

// RecipeDigest returns a digest of the build commands, telling apart runs which built commits differently
func (j *Job) RecipeDigest() string {
	lines := make([]string, 0, len(j.BuildCommands))
	for _, command := range j.BuildCommands {
		lines = append(lines, command.Name+"\x00"+strings.Join(command.Args, "\x00"))
	}
	return digest.FromString(strings.Join(lines, "\n")).String()
}

// MarshalConfig returns the job's configuration in yaml
func (j *Job) MarshalConfig() ([]byte, error) {
	config := jobConfig{
		NumLocalBuilders: j.NumLocalBuilders,

		BuildParentDir: j.BuildParentDir,
		MainRepo:       j.MainRepo,

		BuildCommands: j.BuildCommands,
		WhenFinished:  j.WhenFinished,

		Output:   j.Output,
		PullFrom: j.PullFrom,

		PollIntervalMs: int(j.PollInterval / time.Millisecond),
		WorkingCopy:    string(j.WorkingCopy),
	}
	if j.EarliestBuild != nil {
		earliest := j.EarliestBuild.Unix()
		config.EarliestBuild = &earliest
	}
	return yaml.Marshal(config)
}

// checkDirectories makes sure all configured directories exist
func (j *Job) checkDirectories() error {
	dirs := map[string]string{
		"build_parent_dir": j.BuildParentDir,
		"main_repo":        j.MainRepo,
	}
	if j.Output != nil {
		dirs["output.parent_dir"] = j.Output.ParentDir
	}

	for name, dir := range dirs {
		if err := isDir(dir); err != nil {
			return errors.Join(fmt.Errorf("%s is invalid", name), err)
		}
	}
	return nil
}

func isDir(path string) error {
	if path == "" {
		return fmt.Errorf("no directory set")
	}
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		abs, _ := filepath.Abs(path)
		return fmt.Errorf("%s is not a directory", abs)
	}
	return nil
}
