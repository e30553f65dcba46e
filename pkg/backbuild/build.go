package backbuild

import "fmt"

// A Command is an executable together with its arguments, run in the root of a working copy.
type Command struct {
	Name string   `yaml:"name"`
	Args []string `yaml:"args"`
}

func (c Command) String() string {
	return fmt.Sprintf("%s %v", c.Name, c.Args)
}

// A BuildInstruction is sent from the scheduler to a worker.
type BuildInstruction interface {
	isBuildInstruction()
}

// BuildCommit asks a worker to build a single commit.
type BuildCommit struct {
	Commit Sha
}

func (BuildCommit) isBuildInstruction() {}

// A BuildLocation tells where the artifacts of a successful build are.
// Only local builds exist for now, but a remote builder would add its own location here.
type BuildLocation interface {
	Describe() string

	isBuildLocation()
}

// LocalLocation is a directory on this machine holding the working copy a commit was built in.
type LocalLocation struct {
	Path string
}

func (l LocalLocation) Describe() string {
	return l.Path
}

func (LocalLocation) isBuildLocation() {}

// A BuildResult is sent from a worker back to the scheduler, exactly once per instruction.
type BuildResult interface {
	Sha() Sha

	isBuildResult()
}

// BuildSuccess means every build command exited with status zero.
type BuildSuccess struct {
	Location BuildLocation
	Commit   Sha
}

func (r BuildSuccess) Sha() Sha { return r.Commit }

func (BuildSuccess) isBuildResult() {}

// BuildFailure means the commit could not be checked out or one of the build commands failed.
type BuildFailure struct {
	Commit Sha
}

func (r BuildFailure) Sha() Sha { return r.Commit }

func (BuildFailure) isBuildResult() {}
