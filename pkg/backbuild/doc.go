/*
Package backbuild provides a Go interface for continuously building the history of a git repository.

Jobs can most easily be created by passing in a config to [GetJobFromConfig], but can also be created manually by populating a [Job] struct.
For a manually created job to work, at least the following fields have to be populated:
  - NumLocalBuilders
  - BuildParentDir
  - MainRepo
  - BuildCommands

A job walks the first-parent history of the main repository backwards from HEAD and builds every commit it finds which is not yet in the ledger.
Up to NumLocalBuilders commits are built at once, each in its own working copy at BuildParentDir/<commit>.
A commit is built by running the build commands in order, stopping at the first one that fails.

Every finished build is appended to the ledger, whether it succeeded or not. Commits in the ledger are never built again,
which means a build that failed for reasons unrelated to the commit, such as a full disk, is not retried either.
Remove its line from the ledger to build it again.

The walk stops at the root commit or at the first commit older than EarliestBuild.
If PullFrom is set, the repository is pulled before looking for each next commit, and the walk restarts from the new HEAD if it moved.

After all builds are done, [Job.Run] runs the WhenFinished commands and returns.
While it runs, [Job.Status] reports its progress.
*/
package backbuild
