package cmd

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/DominicWuest/backbuild/pkg/backbuild"
	"github.com/manifoldco/promptui"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cleanAll bool
var cleanAgree bool

var cleanCmd = &cobra.Command{
	Use:     "clean",
	Aliases: []string{"prune", "cleanup"},
	Short:   "Remove working copies left behind in the build directory",
	Long: `This command removes the working copies backbuild left behind in build_parent_dir.
These are working copies of failed builds and of builds that were interrupted.
Working copies of successful builds are kept unless --all is passed, since they hold the build artifacts if no output is configured.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		job := loadJob()

		statuses, err := ledgerStatuses(viper.GetString("already-built"))
		if err != nil {
			logrus.Fatalf("Couldn't read already built commits - %v", err)
		}

		dirs, err := leftoverWorkingCopies(job.BuildParentDir, statuses, cleanAll)
		if err != nil {
			logrus.Fatalf("Couldn't list working copies - %v", err)
		}

		if len(dirs) == 0 {
			logrus.Info("No working copies to remove. Exiting...")
			return
		}

		logrus.Infof("About to delete %d working copies in %s.", len(dirs), job.BuildParentDir)

		prompt := promptui.Prompt{
			Label:     "Proceed",
			IsConfirm: true,
		}

		if !cleanAgree {
			_, err := prompt.Run()
			if err != nil {
				logrus.Info("Exiting...")
				os.Exit(0)
			}
		}

		for _, dir := range dirs {
			logrus.Infof("Deleting working copy %s", dir)
			if err := os.RemoveAll(dir); err != nil {
				logrus.Fatalf("Failed to remove working copy %s - %v", dir, err)
			}
		}

		logrus.Info("Done cleaning up.")
	},
}

// ledgerStatuses reads the ledger at path without creating it
func ledgerStatuses(path string) (map[backbuild.Sha]backbuild.LedgerStatus, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return map[backbuild.Sha]backbuild.LedgerStatus{}, nil
	}

	ledger, err := backbuild.OpenLedger(path)
	if err != nil {
		return nil, err
	}
	defer ledger.Close()

	return ledger.LoadStatuses()
}

// leftoverWorkingCopies returns the working copies in buildDir that may be removed.
// Working copies of successful builds are only included if all is set.
func leftoverWorkingCopies(buildDir string, statuses map[backbuild.Sha]backbuild.LedgerStatus, all bool) ([]string, error) {
	entries, err := os.ReadDir(buildDir)
	if err != nil {
		return nil, err
	}

	var dirs []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if statuses[backbuild.Sha(entry.Name())] == backbuild.StatusSuccess && !all {
			continue
		}
		dirs = append(dirs, filepath.Join(buildDir, entry.Name()))
	}
	return dirs, nil
}

func init() {
	rootCmd.AddCommand(cleanCmd)

	cleanCmd.Flags().BoolVarP(&cleanAll, "all", "A", false, "Also delete working copies of successful builds.")
	cleanCmd.Flags().BoolVarP(&cleanAgree, "assume-yes", "y", false, `Bypass "Are you sure?" message.`)
}
