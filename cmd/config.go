package cmd

import (
	"fmt"
	"os"

	"github.com/DominicWuest/backbuild/pkg/backbuild"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective build job configuration",
	Long: `Print the build job configuration with all defaults applied.
The digest of the build commands is printed as well. It changes whenever the build recipe changes,
in which case the already-built file no longer describes builds of the current recipe.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		job := loadJob()

		out, err := job.MarshalConfig()
		if err != nil {
			logrus.Fatalf("Failed to marshal job config - %v", err)
		}

		fmt.Printf("# recipe digest: %s\n", job.RecipeDigest())
		fmt.Print(string(out))
	},
}

// loadJob reads the job from the file passed with --config
func loadJob() *backbuild.Job {
	path := viper.GetString("config")
	file, err := os.Open(path)
	if err != nil {
		logrus.Fatalf("Failed to open job config %s - %v", path, err)
	}
	defer file.Close()

	job, err := backbuild.GetJobFromConfig(file)
	if err != nil {
		logrus.Fatalf("Failed to read job config from %s - %v", path, err)
	}
	return job
}

func init() {
	rootCmd.AddCommand(configCmd)
}
