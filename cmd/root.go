package cmd

import (
	"os"
	"strings"

	"github.com/DominicWuest/backbuild/internal/server"
	"github.com/DominicWuest/backbuild/pkg/backbuild"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

var verbosity int
var quiet bool

var rootCmd = &cobra.Command{
	Use:   "backbuild",
	Short: "Build every commit of a repository, newest first, with a pool of local builders",
	Long: `Build every commit of a repository, newest first, with a pool of local builders.

Commits are walked from HEAD towards the root along first parents. Every build is
recorded in the already-built file, so an interrupted run picks up where it left off.
If pull_from is configured, new commits on the remote are built as they arrive.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		job := loadJob()
		job.LedgerPath = viper.GetString("already-built")
		job.Log = newLogger()

		if port := viper.GetInt("status-port"); port > 0 {
			if verbosity == 0 {
				gin.SetMode(gin.ReleaseMode)
			}
			if _, err := server.NewServer(port, job); err != nil {
				logrus.Fatalf("Failed to start status server - %v", err)
			}
			logrus.Infof("Serving build status on port %d", port)
		}

		if err := job.Run(); err != nil {
			logrus.Fatalf("Build run failed - %v", err)
		}
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringP("config", "c", "config.json", "The JSON or YAML file describing the build job")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	rootCmd.PersistentFlags().StringP("already-built", "a", backbuild.DefaultLedgerPath, "The file recording already built commits")
	_ = viper.BindPFlag("already-built", rootCmd.PersistentFlags().Lookup("already-built"))
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase logging verbosity, can be repeated")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Only log failed builds and errors")

	rootCmd.Flags().Int("status-port", 0, "The port on which to serve the build status, 0 to disable")
	_ = viper.BindPFlag("status-port", rootCmd.Flags().Lookup("status-port"))
}

func initConfig() {
	viper.SetEnvPrefix("BACKBUILD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	logrus.SetFormatter(newFormatter())
	logrus.SetLevel(logLevel())
}

func newFormatter() logrus.Formatter {
	return &prefixed.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	}
}

// logLevel maps the verbosity flags to a log level, info being the default
func logLevel() logrus.Level {
	if quiet {
		return logrus.WarnLevel
	}
	switch verbosity {
	case 0:
		return logrus.InfoLevel
	case 1:
		return logrus.DebugLevel
	default:
		return logrus.TraceLevel
	}
}

// newLogger returns the logger handed to a job
func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(newFormatter())
	log.SetLevel(logLevel())
	return log
}
