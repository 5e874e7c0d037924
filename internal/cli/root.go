package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/quarry-io/quarry/internal/logging"
)

var (
	rootStateDir string
	rootLogLevel string
	rootBackend  string
	rootBackendC map[string]string
	rootRegion   string
)

var rootCmd = &cobra.Command{
	Use:   "quarry",
	Short: "Declarative infrastructure deployment",
	Long: `Quarry deploys declarative resource descriptors against a cloud
provisioning API with:
  • Dependency-ordered, idempotent applies
  • Drift detection via content-hashed diffs
  • Automatic rollback of partially applied deployments`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(rootLogLevel)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command under ctx so an interrupt cancels
// in-flight engine work.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootStateDir, "state-dir", ".quarry", "Directory for local state files")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&rootBackend, "backend", "local", "State backend (local or s3)")
	rootCmd.PersistentFlags().StringToStringVar(&rootBackendC, "backend-config", nil, "Backend settings (format: key=value)")
	rootCmd.PersistentFlags().StringVar(&rootRegion, "region", "", "AWS region for the aws provider")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(versionCmd)
}
