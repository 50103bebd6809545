package agent

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wave-collector/pkg/config"
)

var cfgFile string

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wave-collector",
		Short: "Seismometer acquisition agent: SeedLink, Winston or FDSN in, filtered windows out",
		Long: `wave-collector pulls raw samples of one seismometer channel from a SeedLink server,
a Winston wave server or an FDSN dataselect service, filters them and publishes one
window per upstream chunk on WebSocket and NATS. Settings come from the YAML file,
WAVE_* environment variables (e.g. WAVE_SOURCE_KIND) and the flags below.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfigWithCli(cmd)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				fmt.Fprintf(os.Stderr, "check the config file path or pass one with -c\n")
				return err
			}
			return runAgent(cmd.Context(), cfg)
		},
	}

	cmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "configs/config.yaml", "-> Config file path")
	initServerFlags(cmd)
	initSourceFlags(cmd)
	initLogFlags(cmd)
	return cmd
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
