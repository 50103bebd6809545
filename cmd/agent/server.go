package agent

import (
	"github.com/spf13/cobra"

	"github.com/wave-collector/pkg/config"
)

var defaultCfg = config.NewDefaultConfig()

func initServerFlags(root *cobra.Command) {
	f := root.PersistentFlags()

	f.String("server.addr", defaultCfg.Server.Addr, "-> HTTP listening address")
	f.Duration("server.read_timeout", defaultCfg.Server.ReadTimeout, "-> Read timeout duration")
	f.Duration("server.write_timeout", defaultCfg.Server.WriteTimeout, "-> Write timeout duration")
	f.Duration("server.idle_timeout", defaultCfg.Server.IdleTimeout, "-> Idle connection timeout duration")
}
