package agent

import (
	"github.com/spf13/cobra"
)

func initLogFlags(root *cobra.Command) {
	f := root.PersistentFlags()
	logPrefix := "log."

	f.String(
		logPrefix+"level",
		defaultCfg.Log.Level,
		"-> Log level [debug,info,warn,error]")
	f.String(
		logPrefix+"format",
		defaultCfg.Log.Format,
		"-> Log file format [json,console]")
	f.String(
		logPrefix+"path",
		defaultCfg.Log.Path,
		"-> Log file directory")
	f.Int(
		logPrefix+"max_age",
		defaultCfg.Log.MaxAge,
		"-> Days to keep rotated log files")
}
