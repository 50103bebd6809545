package agent

import (
	"github.com/spf13/cobra"
)

// initSourceFlags registers station, source and sink flags. Flag names match the
// YAML keys so the same names work as WAVE_* environment variables.
func initSourceFlags(root *cobra.Command) {
	f := root.PersistentFlags()

	f.String("station.network", defaultCfg.Station.Network, "-> Network code")
	f.String("station.station", defaultCfg.Station.Station, "-> Station code")
	f.String("station.location", defaultCfg.Station.Location, "-> Location code, empty for none")
	f.String("station.channel", defaultCfg.Station.Channel, "-> Channel code")

	f.String("source.kind", defaultCfg.Source.Kind, "-> Upstream adapter [slink,winston,fdsn]")
	f.Duration("source.tick_delay", defaultCfg.Source.TickDelay, "-> Acquisition tick delay")

	slink := defaultCfg.Source.SLink
	f.String("source.slink.tool_path", slink.ToolPath, "-> slinktool executable")
	f.String("source.slink.server", slink.Server, "-> SeedLink server host:port")
	f.Duration("source.slink.stop_timeout", slink.StopTimeout, "-> Grace period before slinktool is killed")

	winston := defaultCfg.Source.Winston
	f.String("source.winston.host", winston.Host, "-> Winston wave server host")
	f.Int("source.winston.port", winston.Port, "-> Winston wave server port")
	f.Bool("source.winston.big_endian", winston.BigEndian, "-> Payload byte order is big endian")
	f.Duration("source.winston.check_delay", winston.CheckDelay, "-> Minimum span of one request")
	f.Duration("source.winston.limit_time", winston.LimitTime, "-> Oldest data worth catching up on")

	fdsn := defaultCfg.Source.FDSN
	f.String("source.fdsn.decoder_path", fdsn.DecoderPath, "-> miniSEED decoder executable")
	f.String("source.fdsn.base_url", fdsn.BaseURL, "-> dataselect query URL")
	f.String("source.fdsn.user_agent", fdsn.UserAgent, "-> HTTP User-Agent")
	f.String("source.fdsn.scratch_dir", fdsn.ScratchDir, "-> Directory for downloaded records")
	f.Duration("source.fdsn.check_interval", fdsn.CheckInterval, "-> Interval between due checks")
	f.Duration("source.fdsn.download_interval", fdsn.DownloadInterval, "-> Span of one download")
	f.Duration("source.fdsn.limit_time", fdsn.LimitTime, "-> Oldest data worth catching up on")
	f.Duration("source.fdsn.decode_timeout", fdsn.DecodeTimeout, "-> Decoder run limit")

	f.Bool("sink.websocket.enable", defaultCfg.Sink.WebSocket.Enable, "-> Serve windows over WebSocket")
	f.String("sink.websocket.path", defaultCfg.Sink.WebSocket.Path, "-> WebSocket endpoint path")
	f.String("sink.nats.url", defaultCfg.Sink.NATS.URL, "-> NATS server URL, empty disables the sink")
	f.String("sink.nats.subject_prefix", defaultCfg.Sink.NATS.SubjectPrefix, "-> NATS subject prefix")
}
