package agent

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wave-collector/pkg/config"
)

func TestFlagsReachConfig(t *testing.T) {
	dir := t.TempDir()
	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{
		"-c", filepath.Join(dir, "absent.yaml"),
		"--log.path", filepath.Join(dir, "logs"),
		"--source.kind", "fdsn",
		"--source.fdsn.download_interval", "12s",
		"--source.fdsn.limit_time", "2m",
		"--source.winston.big_endian=false",
		"--station.location", "",
		"--sink.nats.subject_prefix", "seis",
		"--server.read_timeout", "7s",
	}))

	// -c was given explicitly, so the missing file is an error
	_, err := config.LoadConfigWithCli(cmd)
	require.Error(t, err)

	cmd = newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{
		"--log.path", filepath.Join(dir, "logs"),
		"--source.kind", "fdsn",
		"--source.fdsn.download_interval", "12s",
		"--source.fdsn.limit_time", "2m",
		"--source.winston.big_endian=false",
		"--station.location", "",
		"--sink.nats.subject_prefix", "seis",
		"--server.read_timeout", "7s",
	}))
	cfg, err := config.LoadConfigWithCli(cmd)
	require.NoError(t, err)

	assert.Equal(t, config.SourceFDSN, cfg.Source.Kind)
	assert.Equal(t, 12*time.Second, cfg.Source.FDSN.DownloadInterval)
	assert.Equal(t, 2*time.Minute, cfg.Source.FDSN.LimitTime)
	assert.False(t, cfg.Source.Winston.BigEndian)
	assert.Equal(t, "IU.ANMO..BHZ", cfg.Station.StreamID())
	assert.Equal(t, "seis", cfg.Sink.NATS.SubjectPrefix)
	assert.Equal(t, 7*time.Second, cfg.Server.ReadTimeout)
	// untouched flags carry the defaults
	assert.Equal(t, config.NewDefaultConfig().Source.FDSN.BaseURL, cfg.Source.FDSN.BaseURL)
}

func TestEnvReachesConfig(t *testing.T) {
	t.Setenv("WAVE_SOURCE_WINSTON_HOST", "pubavo1.wr.usgs.gov")
	t.Setenv("WAVE_SOURCE_KIND", "winston")
	t.Setenv("WAVE_LOG_PATH", filepath.Join(t.TempDir(), "logs"))

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags(nil))
	cfg, err := config.LoadConfigWithCli(cmd)
	require.NoError(t, err)

	assert.Equal(t, config.SourceWinston, cfg.Source.Kind)
	assert.Equal(t, "pubavo1.wr.usgs.gov", cfg.Source.Winston.Host)
}
