package collector

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type reserveCall struct {
	Count int
	Rate  float64
}

// fakeSink records what a collector pushes into the core.
type fakeSink struct {
	mu       sync.Mutex
	reserves []reserveCall
	samples  []int
	// events interleaves both kinds: "R<count>" or the sample value.
	events []any
}

func (f *fakeSink) ReserveChunk(count int, rateHz float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reserves = append(f.reserves, reserveCall{count, rateHz})
	f.events = append(f.events, reserveCall{count, rateHz})
}

func (f *fakeSink) AppendSample(raw int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = append(f.samples, raw)
	f.events = append(f.events, raw)
}

func (f *fakeSink) Reserves() []reserveCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]reserveCall(nil), f.reserves...)
}

func (f *fakeSink) Samples() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.samples...)
}

func (f *fakeSink) Events() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]any(nil), f.events...)
}

// writeScript creates an executable shell script standing in for an external tool.
func writeScript(t *testing.T, name, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script tools are not available on windows")
	}
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

var testStation = Station{Network: "IU", Station: "ANMO", Location: "00", Channel: "BHZ"}
