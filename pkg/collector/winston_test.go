package collector

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wave-collector/pkg/config"
	"github.com/wave-collector/pkg/metrics"
)

func TestToJ2000(t *testing.T) {
	epoch := time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 0.0, ToJ2000(epoch))
	assert.InDelta(t, 1.5, ToJ2000(epoch.Add(1500*time.Millisecond)), 1e-9)
}

func TestFormatWaveRawRequest(t *testing.T) {
	req := FormatWaveRawRequest(testStation, 7.5e8, 750000003.25)
	assert.Equal(t, "GETWAVERAW: GS ANMO BHZ IU 00 750000000 750000003.25 0\n", req)

	noLoc := testStation
	noLoc.Location = ""
	assert.Contains(t, FormatWaveRawRequest(noLoc, 1, 2), " IU -- 1 2 0\n")
}

func TestParseWaveRawHeader(t *testing.T) {
	n, err := ParseWaveRawHeader("OK 40\n")
	require.NoError(t, err)
	assert.Equal(t, 40, n)

	for _, bad := range []string{"OK\n", "OK x\n", "OK 0\n", "OK -4\n", "\n"} {
		_, err := ParseWaveRawHeader(bad)
		assert.ErrorIs(t, err, ErrParse, "header %q", bad)
	}
}

func TestDecodeWaveRawRoundTripBothOrders(t *testing.T) {
	in := WaveRaw{Start: 7.5e8, SampleRate: 50, RegistrationOffset: 0, Samples: []int32{1, -2, 300000}}

	for _, big := range []bool{true, false} {
		payload := EncodeWaveRaw(in, big)
		require.Len(t, payload, 40)

		out, err := DecodeWaveRaw(payload, big)
		require.NoError(t, err)
		assert.Equal(t, in.Start, out.Start)
		assert.Equal(t, in.SampleRate, out.SampleRate)
		assert.Equal(t, int32(3), out.Count)
		assert.Equal(t, in.Samples, out.Samples)
	}
}

func TestDecodeWaveRawEndiannessMatters(t *testing.T) {
	payload := EncodeWaveRaw(WaveRaw{Start: 7.5e8, SampleRate: 50, Samples: []int32{1, 2}}, true)

	// the swapped count claims far more samples than the payload holds
	out, err := DecodeWaveRaw(payload, false)
	assert.ErrorIs(t, err, ErrParse)
	assert.NotEqual(t, 50.0, out.SampleRate)
	assert.NotEqual(t, 7.5e8, out.Start)
	assert.NotEqual(t, int32(2), out.Count)

	// an all-zero payload reads the same either way
	zero := make([]byte, waveRawHeaderSize)
	a, errA := DecodeWaveRaw(zero, true)
	b, errB := DecodeWaveRaw(zero, false)
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, a, b)
}

func TestDecodeWaveRawShortPayload(t *testing.T) {
	_, err := DecodeWaveRaw(make([]byte, 10), true)
	assert.ErrorIs(t, err, ErrParse)

	payload := EncodeWaveRaw(WaveRaw{Start: 1, SampleRate: 1, Samples: []int32{1, 2, 3}}, true)
	_, err = DecodeWaveRaw(payload[:len(payload)-2], true)
	assert.ErrorIs(t, err, ErrParse)
}

func TestWaveRawValidate(t *testing.T) {
	begin := 7.5e8
	ok := WaveRaw{Start: begin + 1, SampleRate: 50, Count: 3}
	assert.NoError(t, ok.Validate(begin))

	for name, w := range map[string]WaveRaw{
		"zero count": {Start: begin, SampleRate: 50, Count: 0},
		"zero rate":  {Start: begin, SampleRate: 0, Count: 3},
		"zero start": {Start: 0, SampleRate: 50, Count: 3},
		"skew 30s":   {Start: begin + 30, SampleRate: 50, Count: 3},
		"skew -45s":  {Start: begin - 45, SampleRate: 50, Count: 3},
	} {
		assert.ErrorIs(t, w.Validate(begin), ErrValidation, name)
	}
}

// fakeWinston answers every connection with respond(request line).
type fakeWinston struct {
	ln       net.Listener
	requests chan string
	closed   atomic.Int32
}

func newFakeWinston(t *testing.T, respond func(req string) []byte) *fakeWinston {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	f := &fakeWinston{ln: ln, requests: make(chan string, 16)}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				line, err := bufio.NewReader(c).ReadString('\n')
				if err != nil {
					return
				}
				f.requests <- line
				_, _ = c.Write(respond(line))
				if tc, ok := c.(*net.TCPConn); ok {
					_ = tc.CloseWrite()
				}

				// the client closes its end once the payload is read
				_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
				if _, err := c.Read(make([]byte, 1)); errors.Is(err, io.EOF) {
					f.closed.Add(1)
				}
			}(conn)
		}
	}()
	return f
}

func (f *fakeWinston) config(t *testing.T) config.WinstonSourceConfig {
	host, portText, err := net.SplitHostPort(f.ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portText)
	require.NoError(t, err)
	return config.WinstonSourceConfig{
		Host:       host,
		Port:       port,
		BigEndian:  true,
		CheckDelay: 3 * time.Second,
		LimitTime:  30 * time.Second,
	}
}

// beginFromRequest extracts the requested begin time from a GETWAVERAW line.
func beginFromRequest(t *testing.T, req string) float64 {
	fields := strings.Fields(req)
	require.Len(t, fields, 9)
	begin, err := strconv.ParseFloat(fields[6], 64)
	require.NoError(t, err)
	return begin
}

func TestWinstonFetchDeliversChunk(t *testing.T) {
	srv := newFakeWinston(t, func(req string) []byte {
		begin := beginFromRequest(t, req)
		payload := EncodeWaveRaw(WaveRaw{Start: begin + 0.5, SampleRate: 50, Samples: []int32{10, -20, 30}}, true)
		return append([]byte("OK "+strconv.Itoa(len(payload))+"\n"), payload...)
	})

	reg := prometheus.NewRegistry()
	m := metrics.NewMetricFactory(metrics.NewPromRegistry(reg)).NewCollectorMetrics("winston-collector")
	sink := &fakeSink{}
	w := NewWinstonCollector(srv.config(t), testStation, sink, m)

	end := time.Now()
	require.NoError(t, w.Fetch(context.Background(), end.Add(-3*time.Second), end))

	assert.Equal(t, []reserveCall{{3, 50}}, sink.Reserves())
	assert.Equal(t, []int{10, -20, 30}, sink.Samples())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ChunksDecoded))

	req := <-srv.requests
	assert.True(t, strings.HasPrefix(req, "GETWAVERAW: GS ANMO BHZ IU 00 "))
	assert.True(t, strings.HasSuffix(req, " 0\n"))

	assert.Eventually(t, func() bool { return srv.closed.Load() == 1 }, 3*time.Second, 10*time.Millisecond)
}

func TestWinstonFetchRejectsInvalidPayload(t *testing.T) {
	cases := map[string]func(begin float64) WaveRaw{
		"stale start": func(b float64) WaveRaw { return WaveRaw{Start: b - 60, SampleRate: 50, Samples: []int32{1, 2}} },
		"zero rate":   func(b float64) WaveRaw { return WaveRaw{Start: b, SampleRate: 0, Samples: []int32{1, 2}} },
		"no samples":  func(b float64) WaveRaw { return WaveRaw{Start: b, SampleRate: 50} },
	}
	for name, build := range cases {
		t.Run(name, func(t *testing.T) {
			srv := newFakeWinston(t, func(req string) []byte {
				payload := EncodeWaveRaw(build(beginFromRequest(t, req)), true)
				return append([]byte("OK "+strconv.Itoa(len(payload))+"\n"), payload...)
			})
			sink := &fakeSink{}
			w := NewWinstonCollector(srv.config(t), testStation, sink, nil)

			end := time.Now()
			err := w.Fetch(context.Background(), end.Add(-3*time.Second), end)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Empty(t, sink.Reserves())
			assert.Empty(t, sink.Samples())
		})
	}
}

func TestWinstonFetchShortPayloadIsIOFailure(t *testing.T) {
	srv := newFakeWinston(t, func(string) []byte { return []byte("OK 40\nshort") })
	sink := &fakeSink{}
	w := NewWinstonCollector(srv.config(t), testStation, sink, nil)

	end := time.Now()
	err := w.Fetch(context.Background(), end.Add(-3*time.Second), end)
	assert.Equal(t, KindIO, Classify(err))
	assert.Empty(t, sink.Reserves())
}

func TestWinstonFetchBadHeaderIsParseFailure(t *testing.T) {
	srv := newFakeWinston(t, func(string) []byte { return []byte("ERROR\n") })
	w := NewWinstonCollector(srv.config(t), testStation, &fakeSink{}, nil)

	end := time.Now()
	err := w.Fetch(context.Background(), end.Add(-3*time.Second), end)
	assert.ErrorIs(t, err, ErrParse)
}

func TestWinstonCollectCadence(t *testing.T) {
	srv := newFakeWinston(t, func(req string) []byte {
		payload := EncodeWaveRaw(WaveRaw{Start: beginFromRequest(t, req), SampleRate: 100, Samples: []int32{1, 2}}, true)
		return append([]byte("OK "+strconv.Itoa(len(payload))+"\n"), payload...)
	})

	sink := &fakeSink{}
	w := NewWinstonCollector(srv.config(t), testStation, sink, nil)

	base := time.Now()
	clock := base
	w.now = func() time.Time { return clock }
	require.NoError(t, w.Init())

	// not due yet
	clock = base.Add(time.Second)
	require.NoError(t, w.Collect(context.Background()))
	w.Wait()
	assert.Empty(t, sink.Reserves())

	// due: requests [base, base+3s)
	clock = base.Add(3 * time.Second)
	require.NoError(t, w.Collect(context.Background()))
	w.Wait()
	assert.False(t, w.Busy())
	require.Len(t, sink.Reserves(), 1)
	first := beginFromRequest(t, <-srv.requests)
	assert.InDelta(t, ToJ2000(base), first, 1e-3)

	// a gap beyond the limit is clamped to one check delay
	clock = base.Add(3*time.Second + 5*time.Minute)
	require.NoError(t, w.Collect(context.Background()))
	w.Wait()
	second := beginFromRequest(t, <-srv.requests)
	assert.InDelta(t, ToJ2000(clock.Add(-3*time.Second)), second, 1e-3)
}

func TestWinstonCollectSkipsWhileBusy(t *testing.T) {
	w := NewWinstonCollector(config.WinstonSourceConfig{Host: "127.0.0.1", Port: 1, CheckDelay: time.Second, LimitTime: 2 * time.Second}, testStation, &fakeSink{}, nil)
	base := time.Now()
	w.now = func() time.Time { return base.Add(time.Hour) }

	w.busy.Store(true)
	require.NoError(t, w.Collect(context.Background()))
	// the watermark did not move
	w.mu.Lock()
	assert.True(t, w.watermark.Before(base.Add(time.Minute)))
	w.mu.Unlock()
}

func TestWinstonBusyReleasedAfterFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	reg := prometheus.NewRegistry()
	m := metrics.NewMetricFactory(metrics.NewPromRegistry(reg)).NewCollectorMetrics("winston-collector")
	w := NewWinstonCollector(config.WinstonSourceConfig{
		Host: "127.0.0.1", Port: addr.Port, CheckDelay: time.Second, LimitTime: 2 * time.Second,
	}, testStation, &fakeSink{}, m)

	base := time.Now()
	w.now = func() time.Time { return base.Add(2 * time.Second) }
	w.watermark = base

	require.NoError(t, w.Collect(context.Background()))
	w.Wait()
	assert.False(t, w.Busy())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Errors.WithLabelValues(string(KindIO))))
}
