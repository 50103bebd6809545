package collector

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// j2000Offset is the number of seconds between the Unix epoch and 2000-01-01 12:00 UTC,
// the epoch Winston uses for GETWAVERAW time ranges.
const j2000Offset = 946728000

const (
	waveRawHeaderSize = 28
	maxWaveRawPayload = 64 << 20
	// maxStartSkew bounds |requested begin - returned start| in seconds.
	maxStartSkew = 30.0
)

// WaveRaw is a decoded GETWAVERAW payload.
type WaveRaw struct {
	Start              float64 // J2000 seconds
	SampleRate         float64
	RegistrationOffset float64
	Count              int32
	Samples            []int32
}

// ToJ2000 converts t to Winston J2000 seconds.
func ToJ2000(t time.Time) float64 {
	return float64(t.UnixNano())/1e9 - j2000Offset
}

// FormatWaveRawRequest renders one GETWAVERAW request line.
func FormatWaveRawRequest(st Station, begin, end float64) string {
	return fmt.Sprintf("GETWAVERAW: GS %s %s %s %s %s %s 0\n",
		st.Station, st.Channel, st.Network, st.locationOrDash(),
		strconv.FormatFloat(begin, 'f', -1, 64),
		strconv.FormatFloat(end, 'f', -1, 64))
}

// ParseWaveRawHeader extracts the payload length, the second space-separated field of
// the response header line.
func ParseWaveRawHeader(line string) (int, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0, fmt.Errorf("%w: winston header %q has no length field", ErrParse, strings.TrimSpace(line))
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("%w: winston header length %q: %v", ErrParse, fields[1], err)
	}
	if n <= 0 || n > maxWaveRawPayload {
		return 0, fmt.Errorf("%w: winston header length %d out of range", ErrParse, n)
	}
	return n, nil
}

func byteOrder(bigEndian bool) binary.ByteOrder {
	if bigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// DecodeWaveRaw decodes start, rate, registration offset, count and count samples.
// Every multi-byte field uses the same byte order.
func DecodeWaveRaw(payload []byte, bigEndian bool) (WaveRaw, error) {
	if len(payload) < waveRawHeaderSize {
		return WaveRaw{}, fmt.Errorf("%w: winston payload of %d bytes is shorter than its header", ErrParse, len(payload))
	}
	order := byteOrder(bigEndian)

	w := WaveRaw{
		Start:              math.Float64frombits(order.Uint64(payload[0:8])),
		SampleRate:         math.Float64frombits(order.Uint64(payload[8:16])),
		RegistrationOffset: math.Float64frombits(order.Uint64(payload[16:24])),
		Count:              int32(order.Uint32(payload[24:28])),
	}
	if w.Count <= 0 {
		return w, nil
	}

	need := waveRawHeaderSize + 4*int(w.Count)
	if len(payload) < need {
		return w, fmt.Errorf("%w: winston payload declares %d samples but holds %d bytes", ErrParse, w.Count, len(payload))
	}
	w.Samples = make([]int32, w.Count)
	for i := range w.Samples {
		off := waveRawHeaderSize + 4*i
		w.Samples[i] = int32(order.Uint32(payload[off : off+4]))
	}
	return w, nil
}

// EncodeWaveRaw is the inverse of DecodeWaveRaw; Count is taken from len(Samples).
func EncodeWaveRaw(w WaveRaw, bigEndian bool) []byte {
	order := byteOrder(bigEndian)
	buf := make([]byte, waveRawHeaderSize+4*len(w.Samples))
	order.PutUint64(buf[0:8], math.Float64bits(w.Start))
	order.PutUint64(buf[8:16], math.Float64bits(w.SampleRate))
	order.PutUint64(buf[16:24], math.Float64bits(w.RegistrationOffset))
	order.PutUint32(buf[24:28], uint32(int32(len(w.Samples))))
	for i, s := range w.Samples {
		off := waveRawHeaderSize + 4*i
		order.PutUint32(buf[off:off+4], uint32(s))
	}
	return buf
}

// Validate checks a decoded payload against the requested begin time.
func (w WaveRaw) Validate(begin float64) error {
	if w.Count > 0 && w.Start > 0 && w.SampleRate > 0 && math.Abs(begin-w.Start) < maxStartSkew {
		return nil
	}
	return fmt.Errorf("%w: winston payload count=%d rate=%g start offset=%.3fs (want count>0, rate>0, |offset|<%gs)",
		ErrValidation, w.Count, w.SampleRate, w.Start-begin, maxStartSkew)
}
