// Package sink forwards acquisition windows outside the process: to WebSocket
// clients of the agent's HTTP server and, optionally, to a NATS subject.
package sink

import (
	"encoding/json"

	"github.com/wave-collector/pkg/acquisition"
)

// Envelope is the JSON form of a window shared by every sink.
type Envelope struct {
	Seq        uint64    `json:"seq"`
	Station    string    `json:"station"`
	SampleRate float64   `json:"sample_rate"`
	Samples    []float64 `json:"samples"`
}

func NewEnvelope(stream string, w acquisition.Window) Envelope {
	samples := w.Samples
	if samples == nil {
		samples = []float64{}
	}
	return Envelope{
		Seq:        w.Seq,
		Station:    stream,
		SampleRate: w.SampleRate,
		Samples:    samples,
	}
}

// Encode marshals the window of stream into its envelope.
func Encode(stream string, w acquisition.Window) ([]byte, error) {
	return json.Marshal(NewEnvelope(stream, w))
}
