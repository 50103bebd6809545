package acquisition

// Window is one completed chunk of filtered samples. Subscribers must treat Samples as
// read-only; the same slice is handed to every subscriber.
type Window struct {
	Seq        uint64    // 1-based, restarts with every core run
	SampleRate float64   // sampling rate when the window was cut, 0 if never reported
	Samples    []float64
}

func (w Window) Len() int { return len(w.Samples) }

// WindowHandler is notified once per completed window, in completion order.
type WindowHandler func(Window)

// Stats is a point-in-time snapshot of the core.
type Stats struct {
	PendingChunks   int
	BufferedSamples int
	SamplingRate    float64
	WindowsEmitted  uint64
	Running         bool
}
