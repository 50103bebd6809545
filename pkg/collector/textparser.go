package collector

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// HeaderFormat describes how a tool announces a chunk in its text output.
type HeaderFormat struct {
	Pattern       *regexp.Regexp
	LocationGroup int
	CountGroup    int
	RateGroup     int
	TimeGroup     int
}

var (
	// SLinkHeader matches slinktool -u output, e.g.
	// "IU_ANMO_00_BHZ, 412 samples, 40 Hz, 2024,123,10:00:00.019500 (latency ~1.4 sec)".
	SLinkHeader = HeaderFormat{
		Pattern:       regexp.MustCompile(`([^,]+),\s?(\d+)\s?samples,\s?(\d+\.?\d*)\s?Hz,\s?([^\s]+)\s?\(.+\)`),
		LocationGroup: 1,
		CountGroup:    2,
		RateGroup:     3,
		TimeGroup:     4,
	}

	// FDSNHeader matches miniSEED decoder output, which carries one more leading field.
	FDSNHeader = HeaderFormat{
		Pattern:       regexp.MustCompile(`([^\s]+),\s?([^,]+),\s?([^,]+),\s?([^,]+),\s?(\d+)\s?samples,\s?(\d+\.?\d*)\s?Hz,\s?([^\s]+)\s?`),
		LocationGroup: 1,
		CountGroup:    5,
		RateGroup:     6,
		TimeGroup:     7,
	}

	sampleToken = regexp.MustCompile(`(-?\d+)\s+`)
)

// maxPendingText bounds the text kept while no header has been seen.
const maxPendingText = 1 << 20

// TextParser turns a stream of text fragments into ReserveChunk/AppendSample calls.
// It is not safe for concurrent use; feed it from the goroutine that reads the tool.
type TextParser struct {
	sink      Sink
	format    HeaderFormat
	buf       string
	remaining int // samples still expected; <= 0 means awaiting a header, -1 after an abort
}

func NewTextParser(sink Sink, format HeaderFormat) *TextParser {
	return &TextParser{sink: sink, format: format}
}

// Remaining reports how many samples of the current chunk are still expected.
func (p *TextParser) Remaining() int { return p.remaining }

// Buffered returns the unconsumed text.
func (p *TextParser) Buffered() string { return p.buf }

func (p *TextParser) Reset() {
	p.buf = ""
	p.remaining = 0
}

// Feed appends fragment and consumes every header and sample it can. A partial token at
// the end stays buffered for the next call. Malformed headers and samples are skipped
// and reported as ErrParse; the parser stays usable.
func (p *TextParser) Feed(fragment string) error {
	p.buf += fragment

	var errs []error
	for {
		var (
			progressed bool
			err        error
		)
		if p.remaining <= 0 {
			progressed, err = p.readHeader()
		} else {
			progressed, err = p.readSamples()
		}
		if err != nil {
			errs = append(errs, err)
		}
		if !progressed {
			break
		}
	}

	if p.remaining <= 0 && len(p.buf) > maxPendingText {
		p.buf = p.buf[len(p.buf)-maxPendingText:]
	}
	return errors.Join(errs...)
}

func (p *TextParser) readHeader() (bool, error) {
	m := p.format.Pattern.FindStringSubmatchIndex(p.buf)
	if m == nil {
		return false, nil
	}
	group := func(i int) string { return p.buf[m[2*i]:m[2*i+1]] }

	countText := group(p.format.CountGroup)
	rateText := group(p.format.RateGroup)
	p.buf = p.buf[:m[0]] + p.buf[m[1]:]

	count, err := strconv.ParseInt(countText, 10, 32)
	if err != nil {
		p.remaining = 0
		return true, fmt.Errorf("%w: header sample count %q: %v", ErrParse, countText, err)
	}
	rate, err := strconv.ParseFloat(rateText, 64)
	if err != nil {
		rate = 0
	}

	p.remaining = int(count)
	p.sink.ReserveChunk(int(count), rate)
	return true, nil
}

func (p *TextParser) readSamples() (bool, error) {
	matches := sampleToken.FindAllStringSubmatchIndex(p.buf, p.remaining)
	if len(matches) == 0 {
		return false, nil
	}

	begin, end := -1, 0
	var perr error
	for _, m := range matches {
		token := p.buf[m[2]:m[3]]
		v, err := strconv.ParseInt(token, 10, 32)
		if err != nil {
			p.remaining = -1
			perr = fmt.Errorf("%w: sample %q: %v", ErrParse, token, err)
			break
		}
		p.sink.AppendSample(int(v))
		if begin < 0 {
			begin = m[0]
		}
		end = m[1]
		p.remaining--
	}

	if begin >= 0 {
		p.buf = p.buf[:begin] + p.buf[end:]
		p.buf = strings.TrimLeft(p.buf, " \t\r\n")
	}
	return true, perr
}
