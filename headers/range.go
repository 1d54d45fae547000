package headers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rivergate/rtspcore/base"
)

// RangeNPTTime is an NPT (normal play time) offset. A nil *RangeNPTTime
// (used as Range.End) represents "now"/open-ended, written as an empty
// component per RFC 2326 §3.6.
type RangeNPTTime time.Duration

func (t *RangeNPTTime) read(s string) error {
	if s == "now" {
		*t = 0
		return nil
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return fmt.Errorf("invalid NPT time (%v)", s)
	}

	var hours, mins uint64
	if len(parts) == 3 {
		v, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			return err
		}
		hours = v
		parts = parts[1:]
	}
	if len(parts) == 2 {
		v, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			return err
		}
		mins = v
		parts = parts[1:]
	}

	secs, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return err
	}

	*t = RangeNPTTime(time.Duration(secs*float64(time.Second)) + time.Duration(hours*3600+mins*60)*time.Second)
	return nil
}

func (t RangeNPTTime) write() string {
	return strconv.FormatFloat(time.Duration(t).Seconds(), 'f', -1, 64)
}

// Range is a Range header restricted to the NPT unit: this client only
// ever sends "npt=0-" (or a caller-supplied start/end) and forwards
// whatever the server echoes back without needing SMPTE/UTC semantics.
type Range struct {
	Start RangeNPTTime
	End   *RangeNPTTime
}

// Read decodes a Range header value of the form "npt=start-end".
func (h *Range) Read(v base.HeaderValue) error {
	if len(v) == 0 {
		return fmt.Errorf("value not provided")
	}
	if len(v) > 1 {
		return fmt.Errorf("value provided multiple times (%v)", v)
	}

	v0 := strings.TrimSpace(v[0])
	if !strings.HasPrefix(v0, "npt=") {
		return fmt.Errorf("unsupported range unit (%v)", v0)
	}
	v0 = strings.TrimPrefix(v0, "npt=")

	parts := strings.SplitN(v0, "-", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid range value (%v)", v0)
	}

	if err := h.Start.read(parts[0]); err != nil {
		return err
	}

	if parts[1] != "" {
		var end RangeNPTTime
		if err := end.read(parts[1]); err != nil {
			return err
		}
		h.End = &end
	}

	return nil
}

// Write encodes a Range header value.
func (h Range) Write() base.HeaderValue {
	ret := "npt=" + h.Start.write() + "-"
	if h.End != nil {
		ret += h.End.write()
	}
	return base.HeaderValue{ret}
}

// DefaultRange is "npt=0-", the default PLAY range when none is supplied.
func DefaultRange() Range {
	return Range{Start: 0}
}
