// Package transcode decides which encode jobs a committed source yields:
// the enabled codecs in priority order, each with its parameters and
// quality ladder.
package transcode

import (
	"errors"
	"fmt"
	"strings"
)

// Codec is a bit in the enabled-codecs mask.
type Codec uint

const (
	H264 Codec = 1 << iota
	HEVC
	VP9
	AV1
)

// priority is the fixed job order; the first enabled codec yields the primary job.
var priority = []Codec{H264, HEVC, VP9, AV1}

var names = map[Codec]string{
	H264: "h264",
	HEVC: "hevc",
	VP9:  "vp9",
	AV1:  "av1",
}

const allCodecs = H264 | HEVC | VP9 | AV1

var ErrNoCodecs = errors.New("no codecs enabled")

func (c Codec) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	var parts []string
	for _, p := range c.Enabled() {
		parts = append(parts, names[p])
	}
	return strings.Join(parts, "|")
}

// Enabled returns the codecs set in the mask in priority order.
func (c Codec) Enabled() []Codec {
	var out []Codec
	for _, p := range priority {
		if c&p != 0 {
			out = append(out, p)
		}
	}
	return out
}

// ParseMask validates a configured bitmask.
func ParseMask(v uint) (Codec, error) {
	c := Codec(v)
	if c&^allCodecs != 0 {
		return 0, fmt.Errorf("unknown codec bits %#x", uint(c&^allCodecs))
	}
	if c == 0 {
		return 0, ErrNoCodecs
	}
	return c, nil
}

// ParseNames builds a mask from names like "h264,vp9".
func ParseNames(s string) (Codec, error) {
	var c Codec
	for _, n := range strings.Split(s, ",") {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		found := false
		for k, v := range names {
			if v == n {
				c |= k
				found = true
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown codec %q", n)
		}
	}
	if c == 0 {
		return 0, ErrNoCodecs
	}
	return c, nil
}
