// SPDX-License-Identifier: GPL-3.0-or-later

package metric

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Bitrate is a bitrate in bits per second.
type Bitrate float64

const (
	Bps  Bitrate = 1
	Kbps         = 1000 * Bps
	Mbps         = 1000 * Kbps
	Gbps         = 1000 * Mbps
)

// CalcBitrate returns the average Bitrate for the given byte count and
// duration.
func CalcBitrate(bytes Bytes, dur time.Duration) Bitrate {
	if dur <= 0 {
		return 0
	}
	return Bitrate(8 * float64(bytes) / dur.Seconds())
}

func (b Bitrate) String() string {
	switch {
	case b < 1*Kbps:
		return fmt.Sprintf("%sbps", trimFloat(float64(b), 0))
	case b < 1*Mbps:
		return trimFloat(float64(b/Kbps), 3) + "Kbps"
	case b < 1*Gbps:
		return trimFloat(float64(b/Mbps), 3) + "Mbps"
	default:
		return trimFloat(float64(b/Gbps), 3) + "Gbps"
	}
}

// trimFloat formats f to prec digits, trimming trailing zeros.
func trimFloat(f float64, prec int) string {
	s := strconv.FormatFloat(f, 'f', prec, 64)
	if strings.Contains(s, ".") {
		s = strings.TrimRight(s, "0")
		s = strings.TrimRight(s, ".")
	}
	return s
}
