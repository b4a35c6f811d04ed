package queue

import (
	"fmt"
	"strconv"
)

// Band is a broker partition. Higher bands are always drained first.
type Band int

const (
	BandLow    Band = 1
	BandMedium Band = 2
	BandHigh   Band = 3
)

// AllBands returns the bands in read order, high first.
func AllBands() []Band {
	return []Band{BandHigh, BandMedium, BandLow}
}

func (b Band) String() string {
	switch b {
	case BandLow:
		return "low"
	case BandMedium:
		return "medium"
	case BandHigh:
		return "high"
	default:
		return "band-" + strconv.Itoa(int(b))
	}
}

func (b Band) IsValid() bool {
	return b >= BandLow && b <= BandHigh
}

// BandFor clamps a ledger priority into a band.
func BandFor(priority int) Band {
	switch {
	case priority <= int(BandLow):
		return BandLow
	case priority >= int(BandHigh):
		return BandHigh
	default:
		return Band(priority)
	}
}

// ParseBand reads the numeric form used in scheduled-set members.
func ParseBand(s string) (Band, error) {
	n, err := strconv.Atoi(s)
	if err != nil || !Band(n).IsValid() {
		return 0, fmt.Errorf("invalid band %q", s)
	}
	return Band(n), nil
}
