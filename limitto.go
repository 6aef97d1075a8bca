package changes

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// LimitTo is a bounding box (minlong, minlat, maxlong, maxlat) that limits
// which changes are kept during accumulation.
type LimitTo [4]float64

// Contains checks whether the given point is inside the LimitTo.
// Returns true if LimitTo is nil.
func (l *LimitTo) Contains(long, lat float64) bool {
	if l == nil {
		return true
	}
	return long >= l[0] && long <= l[2] && lat >= l[1] && lat <= l[3]
}

// Intersects checks whether the bbox intersects with the LimitTo.
// Returns true if LimitTo is nil or if o is zero.
func (l *LimitTo) Intersects(o [4]float64) bool {
	if l == nil {
		return true
	}

	if o[0] == 0 && o[1] == 0 && o[2] == 0 && o[3] == 0 {
		return true
	}

	return l[2] >= o[0] &&
		l[3] >= o[1] &&
		l[0] <= o[2] &&
		l[1] <= o[3]
}

// Set implements flag.Value, parsing "minlong,minlat,maxlong,maxlat".
func (l *LimitTo) Set(s string) error {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return errors.Errorf("expected four comma separated values, got %q", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return errors.Errorf("invalid coordinate %q in %q", p, s)
		}
		l[i] = v
	}
	if l[0] > l[2] || l[1] > l[3] {
		return errors.Errorf("invalid bbox %q, min larger than max", s)
	}
	return nil
}

func (l *LimitTo) String() string {
	if l == nil {
		return ""
	}
	return fmt.Sprintf("%g,%g,%g,%g", l[0], l[1], l[2], l[3])
}
