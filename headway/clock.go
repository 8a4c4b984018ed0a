package headway

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Parses a GTFS time of day ("HH:MM:SS", hours may exceed 23 for
// trips running past midnight) into seconds since midnight.
func ParseClock(s string) (int, error) {
	split := strings.Split(strings.TrimSpace(s), ":")
	if len(split) != 3 {
		return 0, fmt.Errorf("found %d parts in '%s'", len(split), s)
	}

	hms := [3]int{}
	for i, str := range split {
		j, err := strconv.Atoi(str)
		if err != nil {
			return 0, fmt.Errorf("non-integer in '%s' pos %d", s, i)
		}
		hms[i] = j
	}

	if hms[0] < 0 {
		return 0, fmt.Errorf("invalid hour in '%s'", s)
	}
	if hms[1] < 0 || hms[1] > 59 {
		return 0, fmt.Errorf("invalid minute in '%s'", s)
	}
	if hms[2] < 0 || hms[2] > 59 {
		return 0, fmt.Errorf("invalid second in '%s'", s)
	}

	return hms[0]*3600 + hms[1]*60 + hms[2], nil
}

// Formats seconds since midnight as "HH:MM:SS".
func FormatClock(sec int) string {
	return fmt.Sprintf("%02d:%02d:%02d", sec/3600, (sec%3600)/60, sec%60)
}

// An inclusive time of day range. The zero Window is disabled and
// matches everything.
type Window struct {
	StartSec int
	EndSec   int
	Enabled  bool
}

var ErrInvalidWindow = errors.New("invalid window")

// Builds a Window from two "HH:MM:SS" bounds. Unless both are given,
// the window is disabled. A bound that doesn't parse is an error.
func ParseWindow(start string, end string) (Window, error) {
	if strings.TrimSpace(start) == "" || strings.TrimSpace(end) == "" {
		return Window{}, nil
	}

	startSec, err := ParseClock(start)
	if err != nil {
		return Window{}, fmt.Errorf("%w: start: %v", ErrInvalidWindow, err)
	}
	endSec, err := ParseClock(end)
	if err != nil {
		return Window{}, fmt.Errorf("%w: end: %v", ErrInvalidWindow, err)
	}

	return Window{StartSec: startSec, EndSec: endSec, Enabled: true}, nil
}

func (w Window) Contains(sec int) bool {
	if !w.Enabled {
		return true
	}
	return sec >= w.StartSec && sec <= w.EndSec
}

func (w Window) String() string {
	if !w.Enabled {
		return "all day"
	}
	return FormatClock(w.StartSec) + "-" + FormatClock(w.EndSec)
}
