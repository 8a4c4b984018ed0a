package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModeMapping(t *testing.T) {
	m := DefaultModeMapping()
	assert.Equal(t, []ModeCode{400, 700, 900}, m.Codes())

	for _, tc := range []struct {
		name  string
		code  ModeCode
		found bool
	}{
		{"Bus", ModeCodeBus, true},
		{"bus", ModeCodeBus, true},
		{" STREETCAR ", ModeCodeStreetcar, true},
		{"Subway", ModeCodeSubway, true},
		{"Ferry", 0, false},
		{"", 0, false},
	} {
		code, found := m.Code(tc.name)
		assert.Equal(t, tc.found, found, tc.name)
		assert.Equal(t, tc.code, code, tc.name)
	}

	// Shared names resolve to the lowest code
	code, found := ModeMapping{3: "Bus", 700: "Bus", 900: "Streetcar"}.Code("bus")
	assert.True(t, found)
	assert.Equal(t, ModeCode(3), code)
}

func TestParseWeekday(t *testing.T) {
	for name, expected := range map[string]time.Weekday{
		"Monday":    time.Monday,
		"tuesday":   time.Tuesday,
		"WEDNESDAY": time.Wednesday,
		" Sunday ":  time.Sunday,
	} {
		day, err := ParseWeekday(name)
		require.NoError(t, err, name)
		assert.Equal(t, expected, day, name)
	}

	for _, name := range []string{"", "Mon", "Caturday", "1"} {
		_, err := ParseWeekday(name)
		assert.Error(t, err, name)
	}
}

func TestCalendarRunsOn(t *testing.T) {
	c := Calendar{Weekday: 1<<time.Saturday | 1<<time.Sunday}
	assert.True(t, c.RunsOn(time.Saturday))
	assert.True(t, c.RunsOn(time.Sunday))
	assert.False(t, c.RunsOn(time.Monday))
	assert.False(t, Calendar{}.RunsOn(time.Friday))
}
