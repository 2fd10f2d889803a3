package window

import (
	"fmt"
	"time"
)

const Day = TimeOfDay(24 * time.Hour)

// A duration since local midnight. Not a clock: values past 24h are
// legal and denote times after midnight that still belong to the
// previous service day, as in GTFS stop_times.
type TimeOfDay time.Duration

func HMS(h, m, s int) TimeOfDay {
	return TimeOfDay(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second)
}

func (t TimeOfDay) Duration() time.Duration {
	return time.Duration(t)
}

// Folds t onto [0, 24h).
func (t TimeOfDay) Normalize() TimeOfDay {
	n := t % Day
	if n < 0 {
		n += Day
	}
	return n
}

// Formats as HH:MM:SS, with hours possibly exceeding 23.
func (t TimeOfDay) String() string {
	d := time.Duration(t)
	sign := ""
	if d < 0 {
		sign = "-"
		d = -d
	}
	h := int(d / time.Hour)
	m := int(d%time.Hour) / int(time.Minute)
	s := int(d%time.Minute) / int(time.Second)
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, h, m, s)
}

// Reports whether now falls within [opening, closing).
//
// Windows spanning midnight are expressed with closing past 24h
// (22:00-26:00), though a raw closing before opening (22:00-02:00) is
// accepted and treated the same way. now is tested both as is and
// shifted by a day, so 01:00 falls within 22:00-26:00.
func Between(now, opening, closing TimeOfDay) bool {
	if closing < opening {
		closing += Day
	}

	now = now.Normalize()
	if now >= opening && now < closing {
		return true
	}

	shifted := now + Day
	return shifted >= opening && shifted < closing
}

// Time elapsed going forward from d1 to d2. If d2 is earlier in the
// day than d1, it's taken to be on the following day.
func Length(d1, d2 TimeOfDay) TimeOfDay {
	d1 = d1.Normalize()
	d2 = d2.Normalize()
	if d2 < d1 {
		return d2 + Day - d1
	}
	return d2 - d1
}

// A recurring daily service window.
type Window struct {
	Opening TimeOfDay
	Closing TimeOfDay
}

func (w Window) Contains(now TimeOfDay) bool {
	return Between(now, w.Opening, w.Closing)
}

func (w Window) Overnight() bool {
	return w.Closing > Day || w.Closing < w.Opening
}

func (w Window) Length() TimeOfDay {
	if w.Closing-w.Opening >= Day {
		return Day
	}
	return Length(w.Opening, w.Closing)
}
