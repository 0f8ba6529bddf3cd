// Package unixtime exposes unix timestamps in the external API, while the
// internal Go code can still use time.Time.
package unixtime

import (
	"strconv"
	"time"
)

type Time time.Time

func FromUnix(sec int64) Time {
	return Time(time.Unix(sec, 0))
}

func (t Time) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(time.Time(t).Unix(), 10)), nil
}

func (t *Time) UnmarshalJSON(s []byte) error {
	q, err := strconv.ParseInt(string(s), 10, 64)
	if err != nil {
		return err
	}
	*(*time.Time)(t) = time.Unix(q, 0)
	return nil
}

func (t Time) Time() time.Time {
	return time.Time(t).UTC()
}
