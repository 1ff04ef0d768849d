package config

import "time"

func timeIn(loc *time.Location) (string, int) {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, loc).Zone()
}
