package pipeline

import "time"

// window is one bounded date sub-range.
type window struct {
	from time.Time
	to   time.Time
}

// sliceWindows cuts [from, to] into sub-windows when the span exceeds the
// threshold: yearly slices above two years, monthly slices for one to two
// years, otherwise twelve roughly-equal slices. Spans at or under the
// threshold stay whole.
func sliceWindows(from, to time.Time, thresholdDays int) []window {
	if !to.After(from) {
		return []window{{from: from, to: to}}
	}

	days := int(to.Sub(from).Hours() / 24)
	if days <= thresholdDays {
		return []window{{from: from, to: to}}
	}

	switch {
	case days > 2*365:
		return sliceByYear(from, to)
	case days >= 365:
		return sliceByMonth(from, to)
	default:
		return sliceEqual(from, to, 12)
	}
}

func sliceByYear(from, to time.Time) []window {
	var windows []window
	start := from
	for start.Before(to) {
		end := start.AddDate(1, 0, 0).AddDate(0, 0, -1)
		if end.After(to) {
			end = to
		}
		windows = append(windows, window{from: start, to: end})
		start = end.AddDate(0, 0, 1)
	}
	return windows
}

func sliceByMonth(from, to time.Time) []window {
	var windows []window
	start := from
	for start.Before(to) {
		end := start.AddDate(0, 1, 0).AddDate(0, 0, -1)
		if end.After(to) {
			end = to
		}
		windows = append(windows, window{from: start, to: end})
		start = end.AddDate(0, 0, 1)
	}
	return windows
}

func sliceEqual(from, to time.Time, n int) []window {
	span := to.Sub(from)
	step := span / time.Duration(n)
	if step < 24*time.Hour {
		return []window{{from: from, to: to}}
	}

	var windows []window
	start := from
	for i := 0; i < n && start.Before(to); i++ {
		end := start.Add(step)
		if i == n-1 || end.After(to) {
			end = to
		}
		windows = append(windows, window{from: start, to: end})
		start = end.AddDate(0, 0, 1)
	}
	return windows
}
