package pipeline

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// checkContinuity verifies windows tile the range with no gap and no overlap.
func checkContinuity(t *testing.T, windows []window, from, to time.Time) {
	t.Helper()
	if len(windows) == 0 {
		t.Fatal("no windows")
	}
	if !windows[0].from.Equal(from) {
		t.Errorf("first window starts at %v, want %v", windows[0].from, from)
	}
	if !windows[len(windows)-1].to.Equal(to) {
		t.Errorf("last window ends at %v, want %v", windows[len(windows)-1].to, to)
	}
	for i := 1; i < len(windows); i++ {
		prev := windows[i-1]
		cur := windows[i]
		if !cur.from.After(prev.to) {
			t.Errorf("window %d overlaps previous: %v not after %v", i, cur.from, prev.to)
		}
		if cur.from.Sub(prev.to) > 25*time.Hour {
			t.Errorf("gap between window %d and %d: %v to %v", i-1, i, prev.to, cur.from)
		}
	}
}

func TestSliceWindows_ShortSpanStaysWhole(t *testing.T) {
	from, to := date(2024, 4, 1), date(2024, 6, 30)
	windows := sliceWindows(from, to, 365)
	if len(windows) != 1 {
		t.Fatalf("Expected 1 window, got %d", len(windows))
	}
	if !windows[0].from.Equal(from) || !windows[0].to.Equal(to) {
		t.Errorf("Window bounds changed: %+v", windows[0])
	}
}

func TestSliceWindows_OverTwoYearsIsYearly(t *testing.T) {
	from, to := date(2021, 4, 1), date(2024, 6, 30)
	windows := sliceWindows(from, to, 365)

	if len(windows) != 4 {
		t.Fatalf("Expected 4 yearly windows, got %d", len(windows))
	}
	checkContinuity(t, windows, from, to)
}

func TestSliceWindows_OneToTwoYearsIsMonthly(t *testing.T) {
	from, to := date(2023, 4, 1), date(2024, 9, 30)
	windows := sliceWindows(from, to, 365)

	// 18 months of span.
	if len(windows) != 18 {
		t.Fatalf("Expected 18 monthly windows, got %d", len(windows))
	}
	checkContinuity(t, windows, from, to)
}

func TestSliceWindows_AboveThresholdUnderYearIsEqual(t *testing.T) {
	from, to := date(2024, 1, 1), date(2024, 7, 30)
	windows := sliceWindows(from, to, 90)

	if len(windows) != 12 {
		t.Fatalf("Expected 12 equal windows, got %d", len(windows))
	}
	checkContinuity(t, windows, from, to)
}

func TestSliceWindows_InvertedRangeStaysWhole(t *testing.T) {
	from, to := date(2024, 6, 30), date(2024, 4, 1)
	windows := sliceWindows(from, to, 365)
	if len(windows) != 1 {
		t.Fatalf("Expected 1 window for inverted range, got %d", len(windows))
	}
}
