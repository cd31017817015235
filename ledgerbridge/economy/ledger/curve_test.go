package ledger

import "testing"

func TestCurveLevelOf(t *testing.T) {
	curve := DefaultCurve()

	tests := []struct {
		name     string
		totalExp int64
		want     int
	}{
		{"zero", 0, 0},
		{"negative coerced", -500, 0},
		{"just below level 1", 999, 0},
		{"exactly level 1", 1000, 1},
		{"just below level 2", 2499, 1},
		{"exactly level 2", 2500, 2},
		{"mid level 3 band", 4000, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := curve.LevelOf(tt.totalExp); got != tt.want {
				t.Errorf("LevelOf(%d) = %d, want %d", tt.totalExp, got, tt.want)
			}
		})
	}
}

func TestCurveMonotonic(t *testing.T) {
	curve := NewCurve(100, 1.3, 20)
	prev := 0
	for exp := int64(0); exp < 50000; exp += 37 {
		level := curve.LevelOf(exp)
		if level < prev {
			t.Fatalf("LevelOf not monotonic: exp %d gave level %d after %d", exp, level, prev)
		}
		prev = level
	}
}

func TestCurveMaxLevelBound(t *testing.T) {
	curve := NewCurve(10, 1.1, 5)
	if got := curve.LevelOf(1 << 60); got != 5 {
		t.Errorf("LevelOf(huge) = %d, want max level 5", got)
	}
	if got := curve.RequiredFor(99); got != curve.RequiredFor(5) {
		t.Errorf("RequiredFor past max = %d, want %d", got, curve.RequiredFor(5))
	}
}

func TestCurveProgress(t *testing.T) {
	curve := DefaultCurve()

	level, into, needed := curve.Progress(1200)
	if level != 1 {
		t.Errorf("Progress level = %d, want 1", level)
	}
	if into != 200 {
		t.Errorf("Progress into = %d, want 200", into)
	}
	if needed != 1300 {
		t.Errorf("Progress needed = %d, want 1300", needed)
	}

	_, _, needed = curve.Progress(curve.RequiredFor(curve.MaxLevel))
	if needed != 0 {
		t.Errorf("Progress needed at max level = %d, want 0", needed)
	}
}

func TestCurveRequiredForMatchesLevelOf(t *testing.T) {
	curve := DefaultCurve()
	for level := 1; level <= 10; level++ {
		required := curve.RequiredFor(level)
		if got := curve.LevelOf(required); got != level {
			t.Errorf("LevelOf(RequiredFor(%d)) = %d", level, got)
		}
		if got := curve.LevelOf(required - 1); got != level-1 {
			t.Errorf("LevelOf(RequiredFor(%d)-1) = %d", level, got)
		}
	}
}
