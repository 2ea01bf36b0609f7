package components

import (
	"testing"

	"leaf-lesion-detector/internal/opencv/safe"

	"gocv.io/x/gocv"
)

// maskFrom builds a binary mask from rows of '#' (set) and '.' (clear).
func maskFrom(t *testing.T, rows ...string) *safe.Mat {
	t.Helper()
	cols := len(rows[0])
	buf := make([]byte, 0, len(rows)*cols)
	for _, r := range rows {
		for _, c := range r {
			if c == '#' {
				buf = append(buf, 255)
			} else {
				buf = append(buf, 0)
			}
		}
	}
	m, err := safe.NewMatFromBytes(len(rows), cols, gocv.MatTypeCV8UC1, buf, "mask")
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestLabelExteriorTouchesBorder(t *testing.T) {
	mask := maskFrom(t,
		"##......",
		"#.......",
		"........",
		"...##...",
		"...##...",
		"........",
		".......#",
		"......##",
	)
	defer mask.Close()

	lm, err := Label(mask)
	if err != nil {
		t.Fatal(err)
	}

	if lm.Width != 8 || lm.Height != 8 {
		t.Fatalf("size %dx%d", lm.Width, lm.Height)
	}
	if got := lm.at(0, 0); got != Exterior {
		t.Errorf("corner label = %d, want %d", got, Exterior)
	}
	if got := lm.at(7, 7); got != Exterior {
		t.Errorf("opposite corner label = %d, want %d", got, Exterior)
	}
	if got := lm.at(2, 2); got != 0 {
		t.Errorf("unset pixel label = %d, want 0", got)
	}

	island := lm.at(3, 3)
	if island == 0 || island == Exterior {
		t.Fatalf("island label = %d", island)
	}
	if lm.at(4, 4) != island {
		t.Errorf("island split into several labels")
	}
	// background, frame and island
	if lm.Count != 3 {
		t.Errorf("Count = %d, want 3", lm.Count)
	}
}

func TestLabelEightConnectivity(t *testing.T) {
	mask := maskFrom(t,
		"......",
		".#....",
		"..#...",
		"...#..",
		"......",
		"......",
	)
	defer mask.Close()

	lm, err := Label(mask)
	if err != nil {
		t.Fatal(err)
	}

	a, b, c := lm.at(1, 1), lm.at(2, 2), lm.at(3, 3)
	if a != b || b != c {
		t.Errorf("diagonal pixels labeled %d, %d, %d", a, b, c)
	}
	if a == Exterior {
		t.Errorf("diagonal run merged with the frame")
	}
}

func TestCountWithinAndMask(t *testing.T) {
	mask := maskFrom(t,
		"......",
		".##...",
		".##...",
		"....#.",
		"......",
		"......",
	)
	defer mask.Close()

	within := maskFrom(t,
		"......",
		".#....",
		".##...",
		"....#.",
		"......",
		"......",
	)
	defer within.Close()

	lm, err := Label(mask)
	if err != nil {
		t.Fatal(err)
	}

	counts, err := lm.CountWithin(within)
	if err != nil {
		t.Fatal(err)
	}

	square, dot := lm.at(1, 1), lm.at(4, 3)
	if counts[square] != 3 {
		t.Errorf("square count = %d, want 3", counts[square])
	}
	if counts[dot] != 1 {
		t.Errorf("dot count = %d, want 1", counts[dot])
	}
	if _, ok := counts[Exterior]; ok {
		t.Errorf("exterior counted inside the mask")
	}

	out, err := lm.Mask(map[int32]float64{square: 4}, "kept")
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()

	if got := out.CountNonZero(); got != 4 {
		t.Errorf("kept mask count = %d, want 4", got)
	}
	if out.Bytes()[3*6+4] != 0 {
		t.Errorf("dropped component rendered")
	}
}

func TestCountWithinSizeMismatch(t *testing.T) {
	mask := maskFrom(t, "..", "..")
	defer mask.Close()
	other := maskFrom(t, "...", "...", "...")
	defer other.Close()

	lm, err := Label(mask)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := lm.CountWithin(other); err == nil {
		t.Error("expected size mismatch error")
	}
}

func TestLabelRejectsColor(t *testing.T) {
	color, err := safe.NewMat(4, 4, gocv.MatTypeCV8UC3, "color")
	if err != nil {
		t.Fatal(err)
	}
	defer color.Close()

	if _, err := Label(color); err == nil {
		t.Error("expected channel error")
	}
}
