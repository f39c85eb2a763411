package queue

import (
	"sort"
	"testing"
)

func TestPositionString(t *testing.T) {
	cases := map[Position]string{
		0:           "000000",
		1:           "000001",
		35:          "00000Z",
		36:          "000010",
		MaxPosition: "ZZZZZZ",
	}
	for p, want := range cases {
		if got := p.String(); got != want {
			t.Errorf("Position(%d).String() = %q, want %q", uint64(p), got, want)
		}
		back, err := ParsePosition(want)
		if err != nil || back != p {
			t.Errorf("ParsePosition(%q) = %d, %v", want, uint64(back), err)
		}
	}
}

func TestParsePositionRejects(t *testing.T) {
	for _, s := range []string{"", "00001", "0000001", "_HEAD", "00-001", "0000 1"} {
		if _, err := ParsePosition(s); err == nil {
			t.Errorf("Expected ParsePosition(%q) to fail", s)
		}
	}
	if p, err := ParsePosition("00000a"); err != nil || p != 10 {
		t.Errorf("Expected lower case to parse as 10, got %d, %v", uint64(p), err)
	}
}

func TestPositionKeysSortNumerically(t *testing.T) {
	positions := []Position{0, 9, 10, 35, 36, 1295, 1296, 99999, MaxPosition}
	keys := make([]string, len(positions))
	for i, p := range positions {
		keys[i] = p.String()
	}
	if !sort.StringsAreSorted(keys) {
		t.Errorf("Keys do not sort like their positions: %v", keys)
	}
}

func TestPositionWrap(t *testing.T) {
	if MaxPosition.Next() != 0 {
		t.Errorf("Expected MaxPosition.Next() to wrap to 0, got %s", MaxPosition.Next())
	}
	if Position(0).Previous() != MaxPosition {
		t.Errorf("Expected 0.Previous() to wrap to MaxPosition, got %s", Position(0).Previous())
	}
	if got := MaxPosition.Add(3); got != 2 {
		t.Errorf("Expected MaxPosition+3 = 2, got %d", uint64(got))
	}
	if got := Position(7).Add(RingSize); got != 7 {
		t.Errorf("Expected adding a full ring to be a no-op, got %d", uint64(got))
	}
}

func TestDistanceToHead(t *testing.T) {
	cases := []struct {
		tail, head Position
		want       uint64
	}{
		{0, 0, 0},
		{0, 5, 5},
		{100, 100, 0},
		{MaxPosition, 0, 1},
		{MaxPosition - 1, 3, 5},
		{5, 4, RingSize - 1},
	}
	for _, c := range cases {
		if got := c.tail.DistanceToHead(c.head); got != c.want {
			t.Errorf("DistanceToHead(%s -> %s) = %d, want %d", c.tail, c.head, got, c.want)
		}
	}
}
