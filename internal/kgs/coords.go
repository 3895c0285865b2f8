package kgs

import (
	"fmt"
	"strconv"
	"strings"
)

// boardSize is hardwired to 19x19, matching the assumption in spec.md §4.5:
// the GTP letter-to-x mapping below only makes sense for a 19-line board.
const boardSize = 19

// Loc is an SGF board coordinate, origin top-left, y growing downward.
type Loc struct {
	X, Y int
}

// columnLetters are the GTP column letters in order, skipping 'I' (Go
// boards never use it, to avoid confusion with the numeral 1).
const columnLetters = "ABCDEFGHJKLMNOPQRST"

// gtpColumnToX converts a GTP column letter to a zero-based board index.
func gtpColumnToX(letter byte) (int, error) {
	letter = byte(strings.ToUpper(string(letter))[0])
	idx := strings.IndexByte(columnLetters, letter)
	if idx < 0 || idx >= boardSize {
		return 0, fmt.Errorf("invalid GTP column %q", string(letter))
	}
	return idx, nil
}

// xToGTPColumn is the inverse of gtpColumnToX.
func xToGTPColumn(x int) (byte, error) {
	if x < 0 || x >= boardSize {
		return 0, fmt.Errorf("column index %d out of range", x)
	}
	return columnLetters[x], nil
}

// GTPToLoc translates a GTP coordinate such as "K10" into an SGF Loc. The
// literal "pass" (any case) is reported via isPass.
func GTPToLoc(place string) (loc Loc, isPass bool, err error) {
	place = strings.TrimSpace(place)
	if strings.EqualFold(place, "pass") {
		return Loc{}, true, nil
	}
	if len(place) < 2 {
		return Loc{}, false, fmt.Errorf("invalid GTP coordinate %q", place)
	}
	x, err := gtpColumnToX(place[0])
	if err != nil {
		return Loc{}, false, err
	}
	row, err := strconv.Atoi(place[1:])
	if err != nil || row < 1 || row > boardSize {
		return Loc{}, false, fmt.Errorf("invalid GTP row in %q", place)
	}
	return Loc{X: x, Y: boardSize - row}, false, nil
}

// LocToGTP is the inverse of GTPToLoc.
func LocToGTP(loc Loc, isPass bool) (string, error) {
	if isPass {
		return "PASS", nil
	}
	col, err := xToGTPColumn(loc.X)
	if err != nil {
		return "", err
	}
	row := boardSize - loc.Y
	if row < 1 || row > boardSize {
		return "", fmt.Errorf("loc %+v out of range", loc)
	}
	return fmt.Sprintf("%c%d", col, row), nil
}
