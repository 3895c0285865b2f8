package match

// Colour identifies one side of the board.
type Colour int

const (
	Black Colour = iota
	White
)

// Colours enumerates both sides in the fixed iteration order used
// wherever the spec says "for each colour".
var Colours = [2]Colour{Black, White}

// String returns the lowercase GTP colour token.
func (c Colour) String() string {
	if c == Black {
		return "black"
	}
	return "white"
}

// Letter returns the single-letter form used in result strings ("B"/"W").
func (c Colour) Letter() string {
	if c == Black {
		return "B"
	}
	return "W"
}

// Opponent returns the other colour.
func (c Colour) Opponent() Colour {
	if c == Black {
		return White
	}
	return Black
}
