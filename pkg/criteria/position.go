package criteria

// Position is the normalized side/placement of a physical part.
type Position string

const (
	PositionUnknown    Position = "unknown"
	PositionFront      Position = "front"
	PositionRear       Position = "rear"
	PositionLeft       Position = "left"
	PositionRight      Position = "right"
	PositionFrontLeft  Position = "front-left"
	PositionFrontRight Position = "front-right"
	PositionRearLeft   Position = "rear-left"
	PositionRearRight  Position = "rear-right"
)

// Provenance records how a Position was obtained.
type Provenance string

const (
	// ProvenanceExplicit means the canonical assembly-side attribute named it.
	ProvenanceExplicit Provenance = "explicit"
	// ProvenanceInferred means keywords in free-text attributes implied it.
	ProvenanceInferred Provenance = "inferred"
	// ProvenanceNone means no position could be established.
	ProvenanceNone Provenance = "none"
)

// Direction is one pole of a placement axis.
type Direction string

const (
	Front Direction = "front"
	Rear  Direction = "rear"
	Left  Direction = "left"
	Right Direction = "right"
)

// Directions lists every direction in vocabulary order.
var Directions = []Direction{Front, Rear, Left, Right}

func (d Direction) longitudinal() bool { return d == Front || d == Rear }

// combine builds a Position from at most one longitudinal and one lateral
// direction. Empty strings mean the axis is absent.
func combine(longitudinal, lateral Direction) Position {
	switch {
	case longitudinal == "" && lateral == "":
		return PositionUnknown
	case lateral == "":
		return Position(longitudinal)
	case longitudinal == "":
		return Position(lateral)
	}
	return Position(string(longitudinal) + "-" + string(lateral))
}

// split is the inverse of combine.
func (p Position) split() (longitudinal, lateral Direction) {
	switch p {
	case PositionFront:
		return Front, ""
	case PositionRear:
		return Rear, ""
	case PositionLeft:
		return "", Left
	case PositionRight:
		return "", Right
	case PositionFrontLeft:
		return Front, Left
	case PositionFrontRight:
		return Front, Right
	case PositionRearLeft:
		return Rear, Left
	case PositionRearRight:
		return Rear, Right
	}
	return "", ""
}

// Valid reports whether p is one of the known positions, unknown included.
func (p Position) Valid() bool {
	if p == PositionUnknown {
		return true
	}
	l, r := p.split()
	return l != "" || r != ""
}

// Matches reports whether a part at position p serves the wanted placement.
// A wanted "front" accepts front, front-left and front-right; a wanted
// "front-left" accepts front-left plus parts that only specify one of its
// axes. Unknown parts never match.
func (p Position) Matches(want Position) bool {
	if p == PositionUnknown || want == PositionUnknown {
		return false
	}
	pl, pr := p.split()
	wl, wr := want.split()
	if wl != "" && pl != "" && wl != pl {
		return false
	}
	if wr != "" && pr != "" && wr != pr {
		return false
	}
	if wl != "" && pl == "" && wr == "" {
		return false
	}
	if wr != "" && pr == "" && wl == "" {
		return false
	}
	return true
}

// ParsePosition parses a position name as produced by Position.String.
func ParsePosition(s string) (Position, bool) {
	p := Position(fold(s))
	if p == "" || !p.Valid() {
		return PositionUnknown, false
	}
	return p, true
}

func (p Position) String() string { return string(p) }
