package codec

// State of a decoder or encoder. Transitions are one-way:
// Unopened -> Reading|Writing -> OK|Failed.
type State uint8

const (
	Unopened State = iota
	Reading
	Writing
	OK
	Failed
)

func (s State) String() string {
	switch s {
	case Unopened:
		return "unopened"
	case Reading:
		return "reading"
	case Writing:
		return "writing"
	case OK:
		return "ok"
	case Failed:
		return "error"
	}
	return "unknown"
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == OK || s == Failed
}
