package session

// Mode is the session's operating mode. It starts at ModeLoading and
// changes at most once.
type Mode int

const (
	ModeLoading Mode = iota
	ModeLocalOracle
	ModeScout
)

func (m Mode) String() string {
	switch m {
	case ModeLoading:
		return "loading"
	case ModeLocalOracle:
		return "local_oracle"
	case ModeScout:
		return "scout"
	}
	return "unknown"
}

// Terminal reports whether the mode can no longer change.
func (m Mode) Terminal() bool {
	return m == ModeLocalOracle || m == ModeScout
}
