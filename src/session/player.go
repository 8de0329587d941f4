package session

// PlayerHandle identifies a player for the lifetime of a session. Handles are
// assigned in registration order, starting at 0.
type PlayerHandle uint32

// PlayerKind is the role of a player on this machine.
type PlayerKind int

const (
	// Local players are sampled on this machine.
	Local PlayerKind = iota
	// Remote players are sampled on another machine and their inputs arrive
	// over the transport.
	Remote
	// Spectators watch the session from another machine. They receive every
	// player's inputs but contribute none.
	Spectator
)

// String returns the string representation of a PlayerKind
func (k PlayerKind) String() string {
	switch k {
	case Local:
		return "Local"
	case Remote:
		return "Remote"
	case Spectator:
		return "Spectator"
	default:
		return "Unknown"
	}
}

// MarshalText encodes a PlayerKind by name.
func (k PlayerKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Player is a participant of a session. Addr is the transport address of the
// machine a Remote player or a Spectator is on; the connection itself belongs
// to the transport.
type Player struct {
	Kind PlayerKind
	Addr string
}

// LocalPlayer returns a player sampled on this machine.
func LocalPlayer() Player {
	return Player{Kind: Local}
}

// RemotePlayer returns a player whose inputs come from addr.
func RemotePlayer(addr string) Player {
	return Player{Kind: Remote, Addr: addr}
}

// SpectatorPlayer returns a spectator watching from addr.
func SpectatorPlayer(addr string) Player {
	return Player{Kind: Spectator, Addr: addr}
}
