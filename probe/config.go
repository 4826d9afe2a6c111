package probe

const (
	DefaultPayloadSize = 56
)

type Config struct {
	// Privileged selects raw ICMP sockets instead of unprivileged
	// datagram ICMP sockets.
	Privileged  bool
	PayloadSize int
	HTTP        HTTPProbe
}
