// Package model holds the shared value types of the BeamRoom wire and
// session data model (spec.md §3): no behavior, just shapes that cross
// package boundaries.
package model

import (
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// AddressFamily discriminates the address bytes carried by an Endpoint.
type AddressFamily uint8

const (
	FamilyIPv4 AddressFamily = 4
	FamilyIPv6 AddressFamily = 6
)

// Endpoint is an IP family discriminant plus address bytes plus port. Used
// for both TCP and UDP targets.
type Endpoint struct {
	Family AddressFamily
	Addr   []byte
	Port   uint16
}

// String renders the endpoint as host:port.
func (e Endpoint) String() string {
	return net.JoinHostPort(net.IP(e.Addr).String(), fmt.Sprintf("%d", e.Port))
}

// IP returns the address bytes as a net.IP.
func (e Endpoint) IP() net.IP { return net.IP(e.Addr) }

// EndpointFromUDPAddr builds an Endpoint from a resolved UDP address.
func EndpointFromUDPAddr(a *net.UDPAddr) Endpoint {
	return endpointFromIP(a.IP, a.Port)
}

// EndpointFromTCPAddr builds an Endpoint from a resolved TCP address.
func EndpointFromTCPAddr(a *net.TCPAddr) Endpoint {
	return endpointFromIP(a.IP, a.Port)
}

func endpointFromIP(ip net.IP, port int) Endpoint {
	family := FamilyIPv6
	addr := ip.To4()
	if addr != nil {
		family = FamilyIPv4
	} else {
		addr = ip.To16()
	}
	return Endpoint{Family: family, Addr: addr, Port: uint16(port)}
}

// UDPAddr converts the endpoint back to a *net.UDPAddr.
func (e Endpoint) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.IP(e.Addr), Port: int(e.Port)}
}

// TCPAddr converts the endpoint back to a *net.TCPAddr.
func (e Endpoint) TCPAddr() *net.TCPAddr {
	return &net.TCPAddr{IP: net.IP(e.Addr), Port: int(e.Port)}
}

// DiscoveredHost is what the external service browser produces: a human
// name and the endpoint to dial for the control connection, plus an
// optional preferred infrastructure endpoint (IPv4 on infra Wi-Fi)
// distinct from the advertised service endpoint.
type DiscoveredHost struct {
	Name              string
	Endpoint          Endpoint
	PreferredEndpoint *Endpoint
}

// DialEndpoint returns the endpoint the control client should connect to:
// the preferred infra endpoint if present, otherwise the advertised one.
func (h DiscoveredHost) DialEndpoint() Endpoint {
	if h.PreferredEndpoint != nil {
		return *h.PreferredEndpoint
	}
	return h.Endpoint
}

// PairingRecord is the host-side bookkeeping for a handshake awaiting
// operator accept/decline.
type PairingRecord struct {
	ID           uuid.UUID
	ConnectionID int64
	Code         string
	Remote       string
	RequestedAt  time.Time
}

// SessionRecord is the host-side bookkeeping for an accepted pairing.
type SessionRecord struct {
	ID        uuid.UUID
	Remote    string
	StartedAt time.Time
}
