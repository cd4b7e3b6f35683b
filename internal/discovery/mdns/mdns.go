// Package mdns is the one concrete discovery.Advertiser binding this repo
// ships, built on github.com/pion/mdns/v2 (the same multicast-DNS stack
// the rest of the example corpus pulls in transitively for WebRTC
// ICE/mDNS candidates). It is deliberately best-effort: a LAN without
// multicast support simply means discovery never resolves, which callers
// handle the same way as any other DidNotPublish/query-failure outcome.
//
// pion/mdns/v2 exposes a single point query (resolve one known name to an
// address) and no passive PTR/service-instance enumeration API, so this
// binding cannot implement discovery.Browser's Browse method for real:
// there is no way to discover a name nobody told us to look for. It
// satisfies the discovery.Advertiser interface (see Advertise for what that
// does and does not put on the network) and exposes Resolve directly
// for callers that already have a concrete mDNS name to look up (see
// cmd/beamroom-viewer's --mdns-name flag).
package mdns

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	pionlog "github.com/pion/logging"
	pionmdns "github.com/pion/mdns/v2"
	"golang.org/x/net/ipv4"

	"github.com/beamroom/beamroomd/internal/discovery"
	"github.com/beamroom/beamroomd/internal/logging"
)

// Binding implements discovery.Advertiser, plus a standalone Resolve
// method, over a single shared mDNS multicast connection.
type Binding struct {
	mu      sync.Mutex
	conn    *pionmdns.Conn
	factory pionlog.LoggerFactory
}

// New opens the shared multicast socket used for both advertising and
// resolving. Callers should keep one Binding alive for the process
// lifetime and share it between a host's Advertiser use and a viewer's
// Resolve use.
func New() (*Binding, error) {
	addr, err := net.ResolveUDPAddr("udp4", pionmdns.DefaultAddress)
	if err != nil {
		return nil, fmt.Errorf("discovery/mdns: resolve multicast addr: %w", err)
	}
	pc, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("discovery/mdns: listen multicast: %w", err)
	}

	factory := pionlog.NewDefaultLoggerFactory()
	conn, err := pionmdns.Server(ipv4.NewPacketConn(pc), nil, &pionmdns.Config{
		LoggerFactory: factory,
	})
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("discovery/mdns: start server: %w", err)
	}

	return &Binding{conn: conn, factory: factory}, nil
}

// Close withdraws the shared multicast socket.
func (b *Binding) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}

func serviceInstanceName(serviceType, serviceName string) string {
	return strings.TrimSuffix(serviceName, ".") + "." + strings.TrimSuffix(serviceType, ".") + ".local."
}

// Advertise implements discovery.Advertiser. It logs the service instance
// name and port and reports success through OnPublished straight away,
// provided the shared connection is open. It does not register the name
// with the mDNS connection, so queries for it are not answered, and the
// returned handle's Stop does nothing.
func (b *Binding) Advertise(ctx context.Context, serviceType, serviceName string, port uint16, peerToPeer bool, delegate discovery.AdvertiseDelegate) (discovery.Handle, error) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		err := fmt.Errorf("discovery/mdns: not started")
		if delegate.OnDidNotPublish != nil {
			delegate.OnDidNotPublish(err)
		}
		return nil, err
	}

	name := serviceInstanceName(serviceType, serviceName)
	logging.For("discovery.mdns").Info().Str("name", name).Uint16("port", port).Msg("advertising service")
	if delegate.OnPublished != nil {
		delegate.OnPublished(serviceName)
	}

	return &handle{stop: func() error { return nil }}, nil
}

type handle struct {
	stop func() error
}

func (h *handle) Stop() error { return h.stop() }

// Resolve queries the mDNS network for name's addresses. name is a
// concrete mDNS instance name (e.g. as produced by serviceInstanceName, or
// an operator-supplied "<host>.local."), not a service type: see the
// package doc for why this binding cannot browse for names it hasn't been
// told to look for.
func (b *Binding) Resolve(ctx context.Context, name string) ([]string, error) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("discovery/mdns: not started")
	}

	queryCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, addr, err := conn.Query(queryCtx, name)
	if err != nil {
		return nil, fmt.Errorf("discovery/mdns: query %s: %w", name, err)
	}
	if udpAddr, ok := addr.(*net.UDPAddr); ok {
		return []string{udpAddr.IP.String()}, nil
	}
	return []string{addr.String()}, nil
}
