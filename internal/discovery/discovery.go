// Package discovery defines the abstract service advertisement/browsing
// capability named in spec.md §6, kept independent of any concrete
// mDNS/Bonjour binding so internal/control and internal/mediaplane never
// import a discovery implementation directly. internal/discovery/mdns
// provides the one concrete binding this repo ships.
package discovery

import "context"

// DefaultControlServiceType and DefaultMediaServiceType are spec.md §6's
// default service type strings.
const (
	DefaultControlServiceType = "_beamctl._tcp"
	DefaultMediaServiceType   = "_beamroom._udp"
)

// Handle is returned by Advertise; Stop withdraws the advertisement.
type Handle interface {
	Stop() error
}

// AdvertiseDelegate receives the outcome of an Advertise call.
type AdvertiseDelegate struct {
	OnPublished     func(name string)
	OnDidNotPublish func(err error)
}

// Advertiser announces a local service on the network (spec.md §6).
type Advertiser interface {
	Advertise(ctx context.Context, serviceType, serviceName string, port uint16, peerToPeer bool, delegate AdvertiseDelegate) (Handle, error)
}

// DiscoveredService is one entry produced by a Browser stream.
type DiscoveredService struct {
	Name string
	Addr string // host:port as advertised; resolution happens separately
}

// Browser discovers services of a given type and resolves a name to its
// candidate IP addresses (spec.md §6). This is the abstract capability
// the spec names; internal/discovery/mdns does not implement it in full
// (see that package's doc comment) because pion/mdns/v2 has no passive
// service-instance enumeration API, only point name resolution — it
// implements Resolver instead.
type Browser interface {
	Browse(ctx context.Context, serviceType string) (<-chan DiscoveredService, error)
	Resolve(ctx context.Context, name string) ([]string, error)
}

// Resolver is the subset of Browser a concrete binding can offer when it
// can only look up a name it's already been given, not enumerate unknown
// ones.
type Resolver interface {
	Resolve(ctx context.Context, name string) ([]string, error)
}
