package mdns

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/beamroom/beamroomd/internal/discovery"
)

// Binding must satisfy discovery.Advertiser and the narrower
// discovery.Resolver, but not the full discovery.Browser (see the package
// doc comment for why Browse can't be implemented on pion/mdns/v2).
var (
	_ discovery.Advertiser = (*Binding)(nil)
	_ discovery.Resolver   = (*Binding)(nil)
)

func TestServiceInstanceNameTrimsTrailingDots(t *testing.T) {
	assert.Equal(t, "my-mac._beamctl._tcp.local.", serviceInstanceName("_beamctl._tcp.", "my-mac."))
	assert.Equal(t, "my-mac._beamctl._tcp.local.", serviceInstanceName("_beamctl._tcp", "my-mac"))
}
