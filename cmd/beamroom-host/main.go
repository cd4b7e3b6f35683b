// Command beamroom-host runs the host side of a BeamRoom session: it
// accepts viewer pairing requests, advertises itself over mDNS, and
// relays whatever media datagrams the caller feeds it (a real build would
// wire this to a platform screen-capture + H.264 encoder; this CLI
// exercises the transport with synthetic test-pattern frames instead).
package main

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/beamroom/beamroomd/internal/control"
	"github.com/beamroom/beamroomd/internal/discovery"
	"github.com/beamroom/beamroomd/internal/discovery/mdns"
	"github.com/beamroom/beamroomd/internal/logging"
	"github.com/beamroom/beamroomd/internal/mediaassembler"
	"github.com/beamroom/beamroomd/internal/mediaplane"
	"github.com/beamroom/beamroomd/internal/model"
)

func main() {
	var (
		controlPort int
		serviceName string
		autoAccept  bool
		mtu         int
	)

	root := &cobra.Command{
		Use:   "beamroom-host",
		Short: "Run the BeamRoom host control and media planes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), controlPort, serviceName, autoAccept, mtu)
		},
	}
	root.Flags().IntVar(&controlPort, "control-port", control.DefaultControlPort, "TCP control port")
	root.Flags().StringVar(&serviceName, "name", hostnameOrDefault(), "advertised service name")
	root.Flags().BoolVar(&autoAccept, "auto-accept", false, "accept every pairing request without prompting")
	root.Flags().IntVar(&mtu, "mtu", mediaassembler.DefaultMTU, "media datagram MTU")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, controlPort int, serviceName string, autoAccept bool, mtu int) error {
	log := logging.For("cmd.host")

	media := mediaplane.NewHost(mediaplane.HostConfig{
		PeerTTL: mediaplane.DefaultHostPeerTTL,
		OnPeerChange: func(addr *net.UDPAddr) {
			if addr == nil {
				log.Info().Msg("active viewer peer expired")
			} else {
				log.Info().Str("peer", addr.String()).Msg("active viewer peer changed")
			}
		},
	})

	hostListener := control.NewListener(control.HostConfig{
		Port:            controlPort,
		AutoAccept:      autoAccept,
		BroadcastSource: func() bool { return media.ActivePeer() != nil },
	})
	if !autoAccept {
		hostListener.OnPairingRequested(func(rec model.PairingRecord) {
			log.Info().Str("remote", rec.Remote).Str("code", rec.Code).Msg("pairing requested; accepting (no interactive operator surface in this CLI)")
			hostListener.Accept(rec.ConnectionID)
		})
	}

	mediaDone := make(chan error, 1)
	go func() {
		mediaDone <- media.Serve(ctx, func(src *net.UDPAddr, payload []byte) {})
	}()

	go func() {
		// Announce the bound media port once the UDP socket is live.
		for i := 0; i < 100 && media.Port() == 0; i++ {
			time.Sleep(10 * time.Millisecond)
		}
		if port := media.Port(); port != 0 {
			hostListener.SetMediaPort(uint16(port))
		}
	}()

	binding, err := mdns.New()
	if err != nil {
		log.Warn().Err(err).Msg("mDNS advertisement unavailable, continuing without it")
	} else {
		defer binding.Close()
		handle, err := binding.Advertise(ctx, discovery.DefaultControlServiceType, serviceName, uint16(controlPort), false, discovery.AdvertiseDelegate{
			OnPublished:     func(name string) { log.Info().Str("name", name).Msg("advertised control service") },
			OnDidNotPublish: func(err error) { log.Warn().Err(err).Msg("failed to advertise control service") },
		})
		if err == nil {
			defer handle.Stop()
		}
	}

	go sendSyntheticFrames(ctx, media, mtu)

	log.Info().Int("port", controlPort).Msg("beamroom-host listening")
	return hostListener.Serve(ctx)
}

// sendSyntheticFrames feeds the media plane fabricated access units so the
// transport is exercisable end-to-end without a real encoder attached.
func sendSyntheticFrames(ctx context.Context, host *mediaplane.Host, mtu int) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	var seq uint32
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			keyframe := seq%30 == 0
			data := make([]byte, 4+rand.Intn(2000))
			au := mediaassembler.AccessUnit{
				Seq:      seq,
				Keyframe: keyframe,
				Width:    1280,
				Height:   720,
				Data:     data,
			}
			datagrams, err := mediaassembler.Fragment(mtu, au)
			if err == nil {
				for _, dg := range datagrams {
					host.Send(dg)
				}
			}
			seq++
		}
	}
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "beamroom-host"
	}
	return h
}
