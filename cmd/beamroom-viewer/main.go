// Command beamroom-viewer connects to a BeamRoom host, pairs, and
// reassembles the incoming media stream (a real build would hand the
// reassembled access units to a platform H.264 decoder and present
// frames; this CLI logs reassembly stats instead).
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/beamroom/beamroomd/internal/control"
	"github.com/beamroom/beamroomd/internal/discovery/mdns"
	"github.com/beamroom/beamroomd/internal/logging"
	"github.com/beamroom/beamroomd/internal/mediaassembler"
	"github.com/beamroom/beamroomd/internal/mediaplane"
	"github.com/beamroom/beamroomd/internal/model"
)

func main() {
	var (
		hostAddr    string
		mdnsName    string
		controlPort int
		code        string
	)

	root := &cobra.Command{
		Use:   "beamroom-viewer",
		Short: "Connect to a BeamRoom host and stream its screen",
		RunE: func(cmd *cobra.Command, args []string) error {
			if hostAddr == "" && mdnsName == "" {
				return fmt.Errorf("one of --host (host:port) or --mdns-name (mDNS instance name) is required")
			}
			return run(cmd.Context(), hostAddr, mdnsName, controlPort, code)
		},
	}
	root.Flags().StringVar(&hostAddr, "host", "", "control-plane host:port")
	root.Flags().StringVar(&mdnsName, "mdns-name", "", "mDNS instance name to resolve instead of --host (e.g. \"my-mac._beamctl._tcp.local.\")")
	root.Flags().IntVar(&controlPort, "control-port", control.DefaultControlPort, "control-plane TCP port, used with --mdns-name")
	root.Flags().StringVar(&code, "code", "", "pairing code")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveTarget produces the control-plane TCP address, either directly
// from --host or by resolving --mdns-name via internal/discovery/mdns's
// Resolve (spec.md §6: the resolve(name) -> [ip-address...] half of the
// abstract browse/resolve capability).
func resolveTarget(ctx context.Context, hostAddr, mdnsName string, controlPort int) (*net.TCPAddr, error) {
	if hostAddr != "" {
		tcpAddr, err := net.ResolveTCPAddr("tcp", hostAddr)
		if err != nil {
			return nil, fmt.Errorf("resolve --host: %w", err)
		}
		return tcpAddr, nil
	}

	binding, err := mdns.New()
	if err != nil {
		return nil, fmt.Errorf("--mdns-name resolution unavailable: %w", err)
	}
	defer binding.Close()

	addrs, err := binding.Resolve(ctx, mdnsName)
	if err != nil {
		return nil, fmt.Errorf("resolve --mdns-name %q: %w", mdnsName, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("resolve --mdns-name %q: no addresses returned", mdnsName)
	}
	ip := net.ParseIP(addrs[0])
	if ip == nil {
		return nil, fmt.Errorf("resolve --mdns-name %q: invalid address %q", mdnsName, addrs[0])
	}
	return &net.TCPAddr{IP: ip, Port: controlPort}, nil
}

func run(ctx context.Context, hostAddr, mdnsName string, controlPort int, code string) error {
	log := logging.For("cmd.viewer")

	tcpAddr, err := resolveTarget(ctx, hostAddr, mdnsName, controlPort)
	if err != nil {
		return err
	}
	ep := model.EndpointFromTCPAddr(tcpAddr)

	client := control.NewClient(control.DefaultViewerConfig())
	defer client.Disconnect()

	assembler := mediaassembler.NewAssembler(mediaassembler.DefaultMaxAge)
	mediaClient := mediaplane.NewViewer(mediaplane.DefaultViewerConfig())
	defer mediaClient.Close()

	statusCh, cancelStatus := client.Status.Subscribe()
	defer cancelStatus()
	portCh, cancelPort := client.UDPPort.Subscribe()
	defer cancelPort()

	var mediaConnected bool
	connectMedia := func(port uint16) {
		if mediaConnected {
			return
		}
		mediaConnected = true
		ip := tcpAddr.IP
		target := &net.UDPAddr{IP: ip, Port: int(port)}
		if err := mediaClient.Connect(ctx, target, func(payload []byte) {
			unit, err := assembler.Ingest(payload, time.Now())
			if err != nil {
				log.Debug().Err(err).Msg("dropped malformed media datagram")
				return
			}
			if unit != nil {
				log.Debug().Uint32("seq", unit.Seq).Int("bytes", len(unit.AVCCData)).Bool("keyframe", unit.Keyframe).Msg("reassembled access unit")
			}
		}); err != nil {
			log.Warn().Err(err).Msg("failed to connect media plane")
			mediaConnected = false
		}
	}

	if err := client.Connect(ctx, ep, code); err != nil {
		log.Warn().Err(err).Msg("initial connect failed; auto-retry scheduled")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case st := <-statusCh:
			log.Info().Str("status", st.String()).Msg("control status changed")
			if st == control.StatusFailed {
				log.Warn().Str("reason", client.FailReason.Get()).Msg("control connection failed")
			}
		case port := <-portCh:
			if port != nil {
				connectMedia(*port)
			}
		}
	}
}
