// Package netstack builds transports from their configured kind name.
package netstack

import (
	"fmt"
	"strings"

	"peerlink/pkg/transport"
	"peerlink/pkg/transport/mem"
	tquic "peerlink/pkg/transport/quic"
	ttcp "peerlink/pkg/transport/tcp"
	"peerlink/pkg/transport/udp"
)

type ErrUnknownKind string

func (e ErrUnknownKind) Error() string { return fmt.Sprintf("unknown transport kind %q", string(e)) }

// ParseKind maps a kind name, or one of its aliases, to a transport.Kind.
func ParseKind(kind string) (transport.Kind, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "tcp":
		return transport.KindTCP, nil
	case "udp":
		return transport.KindUDP, nil
	case "quic", "h3", "http3":
		return transport.KindQUIC, nil
	case "mem", "inproc", "shared":
		return transport.KindMem, nil
	default:
		return transport.KindUnknown, transport.NewError(transport.CodeInvalidArgument, "netstack", "", ErrUnknownKind(kind))
	}
}

// Open constructs a transport of the named kind from cfg. In-process
// transports join mem.DefaultNetwork.
func Open[D any](kind string, cfg *transport.Config[D]) (transport.Transport[D], error) {
	k, err := ParseKind(kind)
	if err != nil {
		return nil, err
	}
	switch k {
	case transport.KindTCP:
		t, err := ttcp.New(cfg)
		if err != nil {
			return nil, err
		}
		return t, nil
	case transport.KindUDP:
		t, err := udp.New(cfg)
		if err != nil {
			return nil, err
		}
		return t, nil
	case transport.KindQUIC:
		t, err := tquic.New(cfg)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		t, err := mem.New(cfg)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}
