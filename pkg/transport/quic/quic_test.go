package quic

import (
	"testing"

	"peerlink/pkg/conformance"
	"peerlink/pkg/transport"
)

func TestConformance(t *testing.T) {
	if testing.Short() {
		t.Skip("quic handshakes are slow")
	}
	conformance.Suite(t, []string{"127.0.0.1:0", "127.0.0.1:0"}, func(cfg *transport.Config[conformance.Data]) (transport.Transport[conformance.Data], error) {
		return New(cfg)
	})
}

func TestSelfSignedCert(t *testing.T) {
	cert, err := selfSignedCert()
	if err != nil {
		t.Fatalf("cert: %v", err)
	}
	if len(cert.Certificate) != 1 || cert.PrivateKey == nil {
		t.Fatalf("incomplete certificate")
	}
}
