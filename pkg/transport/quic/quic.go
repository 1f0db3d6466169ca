package quic

import (
	"bufio"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"math/big"
	"sync"
	"time"

	quicgo "github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"peerlink/pkg/transport"
)

// ALPN is the application protocol negotiated on every connection.
const ALPN = "peerlink"

const codeNormal quicgo.ApplicationErrorCode = 0

// Transport carries items as length-prefixed frames on one unidirectional
// QUIC stream per destination. Certificates are ephemeral and self-signed;
// peers are not authenticated at the TLS layer.
type Transport[D any] struct {
	*transport.Core[D]
}

func New[D any](cfg *transport.Config[D]) (*Transport[D], error) {
	core, err := transport.NewCore(transport.KindQUIC, cfg)
	if err != nil {
		return nil, err
	}
	bind := core.BindAddr()
	if _, _, err := transport.ParseHostPort(bind); err != nil {
		return nil, core.Abort(err)
	}
	cert, err := selfSignedCert()
	if err != nil {
		return nil, core.Abort(transport.NewError(transport.CodeIO, "tls", bind, err))
	}
	serverTLS := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPN},
		MinVersion:   tls.VersionTLS13,
	}
	qconf := &quicgo.Config{
		KeepAlivePeriod: 10 * time.Second,
		MaxIdleTimeout:  30 * time.Second,
	}
	l, err := quicgo.ListenAddr(bind, serverTLS, qconf)
	if err != nil {
		return nil, core.Abort(transport.NewError(transport.CodeIO, "bind", bind, err))
	}
	lk := &link{
		l:     l,
		conf:  qconf,
		log:   core.Logger(),
		recv:  core.Receive,
		spawn: core.Go,
		clientTLS: &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{ALPN},
			MinVersion:         tls.VersionTLS13,
		},
		out:     make(map[string]*conn),
		inbound: make(map[quicgo.Connection]struct{}),
	}
	core.Start(l.Addr(), lk)
	core.Go(lk.acceptLoop)
	return &Transport[D]{Core: core}, nil
}

type conn struct {
	mu sync.Mutex
	c  quicgo.Connection
	s  quicgo.SendStream
	bw *bufio.Writer
}

func (c *conn) write(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dl, ok := ctx.Deadline(); ok {
		_ = c.s.SetWriteDeadline(dl)
	} else {
		_ = c.s.SetWriteDeadline(time.Time{})
	}
	if err := transport.WriteFrame(c.bw, payload); err != nil {
		return err
	}
	return c.bw.Flush()
}

type link struct {
	l         *quicgo.Listener
	conf      *quicgo.Config
	clientTLS *tls.Config
	log       *zap.Logger
	recv      func([]byte)
	spawn     func(func(context.Context))

	mu      sync.Mutex
	closed  bool
	out     map[string]*conn
	inbound map[quicgo.Connection]struct{}
}

func (lk *link) acceptLoop(ctx context.Context) {
	for {
		qc, err := lk.l.Accept(ctx)
		if err != nil {
			if ctx.Err() == nil {
				lk.log.Debug("quic accept ended", zap.Error(err))
			}
			return
		}
		lk.mu.Lock()
		if lk.closed {
			lk.mu.Unlock()
			_ = qc.CloseWithError(codeNormal, "closing")
			return
		}
		lk.inbound[qc] = struct{}{}
		lk.mu.Unlock()
		lk.log.Debug("inbound quic connection", zap.Stringer("remote", qc.RemoteAddr()))
		lk.spawn(func(ctx context.Context) { lk.serveConn(ctx, qc) })
	}
}

// serveConn reads every unidirectional stream the remote opens on qc.
func (lk *link) serveConn(ctx context.Context, qc quicgo.Connection) {
	defer func() {
		lk.mu.Lock()
		delete(lk.inbound, qc)
		lk.mu.Unlock()
	}()
	for {
		s, err := qc.AcceptUniStream(ctx)
		if err != nil {
			return
		}
		lk.spawn(func(ctx context.Context) {
			br := bufio.NewReader(s)
			for {
				b, err := transport.ReadFrame(br)
				if err != nil {
					if ctx.Err() == nil && transport.IsCode(transport.WrapIO("read", "", err), transport.CodeIncomplete) {
						lk.log.Debug("quic stream truncated", zap.Stringer("remote", qc.RemoteAddr()), zap.Error(err))
					}
					return
				}
				lk.recv(b)
			}
		})
	}
}

func (lk *link) Deliver(ctx context.Context, address string, payload []byte) error {
	if _, _, err := transport.ParseHostPort(address); err != nil {
		return err
	}
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		c, err := lk.dial(ctx, address)
		if err != nil {
			return err
		}
		err = c.write(ctx, payload)
		if err == nil {
			return nil
		}
		lk.drop(address, c)
		if transport.IsCode(err, transport.CodeCapacityExceeded) {
			return err
		}
		lastErr = transport.WrapIO("send", address, err)
	}
	return lastErr
}

func (lk *link) dial(ctx context.Context, address string) (*conn, error) {
	lk.mu.Lock()
	if lk.closed {
		lk.mu.Unlock()
		return nil, transport.ErrClosed
	}
	if c, ok := lk.out[address]; ok {
		lk.mu.Unlock()
		return c, nil
	}
	lk.mu.Unlock()

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	qc, err := quicgo.DialAddr(ctx, address, lk.clientTLS, lk.conf)
	if err != nil {
		return nil, transport.NewError(transport.CodeIO, "dial", address, err)
	}
	s, err := qc.OpenUniStreamSync(ctx)
	if err != nil {
		_ = qc.CloseWithError(codeNormal, "stream open failed")
		return nil, transport.NewError(transport.CodeIO, "dial", address, err)
	}
	c := &conn{c: qc, s: s, bw: bufio.NewWriter(s)}

	lk.mu.Lock()
	defer lk.mu.Unlock()
	if lk.closed {
		_ = qc.CloseWithError(codeNormal, "closing")
		return nil, transport.ErrClosed
	}
	if existing, ok := lk.out[address]; ok {
		_ = qc.CloseWithError(codeNormal, "duplicate")
		return existing, nil
	}
	lk.out[address] = c
	lk.spawn(func(ctx context.Context) {
		select {
		case <-qc.Context().Done():
			lk.drop(address, c)
		case <-ctx.Done():
		}
	})
	return c, nil
}

func (lk *link) drop(address string, c *conn) {
	lk.mu.Lock()
	if lk.out[address] == c {
		delete(lk.out, address)
	}
	lk.mu.Unlock()
	_ = c.c.CloseWithError(codeNormal, "")
}

func (lk *link) Release() error {
	lk.mu.Lock()
	lk.closed = true
	out, in := lk.out, lk.inbound
	lk.out = map[string]*conn{}
	lk.inbound = map[quicgo.Connection]struct{}{}
	lk.mu.Unlock()

	for _, c := range out {
		c.mu.Lock()
		_ = c.bw.Flush()
		_ = c.s.Close()
		c.mu.Unlock()
		_ = c.c.CloseWithError(codeNormal, "closing")
	}
	for qc := range in {
		_ = qc.CloseWithError(codeNormal, "closing")
	}
	return lk.l.Close()
}

// selfSignedCert generates a short-lived self-signed certificate for the
// listener.
func selfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
