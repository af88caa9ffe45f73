package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"io"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"
)

// QUICTransport exchanges message bytes over QUIC streams between
// explicitly configured peer addresses. Unlike UDPTransport it does not
// discover peers by broadcast; StartDiscovery dials every address in
// staticPeers and treats a successful handshake as EndpointConnected.
type QUICTransport struct {
	listenAddr  string
	staticPeers map[string]string // endpointID -> "host:port"
	tlsServer   *tls.Config
	tlsClient   *tls.Config
	events      chan Event

	mu    sync.RWMutex
	conns map[string]*quic.Conn

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQUICTransport prepares a QUIC transport listening on listenAddr, with
// staticPeers mapping opaque endpoint IDs to dial addresses.
func NewQUICTransport(listenAddr string, staticPeers map[string]string) (*QUICTransport, error) {
	serverConf, err := devServerTLSConfig()
	if err != nil {
		return nil, err
	}
	clientConf, err := devClientTLSConfig()
	if err != nil {
		return nil, err
	}
	return &QUICTransport{
		listenAddr:  listenAddr,
		staticPeers: staticPeers,
		tlsServer:   serverConf,
		tlsClient:   clientConf,
		events:      make(chan Event, 64),
		conns:       make(map[string]*quic.Conn),
	}, nil
}

// StartAdvertising begins accepting inbound QUIC connections.
func (t *QUICTransport) StartAdvertising(ctx context.Context, selfID string) error {
	listener, err := quic.ListenAddr(t.listenAddr, t.tlsServer, nil)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.ctx, t.cancel = context.WithCancel(context.Background())
	t.mu.Unlock()

	t.wg.Add(1)
	go t.acceptLoop(listener)
	return nil
}

func (t *QUICTransport) acceptLoop(listener *quic.Listener) {
	defer t.wg.Done()
	defer func() { _ = listener.Close() }()

	for {
		conn, err := listener.Accept(t.ctx)
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			logrus.WithError(err).Debug("transport(quic): accept failed")
			continue
		}
		t.wg.Add(1)
		go t.serveConn(conn)
	}
}

func (t *QUICTransport) serveConn(conn *quic.Conn) {
	defer t.wg.Done()
	for {
		stream, err := conn.AcceptStream(t.ctx)
		if err != nil {
			return
		}
		t.wg.Add(1)
		go t.readStream(conn, stream)
	}
}

func (t *QUICTransport) readStream(conn *quic.Conn, stream *quic.Stream) {
	defer t.wg.Done()
	defer func() { _ = stream.Close() }()

	data, err := io.ReadAll(stream)
	if err != nil || len(data) == 0 {
		return
	}
	fromID := t.endpointForConn(conn)
	if fromID == "" {
		return
	}
	t.emit(Event{Kind: BytesReceived, EndpointID: fromID, Payload: data})
}

// StartDiscovery dials every configured static peer.
func (t *QUICTransport) StartDiscovery(ctx context.Context) error {
	for id, addr := range t.staticPeers {
		go t.dial(id, addr)
	}
	return nil
}

func (t *QUICTransport) dial(endpointID, addr string) {
	conn, err := quic.DialAddr(t.ctx, addr, t.tlsClient, nil)
	if err != nil {
		logrus.WithError(err).WithField("endpoint_id", endpointID).Debug("transport(quic): dial failed")
		return
	}

	t.mu.Lock()
	_, existed := t.conns[endpointID]
	t.conns[endpointID] = conn
	t.mu.Unlock()

	if !existed {
		t.emit(Event{Kind: EndpointConnected, EndpointID: endpointID, Name: endpointID})
	}
}

func (t *QUICTransport) endpointForConn(conn *quic.Conn) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for id, c := range t.conns {
		if c == conn {
			return id
		}
	}
	return ""
}

// Send opens a fresh stream on endpointID's connection and writes payload.
func (t *QUICTransport) Send(endpointID string, payload []byte) error {
	t.mu.RLock()
	conn, ok := t.conns[endpointID]
	t.mu.RUnlock()
	if !ok {
		return ErrEndpointUnknown
	}
	return writeStream(t.ctx, conn, payload)
}

// Broadcast writes payload to every connected endpoint.
func (t *QUICTransport) Broadcast(payload []byte) error {
	t.mu.RLock()
	conns := make(map[string]*quic.Conn, len(t.conns))
	for id, c := range t.conns {
		conns[id] = c
	}
	t.mu.RUnlock()

	if len(conns) == 0 {
		return ErrNoPeers
	}
	var firstErr error
	for id, conn := range conns {
		if err := writeStream(t.ctx, conn, payload); err != nil {
			logrus.WithError(err).WithField("endpoint_id", id).Debug("transport(quic): broadcast write failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func writeStream(ctx context.Context, conn *quic.Conn, payload []byte) error {
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return err
	}
	if _, err := stream.Write(payload); err != nil {
		return err
	}
	return stream.Close()
}

// StopAll closes every connection and stops accepting new ones.
func (t *QUICTransport) StopAll() error {
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	conns := make([]*quic.Conn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.conns = make(map[string]*quic.Conn)
	t.mu.Unlock()

	for _, c := range conns {
		_ = c.CloseWithError(0, "")
	}
	t.wg.Wait()
	close(t.events)
	return nil
}

// ConnectedEndpoints returns the currently connected endpoint IDs.
func (t *QUICTransport) ConnectedEndpoints() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.conns))
	for id := range t.conns {
		out = append(out, id)
	}
	return out
}

// Events returns the channel this transport delivers occurrences on.
func (t *QUICTransport) Events() <-chan Event {
	return t.events
}

func (t *QUICTransport) emit(ev Event) {
	select {
	case t.events <- ev:
	default:
		logrus.Warn("transport(quic): event channel full, dropping event")
	}
}

// devZeroReader is a deterministic entropy source for the self-signed dev
// certificate: every binary built from the same source derives the same
// certificate, which is convenient for local multi-node tests but is not a
// production trust root.
type devZeroReader struct{}

func (devZeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}

func devCertificate() (tls.Certificate, *x509.Certificate, error) {
	seed := sha256.Sum256([]byte("dtmesh-quic-dev-cert"))
	priv := ed25519.NewKeyFromSeed(seed[:])
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(10 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
	}
	der, err := x509.CreateCertificate(devZeroReader{}, template, template, priv.Public(), priv)
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, nil, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, cert, nil
}

func devServerTLSConfig() (*tls.Config, error) {
	cert, _, err := devCertificate()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"dtmesh"},
	}, nil
}

func devClientTLSConfig() (*tls.Config, error) {
	_, cert, err := devCertificate()
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	pool.AddCert(cert)
	return &tls.Config{
		RootCAs:    pool,
		NextProtos: []string{"dtmesh"},
	}, nil
}
