package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	beaconInterval  = 5 * time.Second
	peerTimeout     = 15 * time.Second
	udpReadDeadline = 200 * time.Millisecond
	maxUDPDatagram  = 65507

	frameBeacon byte = 1
	frameData   byte = 2
)

// UDPTransport discovers peers via periodic broadcast beacons on a LAN and
// exchanges message bytes as individual UDP datagrams. It satisfies
// PeerTransport.
type UDPTransport struct {
	conn        net.PacketConn
	broadcast   *net.UDPAddr
	events      chan Event
	selfID      string
	advertising bool

	mu    sync.RWMutex
	peers map[string]*peerInfo // endpointID -> info

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type peerInfo struct {
	addr     net.Addr
	lastSeen time.Time
}

// NewUDPTransport binds a UDP socket on listenAddr (e.g. ":7770") and
// prepares broadcast beaconing on broadcastAddr (e.g. "255.255.255.255:7770").
func NewUDPTransport(listenAddr, broadcastAddr string) (*UDPTransport, error) {
	conn, err := net.ListenPacket("udp4", listenAddr)
	if err != nil {
		return nil, err
	}
	bcast, err := net.ResolveUDPAddr("udp4", broadcastAddr)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	t := &UDPTransport{
		conn:      conn,
		broadcast: bcast,
		events:    make(chan Event, 64),
		peers:     make(map[string]*peerInfo),
	}
	return t, nil
}

// StartAdvertising begins broadcasting beacons announcing selfID.
func (t *UDPTransport) StartAdvertising(ctx context.Context, selfID string) error {
	t.mu.Lock()
	if t.ctx == nil {
		t.ctx, t.cancel = context.WithCancel(context.Background())
		t.wg.Add(1)
		go t.readLoop()
	}
	t.selfID = selfID
	t.advertising = true
	t.mu.Unlock()

	t.wg.Add(2)
	go t.beaconLoop()
	go t.expireLoop()
	return nil
}

// StartDiscovery is a no-op for UDPTransport: reading beacons happens
// unconditionally in readLoop, started by StartAdvertising or here if it
// has not run yet.
func (t *UDPTransport) StartDiscovery(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ctx == nil {
		t.ctx, t.cancel = context.WithCancel(context.Background())
		t.wg.Add(1)
		go t.readLoop()
	}
	return nil
}

func (t *UDPTransport) beaconLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(beaconInterval)
	defer ticker.Stop()

	t.sendBeacon()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.sendBeacon()
		}
	}
}

func (t *UDPTransport) sendBeacon() {
	t.mu.RLock()
	id := t.selfID
	t.mu.RUnlock()

	frame := make([]byte, 1+len(id))
	frame[0] = frameBeacon
	copy(frame[1:], id)
	if _, err := t.conn.WriteTo(frame, t.broadcast); err != nil {
		logrus.WithError(err).Debug("transport(udp): beacon send failed")
	}
}

func (t *UDPTransport) expireLoop() {
	defer t.wg.Done()
	ticker := time.NewTicker(beaconInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.expireStalePeers()
		}
	}
}

func (t *UDPTransport) expireStalePeers() {
	now := time.Now()
	var gone []string

	t.mu.Lock()
	for id, p := range t.peers {
		if now.Sub(p.lastSeen) > peerTimeout {
			delete(t.peers, id)
			gone = append(gone, id)
		}
	}
	t.mu.Unlock()

	for _, id := range gone {
		t.emit(Event{Kind: EndpointDisconnected, EndpointID: id})
	}
}

func (t *UDPTransport) readLoop() {
	defer t.wg.Done()
	buf := make([]byte, maxUDPDatagram)
	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		_ = t.conn.SetReadDeadline(time.Now().Add(udpReadDeadline))
		n, addr, err := t.conn.ReadFrom(buf)
		if err != nil {
			continue
		}
		if n < 1 {
			continue
		}
		t.handleFrame(buf[0], buf[1:n], addr)
	}
}

func (t *UDPTransport) handleFrame(kind byte, payload []byte, addr net.Addr) {
	switch kind {
	case frameBeacon:
		t.handleBeacon(string(payload), addr)
	case frameData:
		t.handleData(payload, addr)
	}
}

func (t *UDPTransport) handleBeacon(peerID string, addr net.Addr) {
	if peerID == "" {
		return
	}
	t.mu.RLock()
	self := t.selfID
	_, known := t.peers[peerID]
	t.mu.RUnlock()
	if peerID == self {
		return
	}

	t.mu.Lock()
	t.peers[peerID] = &peerInfo{addr: addr, lastSeen: time.Now()}
	t.mu.Unlock()

	if !known {
		t.emit(Event{Kind: EndpointConnected, EndpointID: peerID, Name: peerID})
	}
}

func (t *UDPTransport) handleData(payload []byte, addr net.Addr) {
	fromID := t.endpointForAddr(addr)
	if fromID == "" {
		return
	}
	body := make([]byte, len(payload))
	copy(body, payload)
	t.emit(Event{Kind: BytesReceived, EndpointID: fromID, Payload: body})
}

func (t *UDPTransport) endpointForAddr(addr net.Addr) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for id, p := range t.peers {
		if p.addr.String() == addr.String() {
			return id
		}
	}
	return ""
}

// Send delivers payload to a single connected endpoint's last-known address.
func (t *UDPTransport) Send(endpointID string, payload []byte) error {
	t.mu.RLock()
	p, ok := t.peers[endpointID]
	t.mu.RUnlock()
	if !ok {
		return ErrEndpointUnknown
	}
	return t.writeFrame(payload, p.addr)
}

// Broadcast delivers payload to every currently connected endpoint.
func (t *UDPTransport) Broadcast(payload []byte) error {
	t.mu.RLock()
	addrs := make([]net.Addr, 0, len(t.peers))
	for _, p := range t.peers {
		addrs = append(addrs, p.addr)
	}
	t.mu.RUnlock()
	if len(addrs) == 0 {
		return ErrNoPeers
	}

	var firstErr error
	for _, addr := range addrs {
		if err := t.writeFrame(payload, addr); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *UDPTransport) writeFrame(payload []byte, addr net.Addr) error {
	frame := make([]byte, 1+len(payload))
	frame[0] = frameData
	copy(frame[1:], payload)
	_, err := t.conn.WriteTo(frame, addr)
	return err
}

// StopAll halts beaconing and the read loop and closes the socket.
func (t *UDPTransport) StopAll() error {
	t.mu.Lock()
	if t.cancel != nil {
		t.cancel()
	}
	t.mu.Unlock()

	t.wg.Wait()
	err := t.conn.Close()
	close(t.events)
	return err
}

// ConnectedEndpoints returns the currently reachable endpoint IDs.
func (t *UDPTransport) ConnectedEndpoints() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.peers))
	for id := range t.peers {
		out = append(out, id)
	}
	return out
}

// Events returns the channel this transport delivers occurrences on.
func (t *UDPTransport) Events() <-chan Event {
	return t.events
}

func (t *UDPTransport) emit(ev Event) {
	select {
	case t.events <- ev:
	default:
		logrus.Warn("transport(udp): event channel full, dropping event")
	}
}
