package server

import (
	"log"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

const peerWriteTimeout = 10 * time.Second

// peer is the outbound half of a connection.
type peer interface {
	// send queues a text frame. It never blocks and reports whether the
	// frame was accepted.
	send(frame []byte) bool
	// close flushes queued frames and closes the connection.
	close()
}

type wsPeer struct {
	conn      *websocket.Conn
	out       chan []byte
	done      chan struct{}
	finished  chan struct{}
	closeOnce sync.Once
}

func newWSPeer(conn *websocket.Conn) *wsPeer {
	return &wsPeer{
		conn:     conn,
		out:      make(chan []byte, outboundQueueLen),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
	}
}

func (p *wsPeer) send(frame []byte) bool {
	if len(frame) == 0 {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.out <- frame:
		return true
	default:
		log.Printf("rooms: outbound queue full, dropping frame remote=%s", p.remoteAddr())
		return false
	}
}

func (p *wsPeer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
}

// closeAndWait closes the peer and blocks until the writer has exited.
func (p *wsPeer) closeAndWait() {
	p.close()
	<-p.finished
}

func (p *wsPeer) writeLoop() {
	defer close(p.finished)
	defer func() {
		_ = p.conn.Close()
	}()

	for {
		select {
		case frame := <-p.out:
			if err := p.write(frame); err != nil {
				p.close()
				return
			}
		case <-p.done:
			for {
				select {
				case frame := <-p.out:
					if err := p.write(frame); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (p *wsPeer) write(frame []byte) error {
	_ = p.conn.SetWriteDeadline(time.Now().Add(peerWriteTimeout))
	return websocket.Message.Send(p.conn, string(frame))
}

func (p *wsPeer) remoteAddr() string {
	if request := p.conn.Request(); request != nil {
		return request.RemoteAddr
	}
	return ""
}

// session is one live connection inside a room. Its attachment (session id
// and identified client id) survives coordinator reloads.
type session struct {
	id   string
	peer peer

	mu       sync.Mutex
	clientID string
	owner    *coordinator
}

func newSession(id string, peer peer) *session {
	return &session{id: id, peer: peer}
}

func (s *session) client() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientID
}

func (s *session) setClient(clientID string) {
	s.mu.Lock()
	s.clientID = clientID
	s.mu.Unlock()
}

func (s *session) coordinator() *coordinator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

func (s *session) setCoordinator(c *coordinator) {
	s.mu.Lock()
	s.owner = c
	s.mu.Unlock()
}

func (s *session) send(v any) {
	s.peer.send(mustJSON(v))
}
