package virtual

import (
	"bufio"
	"errors"
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Server is a minimal in-process virtualcan broker.
// Every frame received from a client is forwarded to all the other clients.
type Server struct {
	mu       sync.Mutex
	listener net.Listener
	clients  map[net.Conn]struct{}
	wg       sync.WaitGroup
	closed   bool
}

// Start listening on addr e.g. "localhost:18888" or "127.0.0.1:0"
func NewServer(addr string) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &Server{listener: listener, clients: make(map[net.Conn]struct{})}
	s.wg.Add(1)
	go s.accept()
	return s, nil
}

// Address the server is listening on
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) accept() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Errorf("[VIRTUAL SERVER] accept failed : %v", err)
			}
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.clients[conn] = struct{}{}
		s.mu.Unlock()
		log.Debugf("[VIRTUAL SERVER] new client %v", conn.RemoteAddr())
		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Server) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()
	reader := bufio.NewReader(conn)
	for {
		frame, err := readFrame(reader)
		if err != nil {
			return
		}
		raw, err := serializeFrame(frame)
		if err != nil {
			continue
		}
		s.mu.Lock()
		for client := range s.clients {
			if client == conn {
				continue
			}
			if _, err := client.Write(raw); err != nil {
				log.Warnf("[VIRTUAL SERVER] failed to forward frame to %v : %v", client.RemoteAddr(), err)
			}
		}
		s.mu.Unlock()
	}
}

// Stop the server and disconnect all clients
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	err := s.listener.Close()
	for client := range s.clients {
		client.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return err
}
