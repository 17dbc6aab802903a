package net

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"

	"ironbook/internal/common"
	"ironbook/internal/workerpool"
)

const (
	maxRecvSize        = 4 * 1024
	defaultNWorkers    = 10
	defaultConnTimeout = 5 * time.Second
)

var (
	ErrImproperConversion = errors.New("net: improper type conversion")
	ErrClientDoesNotExist = errors.New("net: client does not exist")
)

type clientSession struct {
	conn net.Conn
}

type clientMessage struct {
	clientAddress string
	message       Message
}

// Engine is the subset of a multi-market engine registry the server needs:
// placing and cancelling orders, and looking up status, against a named
// market.
type Engine interface {
	Place(marketID string, order common.Order) (trades []common.Trade, status common.OrderStatus, err error)
	Cancel(marketID string, orderID uuid.UUID) (bool, error)
	Status(marketID string, orderID uuid.UUID) (common.Order, bool, error)
	LogBook(marketID string)
}

// Server accepts TCP connections, parses wire messages off them, and
// dispatches to an Engine.
type Server struct {
	address string
	port    int
	engine  Engine
	pool    workerpool.Pool
	cancel  context.CancelFunc

	sessionsLock sync.Mutex
	sessions     map[string]clientSession

	messages chan clientMessage
}

// New constructs a server listening on address:port against engine.
func New(address string, port int, engine Engine) *Server {
	return &Server{
		address:  address,
		port:     port,
		engine:   engine,
		pool:     workerpool.New(defaultNWorkers),
		sessions: make(map[string]clientSession),
		messages: make(chan clientMessage, 64),
	}
}

// Shutdown stops the server's run loop.
func (s *Server) Shutdown() {
	log.Info().Msg("server shutting down")
	if s.cancel != nil {
		s.cancel()
	}
}

// Run starts accepting connections and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	defer s.Shutdown()

	ctx, s.cancel = context.WithCancel(ctx)
	t, ctx := tomb.WithContext(ctx)

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("%s:%d", s.address, s.port))
	if err != nil {
		log.Error().Err(err).Msg("unable to start listener")
		return
	}
	defer func() {
		if err := listener.Close(); err != nil {
			log.Error().Err(err).Msg("unable to close listener")
		}
	}()

	t.Go(func() error {
		s.pool.Setup(t, s.handleConnection)
		return nil
	})

	t.Go(func() error {
		return s.sessionHandler(t)
	})

	log.Info().Str("address", s.address).Int("port", s.port).Msg("server listening")

	for {
		select {
		case <-ctx.Done():
			return
		default:
			conn, err := listener.Accept()
			if err != nil {
				log.Error().Err(err).Msg("error accepting client")
				continue
			}
			s.addSession(conn)
			s.pool.AddTask(conn)
		}
	}
}

func (s *Server) sessionHandler(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case msg := <-s.messages:
			if err := s.handleMessage(msg); err != nil {
				log.Error().Err(err).Str("clientAddress", msg.clientAddress).Msg("error handling message")
			}
		}
	}
}

func (s *Server) handleMessage(msg clientMessage) error {
	switch m := msg.message.(type) {
	case NewOrderMessage:
		order := m.Order()
		trades, status, err := s.engine.Place(m.MarketID, order)
		if err != nil {
			return s.send(msg.clientAddress, errorReport(order.ID, m.MarketID, err))
		}
		for _, trade := range trades {
			if err := s.send(msg.clientAddress, executionReport(m.MarketID, trade, m.Side, order.ID, status)); err != nil {
				return err
			}
		}
		return nil
	case CancelOrderMessage:
		_, err := s.engine.Cancel(m.MarketID, m.OrderID)
		if err != nil {
			return s.send(msg.clientAddress, errorReport(m.OrderID, m.MarketID, err))
		}
		return nil
	case StatusRequestMessage:
		order, ok, err := s.engine.Status(m.MarketID, m.OrderID)
		if err != nil || !ok {
			return s.send(msg.clientAddress, errorReport(m.OrderID, m.MarketID, fmt.Errorf("order not found")))
		}
		return s.send(msg.clientAddress, statusReport(order))
	case LogBookMessage:
		s.engine.LogBook(m.MarketID)
		return nil
	default:
		return ErrInvalidMessageType
	}
}

func (s *Server) send(clientAddress string, report Report) error {
	s.sessionsLock.Lock()
	session, ok := s.sessions[clientAddress]
	s.sessionsLock.Unlock()
	if !ok {
		return ErrClientDoesNotExist
	}
	if _, err := session.conn.Write(report.Serialize()); err != nil {
		s.deleteSession(clientAddress)
		return fmt.Errorf("net: write report: %w", err)
	}
	return nil
}

// handleConnection reads one message off conn, hands it to the session
// handler, and re-queues the connection for its next message. Any error
// returned here is fatal to the worker goroutine handling it.
func (s *Server) handleConnection(t *tomb.Tomb, task any) error {
	conn, ok := task.(net.Conn)
	if !ok {
		return ErrImproperConversion
	}

	if err := conn.SetDeadline(time.Now().Add(defaultConnTimeout)); err != nil {
		log.Error().Err(err).Str("address", conn.RemoteAddr().String()).Msg("failed setting connection deadline")
		conn.Close()
		s.deleteSession(conn.RemoteAddr().String())
		return nil
	}

	select {
	case <-t.Dying():
		return nil
	default:
	}

	buf := make([]byte, maxRecvSize)
	n, err := conn.Read(buf)
	if err != nil {
		conn.Close()
		s.deleteSession(conn.RemoteAddr().String())
		return nil
	}

	message, err := parseMessage(buf[:n])
	if err != nil {
		log.Error().Err(err).Str("address", conn.RemoteAddr().String()).Msg("error parsing message")
		return nil
	}

	s.messages <- clientMessage{
		clientAddress: conn.RemoteAddr().String(),
		message:       message,
	}
	s.pool.AddTask(conn)
	return nil
}

func (s *Server) addSession(conn net.Conn) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	s.sessions[conn.RemoteAddr().String()] = clientSession{conn: conn}
}

func (s *Server) deleteSession(address string) {
	s.sessionsLock.Lock()
	defer s.sessionsLock.Unlock()
	delete(s.sessions, address)
}
