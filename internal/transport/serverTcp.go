package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/alfianX/crossgate-gw/config"
	"github.com/alfianX/crossgate-gw/internal/handler"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const DefaultMaxClient = 1000

type TCP struct {
	config    config.Config
	maxClient int
	handler   *handler.Handler
	limiter   *rate.Limiter
	log       *logrus.Logger

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
}

func NewTCP(appLogger *logrus.Logger, cnf config.Config, h *handler.Handler) (*TCP, error) {
	if h == nil {
		return nil, errors.New("transport -> handler is required")
	}

	maxClient := cnf.MaxClient
	if maxClient <= 0 {
		maxClient = DefaultMaxClient
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cnf.AcceptRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(cnf.AcceptRate), cnf.AcceptRate)
	}

	s := TCP{
		config:    cnf,
		maxClient: maxClient,
		handler:   h,
		limiter:   limiter,
		log:       appLogger,
		ready:     make(chan struct{}),
	}

	return &s, nil
}

// Addr blocks until Run is listening and returns the bound address.
func (s *TCP) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-s.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener.Addr(), nil
}

// Run accepts terminals until ctx ends, then closes every live connection
// and waits for their handlers.
func (s *TCP) Run(ctx context.Context) error {
	serverAddress := fmt.Sprintf("0.0.0.0:%d", s.config.ListenPort)
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		s.log.Errorf("Failed to listen on %s: %v", serverAddress, err)
		return err
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	close(s.ready)
	s.log.Infof("Server listen on %s (max client %d)", listener.Addr(), s.maxClient)

	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()

	sem := make(chan struct{}, s.maxClient)
	var wg sync.WaitGroup
	defer func() {
		_ = listener.Close()
		s.handler.Conns().CloseAll()
		wg.Wait()
		s.log.Infof("All client handlers finished. Server stopped.")
	}()

	for {
		if err := s.limiter.Wait(ctx); err != nil {
			s.log.Infof("Server shutting down due to context cancellation.")
			return ctx.Err()
		}

		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				s.log.Infof("Listener closed, stopping accept loop for graceful shutdown.")
				return ctx.Err()
			}

			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				s.log.Warnf("Temporary error accepting connection: %v. Retrying...", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}

			s.log.Errorf("Fatal error accepting connection: %v, stopping server!", err)
			return err
		}

		select {
		case sem <- struct{}{}:
		default:
			s.log.Warnf("Max client %d reached, rejecting %v", s.maxClient, conn.RemoteAddr())
			_ = conn.Close()
			continue
		}

		wg.Add(1)
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			s.handler.ClientHandler(ctx, conn)
		}()
	}
}
