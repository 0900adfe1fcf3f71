package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sleroq/web.cum.army/internal/environment"
	"github.com/sleroq/web.cum.army/internal/server/handlers"
)

type Config struct {
	// Empty reads METRICS_ADDRESS
	Address  string
	Gatherer prometheus.Gatherer
	Health   handlers.HealthFunc
	Logger   *zap.Logger
}

// Server exposes metrics and health of the running client.
type Server struct {
	server   *http.Server
	listener net.Listener
	logger   *zap.Logger
	done     chan struct{}
}

// StartWebServer binds the metrics address and serves in the background,
// over TLS when SSL_KEY and SSL_CERT are set.
func StartWebServer(config Config) (*Server, error) {
	if config.Logger == nil {
		config.Logger = zap.L()
	}

	server := &Server{
		server: &http.Server{
			Handler: handlers.GetServeMuxHandler(config.Gatherer, config.Health, config.Logger),
		},
		logger: config.Logger,
		done:   make(chan struct{}),
	}

	if os.Getenv(environment.SSLKey) != "" && os.Getenv(environment.SSLCert) != "" {
		if err := server.startHTTPSServer(config.Address); err != nil {
			return nil, err
		}
	} else if err := server.startHTTPServer(config.Address); err != nil {
		return nil, err
	}

	return server, nil
}

func (s *Server) serve(serve func() error) {
	go func() {
		defer close(s.done)

		if err := serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server.Serve", zap.Error(err))
		}
	}()
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	<-s.done
	return err
}
