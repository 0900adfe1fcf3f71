package server

import (
	"net"
	"os"

	"go.uber.org/zap"

	"github.com/sleroq/web.cum.army/internal/environment"
)

var defaultHTTPAddress = "127.0.0.1:9090"

func (s *Server) startHTTPServer(address string) error {
	listener, err := net.Listen("tcp", getHTTPAddress(address))
	if err != nil {
		return err
	}

	s.listener = listener
	s.logger.Info("Starting HTTP server", zap.String("address", listener.Addr().String()))
	s.serve(func() error { return s.server.Serve(listener) })

	return nil
}

func getHTTPAddress(address string) string {
	if address != "" {
		return address
	}

	if httpAddress := os.Getenv(environment.MetricsAddress); httpAddress != "" {
		return httpAddress
	}

	return defaultHTTPAddress
}
