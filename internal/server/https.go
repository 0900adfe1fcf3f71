package server

import (
	"crypto/tls"
	"errors"
	"net"
	"os"

	"go.uber.org/zap"

	"github.com/sleroq/web.cum.army/internal/environment"
)

var (
	errMissingSSLKey  = errors.New("server: missing SSL key")
	errMissingSSLCert = errors.New("server: missing SSL certificate")
)

func (s *Server) startHTTPSServer(address string) error {
	sslKey := os.Getenv(environment.SSLKey)
	sslCert := os.Getenv(environment.SSLCert)

	if sslKey == "" {
		return errMissingSSLKey
	}
	if sslCert == "" {
		return errMissingSSLCert
	}

	cert, err := tls.LoadX509KeyPair(sslCert, sslKey)
	if err != nil {
		return err
	}

	s.server.TLSConfig = &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}

	listener, err := net.Listen("tcp", getHTTPAddress(address))
	if err != nil {
		return err
	}

	s.listener = listener
	s.logger.Info("Serving HTTPS server", zap.String("address", listener.Addr().String()))
	s.serve(func() error { return s.server.ServeTLS(listener, "", "") })

	return nil
}
