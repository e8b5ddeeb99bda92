package httpserver

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func generateSelfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"SWAPI Proxy"},
		},
		NotBefore: time.Now(),
		NotAfter:  time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:  x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
		},
		BasicConstraintsValid: true,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: derBytes,
	})
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(priv),
	})

	return tls.X509KeyPair(certPEM, keyPEM)
}

type Options struct {
	Addr string
	// TLSAddr enables a second listener with a self-signed certificate.
	TLSAddr string
}

// Run serves handler until ctx is cancelled, then shuts every listener down
// gracefully. A listener failing to start stops the others.
func Run(ctx context.Context, logger *logrus.Logger, handler http.Handler, opts Options) error {
	servers := []*http.Server{newServer(opts.Addr, handler)}

	var httpsServer *http.Server
	if opts.TLSAddr != "" {
		cert, err := generateSelfSignedCert()
		if err != nil {
			return err
		}
		httpsServer = newServer(opts.TLSAddr, handler)
		httpsServer.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		servers = append(servers, httpsServer)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.WithField("addr", opts.Addr).Info("Starting HTTP server")
		return ignoreClosed(servers[0].ListenAndServe())
	})

	if httpsServer != nil {
		g.Go(func() error {
			logger.WithField("addr", opts.TLSAddr).Info("Starting HTTPS server")
			return ignoreClosed(httpsServer.ListenAndServeTLS("", ""))
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		for _, s := range servers {
			if err := s.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).WithField("addr", s.Addr).Error("Server shutdown error")
				errs = append(errs, err)
			}
		}
		logger.Info("HTTP servers stopped")
		return errors.Join(errs...)
	})

	return g.Wait()
}

func newServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}
}

func ignoreClosed(err error) error {
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
