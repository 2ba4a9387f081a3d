package transport

import (
	"crypto/tls"
	"crypto/x509"
	"io/ioutil"
	"net"

	"github.com/pkg/errors"
)

// LoadTLSConfig client tls configuration
// certFile is PEM bundle of trusted server certificates, empty means system roots
func LoadTLSConfig(certFile string, insecure bool) (*tls.Config, error) {
	cfg := &tls.Config{
		InsecureSkipVerify: insecure, // nolint:gosec
	}

	if len(certFile) == 0 {
		return cfg, nil
	}

	data, err := ioutil.ReadFile(certFile)
	if err != nil {
		return nil, errors.Wrapf(err, "read certificate %s", certFile)
	}

	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, errors.Errorf("no certificates found in %s", certFile)
	}

	cfg.RootCAs = pool

	return cfg, nil
}

func serverName(address string) string {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return address
	}

	return host
}
