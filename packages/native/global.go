package native

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"sync"
)

var (
	globalOnce sync.Once
	globalErr  error
)

// GlobalInit prepares process-wide state. It runs once; later calls return the
// first result.
func GlobalInit() error {
	globalOnce.Do(func() {
		globalErr = globalInit()
	})
	return globalErr
}

func globalInit() error {
	if net.DefaultResolver == nil {
		return errors.New("native: no resolver available")
	}
	if len(tls.CipherSuites()) == 0 {
		return errors.New("native: no TLS cipher suites available")
	}
	if x509.NewCertPool() == nil {
		return errors.New("native: cannot allocate certificate pool")
	}
	return nil
}
