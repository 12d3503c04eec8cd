package handle

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"os"
	"path/filepath"
)

// tlsConfig builds the client TLS configuration described by the SSL_*
// options.
func (o *Options) tlsConfig(serverName string) (*tls.Config, *Error) {
	cfg := &tls.Config{
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}

	if o.SSLVerifyPeer != 0 {
		roots, err := o.rootCAs()
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = roots
		if o.SSLVerifyHost == 0 {
			// chain is still verified, only the host name check is skipped
			cfg.InsecureSkipVerify = true
			cfg.VerifyPeerCertificate = verifyChainOnly(roots)
		}
	} else {
		cfg.InsecureSkipVerify = true
	}

	if o.SSLCert != "" {
		key := o.SSLKey
		if key == "" {
			key = o.SSLCert
		}
		cert, err := tls.LoadX509KeyPair(o.SSLCert, key)
		if err != nil {
			return nil, newError(CodeSSLCertProblem, err, "could not load client certificate %s: %v", o.SSLCert, err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

// rootCAs loads CAInfo or every file under CAPath. A nil pool means the
// system roots.
func (o *Options) rootCAs() (*x509.CertPool, *Error) {
	if o.CAInfo == "" && o.CAPath == "" {
		return nil, nil
	}
	pool := x509.NewCertPool()
	if o.CAInfo != "" {
		pem, err := os.ReadFile(o.CAInfo)
		if err != nil {
			return nil, newError(CodeSSLCACertBadFile, err, "error setting certificate file: %s", o.CAInfo)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, newError(CodeSSLCACertBadFile, nil, "no certificates found in %s", o.CAInfo)
		}
	}
	if o.CAPath != "" {
		entries, err := os.ReadDir(o.CAPath)
		if err != nil {
			return nil, newError(CodeSSLCACertBadFile, err, "error setting certificate path: %s", o.CAPath)
		}
		found := false
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			pem, err := os.ReadFile(filepath.Join(o.CAPath, e.Name()))
			if err != nil {
				continue
			}
			found = pool.AppendCertsFromPEM(pem) || found
		}
		if !found {
			return nil, newError(CodeSSLCACertBadFile, nil, "no certificates found in %s", o.CAPath)
		}
	}
	return pool, nil
}

func verifyChainOnly(roots *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(raw [][]byte, _ [][]*x509.Certificate) error {
		if len(raw) == 0 {
			return errors.New("no peer certificate")
		}
		certs := make([]*x509.Certificate, len(raw))
		for i, b := range raw {
			c, err := x509.ParseCertificate(b)
			if err != nil {
				return err
			}
			certs[i] = c
		}
		inter := x509.NewCertPool()
		for _, c := range certs[1:] {
			inter.AddCert(c)
		}
		_, err := certs[0].Verify(x509.VerifyOptions{Roots: roots, Intermediates: inter})
		return err
	}
}

// tlsError maps a failed handshake onto a native code.
func tlsError(err error) *Error {
	var (
		unknown  x509.UnknownAuthorityError
		hostname x509.HostnameError
		invalid  x509.CertificateInvalidError
		verify   *tls.CertificateVerificationError
	)
	switch {
	case errors.As(err, &unknown):
		return newError(CodeSSLCACert, err, "SSL certificate problem: unable to get local issuer certificate")
	case errors.As(err, &hostname):
		return newError(CodeSSLPeerCertificate, err, "SSL: no alternative certificate subject name matches target host name")
	case errors.As(err, &invalid), errors.As(err, &verify):
		return newError(CodeSSLPeerCertificate, err, "SSL certificate problem: %v", err)
	}
	return newError(CodeSSLConnectError, err, "SSL connect error: %v", err)
}
