// SPDX-License-Identifier: GPL-3.0-or-later

package node

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"math/big"
	"time"
)

// quicDefaults holds the timeouts shared by the multi-stream message and
// cc-datagram transports: both carry their payloads over QUIC, one using
// streams (plus datagrams for unreliable/unordered messages), the other
// datagrams only. Each transport's own quic.Config sets EnableDatagrams,
// which turns on RFC 9221 unreliable datagrams, which is what
// makes QUIC fit spec.md's "unreliable congestion-controlled datagram"
// transport trait as well as the partial-reliability trait of the
// multi-stream transport.
var quicDefaults = struct {
	HandshakeIdleTimeout time.Duration
	MaxIdleTimeout       time.Duration
}{
	HandshakeIdleTimeout: 5 * time.Second,
	MaxIdleTimeout:       30 * time.Second,
}

// generateSelfSignedTLSConfig returns a minimal, insecure self-signed TLS
// config for QUIC handshakes. Measurement traffic has no confidentiality
// requirement of its own; this exists only because QUIC mandates TLS.
func generateSelfSignedTLSConfig() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	tmpl := &x509.Certificate{SerialNumber: big.NewInt(1)}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"netperfmeter"},
		InsecureSkipVerify: true,
	}, nil
}

// clientTLSConfig returns a TLS config for the dialing side, which skips
// verification since the server cert is self-signed and the peer is
// supplied directly by the caller (spec.md explicitly has "no
// discovery/naming" and no trust model to enforce).
func clientTLSConfig() *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{"netperfmeter"},
	}
}
