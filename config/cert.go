package config

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/youmark/pkcs8"
	"golang.org/x/crypto/pkcs12"
)

// LoadCertificate loads an APNs provider certificate.
//
// PKCS#12 bundles (.p12, .pfx) are decrypted with passphrase. Otherwise certFile
// is PEM and the private key is read from keyFile, or from certFile itself when
// keyFile is empty. Legacy encrypted PEM keys and encrypted PKCS#8 keys are
// decrypted with passphrase.
func LoadCertificate(certFile, keyFile, passphrase string) (tls.Certificate, error) {
	switch strings.ToLower(filepath.Ext(certFile)) {
	case ".p12", ".pfx":
		return loadPKCS12(certFile, passphrase)
	}

	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	keyPEM := certPEM
	if keyFile != "" && keyFile != certFile {
		if keyPEM, err = os.ReadFile(keyFile); err != nil {
			return tls.Certificate{}, err
		}
	}

	var certs [][]byte
	for rest := certPEM; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			certs = append(certs, block.Bytes)
		}
	}
	if len(certs) == 0 {
		return tls.Certificate{}, fmt.Errorf("no certificate found in %s", certFile)
	}

	var key crypto.PrivateKey
	for rest := keyPEM; key == nil; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if !strings.HasSuffix(block.Type, "PRIVATE KEY") {
			continue
		}
		if key, err = decodePrivateKey(block, passphrase); err != nil {
			return tls.Certificate{}, errors.Wrapf(err, "cannot read private key %s", keyFile)
		}
	}
	if key == nil {
		return tls.Certificate{}, fmt.Errorf("no private key found")
	}

	return keyPair(certs, key)
}

func loadPKCS12(file, passphrase string) (tls.Certificate, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return tls.Certificate{}, err
	}
	key, cert, err := pkcs12.Decode(data, passphrase)
	if err != nil {
		return tls.Certificate{}, errors.Wrapf(err, "cannot decode %s", file)
	}
	return keyPair([][]byte{cert.Raw}, key)
}

func decodePrivateKey(block *pem.Block, passphrase string) (crypto.PrivateKey, error) {
	if block.Type == "ENCRYPTED PRIVATE KEY" {
		key, err := pkcs8.ParsePKCS8PrivateKey(block.Bytes, []byte(passphrase))
		if err != nil {
			return nil, err
		}
		return key, nil
	}

	der := block.Bytes
	// certificates exported from Keychain with openssl still use legacy PEM encryption
	if x509.IsEncryptedPEMBlock(block) {
		var err error
		if der, err = x509.DecryptPEMBlock(block, []byte(passphrase)); err != nil {
			return nil, err
		}
	}
	return parsePrivateKey(der)
}

func parsePrivateKey(der []byte) (crypto.PrivateKey, error) {
	if key, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return key, nil
	}
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		switch key := key.(type) {
		case *rsa.PrivateKey, *ecdsa.PrivateKey:
			return key, nil
		default:
			return nil, fmt.Errorf("unsupported private key type %T", key)
		}
	}
	if key, err := x509.ParseECPrivateKey(der); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("failed to parse private key")
}

// keyPair builds the certificate through tls.X509KeyPair so that the key is
// checked against the leaf certificate.
func keyPair(certs [][]byte, key crypto.PrivateKey) (tls.Certificate, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return tls.Certificate{}, err
	}
	var certPEM []byte
	for _, c := range certs {
		certPEM = append(certPEM, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c})...)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	return tls.X509KeyPair(certPEM, keyPEM)
}

// LoadRootCAs reads PEM encoded CA certificates to verify the gateway with.
func LoadRootCAs(file string) (*x509.CertPool, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(b) {
		return nil, fmt.Errorf("no root certificate found in %s", file)
	}
	return pool, nil
}
