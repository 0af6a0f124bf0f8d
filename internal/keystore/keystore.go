// Package keystore unlocks the TLS certificate and private key the
// framed listener presents to clients. The on-disk format is a JSON
// envelope this package only reads; generating one is out of scope.
//
// The envelope's key material is protected with a passphrase stretched
// by golang.org/x/crypto/pbkdf2 into an AES-256-GCM key, the same
// stretch-then-symmetric-encrypt shape the teacher's dependency closure
// already carries for other secrets.
package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

const (
	pbkdf2Iterations = 200_000
	saltSize         = 16
	keySize          = 32 // AES-256
)

// envelope is the on-disk JSON shape of a .keystore file.
type envelope struct {
	// CertificatePEM is the PEM-encoded leaf certificate (and any
	// intermediates), presented to clients as-is.
	CertificatePEM string `json:"certificatePem"`

	// EncryptedKeyPKCS8 is the PKCS#8 private key, AES-256-GCM
	// encrypted, base64-standard encoded.
	EncryptedKeyPKCS8 string `json:"encryptedKeyPkcs8"`

	// Salt is the base64-standard encoded PBKDF2 salt.
	Salt string `json:"salt"`

	// Nonce is the base64-standard encoded AES-GCM nonce.
	Nonce string `json:"nonce"`
}

// Unlock reads the keystore at path, decrypts its private key with
// passphrase, and returns a tls.Certificate ready for
// tls.Config.Certificates.
func Unlock(path, passphrase string) (tls.Certificate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("keystore: read %s: %w", path, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return tls.Certificate{}, fmt.Errorf("keystore: parse envelope: %w", err)
	}

	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("keystore: decode salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("keystore: decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.EncryptedKeyPKCS8)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("keystore: decode encrypted key: %w", err)
	}

	aesKey := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha256.New)
	block, err := aes.NewCipher(aesKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("keystore: build cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("keystore: build gcm: %w", err)
	}
	pkcs8, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("keystore: decrypt key (wrong passphrase?): %w", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8})
	cert, err := tls.X509KeyPair([]byte(env.CertificatePEM), keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("keystore: build tls certificate: %w", err)
	}

	if _, err := x509.ParseCertificate(cert.Certificate[0]); err != nil {
		return tls.Certificate{}, fmt.Errorf("keystore: parse leaf certificate: %w", err)
	}
	return cert, nil
}

// NewSalt returns a fresh random PBKDF2 salt, exported for tests and
// any future keystore-writing tooling.
func NewSalt() ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("keystore: generate salt: %w", err)
	}
	return salt, nil
}
