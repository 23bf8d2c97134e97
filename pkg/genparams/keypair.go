package genparams

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
)

// Keypair is the process-wide RSA signing key used to bind generation
// parameters to this server instance. Immutable once loaded; safe for
// concurrent signing and verification.
type Keypair struct {
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// keypairFile is the on-disk JSON representation: PEM-encoded keys, per
// spec.md §6.3.
type keypairFile struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// LoadOrCreateKeypair reads the keypair cached at path, or generates a
// fresh 4096-bit RSA keypair and persists it there if the file is
// absent. The path is caller-supplied and never derived from the running
// binary's own directory (spec.md §9).
func LoadOrCreateKeypair(path string) (*Keypair, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return decodeKeypairFile(data)
	}
	if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read keypair file %s: %w", path, err)
	}

	kp, err := generateKeypair()
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}

	encoded, err := encodeKeypairFile(kp)
	if err != nil {
		return nil, fmt.Errorf("encode keypair: %w", err)
	}
	if err := os.WriteFile(path, encoded, 0600); err != nil {
		return nil, fmt.Errorf("write keypair file %s: %w", path, err)
	}

	return kp, nil
}

func generateKeypair() (*Keypair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 4096)
	if err != nil {
		return nil, err
	}
	return &Keypair{Private: priv, Public: &priv.PublicKey}, nil
}

func encodeKeypairFile(kp *Keypair) ([]byte, error) {
	privBytes, err := x509.MarshalPKCS8PrivateKey(kp.Private)
	if err != nil {
		return nil, err
	}
	pubBytes, err := x509.MarshalPKIXPublicKey(kp.Public)
	if err != nil {
		return nil, err
	}

	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privBytes})
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubBytes})

	return json.MarshalIndent(keypairFile{
		PublicKey:  string(pubPEM),
		PrivateKey: string(privPEM),
	}, "", "  ")
}

func decodeKeypairFile(data []byte) (*Keypair, error) {
	var file keypairFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse keypair file: %w", err)
	}

	privBlock, _ := pem.Decode([]byte(file.PrivateKey))
	if privBlock == nil {
		return nil, fmt.Errorf("keypair file: no PEM block in privateKey")
	}
	privAny, err := x509.ParsePKCS8PrivateKey(privBlock.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	priv, ok := privAny.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("keypair file: private key is not RSA")
	}

	return &Keypair{Private: priv, Public: &priv.PublicKey}, nil
}
