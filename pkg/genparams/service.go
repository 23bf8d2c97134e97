// Package genparams mints and verifies the signed generation-parameter
// bundles handed to each client so the server can later prove a
// client-presented UUIDv7 was minted under seed material the server
// itself issued — a cheap proof-of-origin without per-action signing.
package genparams

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/whizzter/redux-multiplayer/pkg/uuid7"
)

// notBeforeBytes is how many leading bytes of initBytes carry the
// millisecond timestamp; the rest is random seed material.
const (
	notBeforeBytes = 6
	initBytesLen   = 80
	seedBytesLen   = initBytesLen - notBeforeBytes // 74
)

// SignedParams is the wire bundle handed to a client: the raw generator
// init bytes and an RSA-SHA256 signature over their base64 text.
type SignedParams struct {
	InitBytesBase64 string `json:"initBytesBase64"`
	SignatureBase64 string `json:"signatureBase64"`
}

// GenState re-exports uuid7.GenState so callers outside this package
// don't need to import uuid7 just to hold a decoded bundle.
type GenState = uuid7.GenState

// Service holds the server's keypair and mints/verifies SignedParams
// bound to it. Safe for concurrent use — RSA sign/verify need no
// external synchronization once the key is loaded.
type Service struct {
	keypair *Keypair
	now     func() time.Time
}

// NewService constructs a Service around an already-loaded keypair.
func NewService(kp *Keypair) *Service {
	return &Service{keypair: kp, now: time.Now}
}

// MintSigned draws 80 random bytes, stamps the first 6 with the current
// millisecond timestamp, signs the base64 text of the result, and
// returns both the wire bundle and the decoded generator state ready for
// immediate use.
func (s *Service) MintSigned() (SignedParams, GenState, error) {
	var initBytes [initBytesLen]byte
	if _, err := rand.Read(initBytes[:]); err != nil {
		return SignedParams{}, GenState{}, fmt.Errorf("read random seed: %w", err)
	}

	notBefore := s.now().UnixMilli()
	putBE48(initBytes[:notBeforeBytes], notBefore)

	b64 := base64.StdEncoding.EncodeToString(initBytes[:])
	signature, err := sign(s.keypair.Private, b64)
	if err != nil {
		return SignedParams{}, GenState{}, fmt.Errorf("sign generation params: %w", err)
	}

	bundle := SignedParams{
		InitBytesBase64: b64,
		SignatureBase64: base64.StdEncoding.EncodeToString(signature),
	}

	state := GenState{NotBefore: notBefore}
	copy(state.Seed[:], initBytes[notBeforeBytes:])

	return bundle, state, nil
}

// Verify checks bundle's signature against this server's public key. A
// malformed or mis-signed bundle verifies false; callers are expected to
// discard it and mint a fresh bundle rather than error out.
func (s *Service) Verify(bundle SignedParams) bool {
	sig, err := base64.StdEncoding.DecodeString(bundle.SignatureBase64)
	if err != nil {
		return false
	}
	return verify(s.keypair.Public, bundle.InitBytesBase64, sig) == nil
}

// Decode extracts the NotBefore timestamp and seed from bundle's init
// bytes, without checking the signature — callers must Verify first.
func (s *Service) Decode(bundle SignedParams) (GenState, error) {
	initBytes, err := base64.StdEncoding.DecodeString(bundle.InitBytesBase64)
	if err != nil {
		return GenState{}, fmt.Errorf("decode initBytes: %w", err)
	}
	if len(initBytes) != initBytesLen {
		return GenState{}, fmt.Errorf("initBytes length = %d, want %d", len(initBytes), initBytesLen)
	}

	var state GenState
	state.NotBefore = getBE48(initBytes[:notBeforeBytes])
	copy(state.Seed[:], initBytes[notBeforeBytes:])
	return state, nil
}

func sign(priv *rsa.PrivateKey, message string) ([]byte, error) {
	digest := sha256.Sum256([]byte(message))
	return rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
}

func verify(pub *rsa.PublicKey, message string, signature []byte) error {
	digest := sha256.Sum256([]byte(message))
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], signature)
}

func putBE48(dst []byte, v int64) {
	dst[0] = byte(v >> 40)
	dst[1] = byte(v >> 32)
	dst[2] = byte(v >> 24)
	dst[3] = byte(v >> 16)
	dst[4] = byte(v >> 8)
	dst[5] = byte(v)
}

func getBE48(src []byte) int64 {
	return int64(src[0])<<40 | int64(src[1])<<32 | int64(src[2])<<24 |
		int64(src[3])<<16 | int64(src[4])<<8 | int64(src[5])
}
