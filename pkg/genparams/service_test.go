package genparams

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/whizzter/redux-multiplayer/pkg/uuid7"
)

func testKeypair(t *testing.T) *Keypair {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048) // small key: fast tests
	if err != nil {
		t.Fatalf("generate test key: %v", err)
	}
	return &Keypair{Private: priv, Public: &priv.PublicKey}
}

func TestMintSignedVerifies(t *testing.T) {
	svc := NewService(testKeypair(t))

	bundle, state, err := svc.MintSigned()
	if err != nil {
		t.Fatalf("MintSigned: %v", err)
	}
	if !svc.Verify(bundle) {
		t.Fatalf("freshly minted bundle failed to verify")
	}
	if state.NotBefore == 0 {
		t.Fatalf("expected a non-zero NotBefore timestamp")
	}
}

func TestVerifyRejectsTamperedBundle(t *testing.T) {
	svc := NewService(testKeypair(t))

	bundle, _, err := svc.MintSigned()
	if err != nil {
		t.Fatalf("MintSigned: %v", err)
	}

	bundle.InitBytesBase64 = bundle.InitBytesBase64[:len(bundle.InitBytesBase64)-2] + "zz"
	if svc.Verify(bundle) {
		t.Fatalf("expected tampered bundle to fail verification")
	}
}

func TestVerifyRejectsForeignSignature(t *testing.T) {
	svcA := NewService(testKeypair(t))
	svcB := NewService(testKeypair(t))

	bundle, _, err := svcA.MintSigned()
	if err != nil {
		t.Fatalf("MintSigned: %v", err)
	}
	if svcB.Verify(bundle) {
		t.Fatalf("expected bundle signed by a different keypair to fail verification")
	}
}

func TestDecodeRoundTripsSeed(t *testing.T) {
	svc := NewService(testKeypair(t))

	bundle, state, err := svc.MintSigned()
	if err != nil {
		t.Fatalf("MintSigned: %v", err)
	}

	decoded, err := svc.Decode(bundle)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.NotBefore != state.NotBefore {
		t.Fatalf("NotBefore mismatch: got %d, want %d", decoded.NotBefore, state.NotBefore)
	}
	if decoded.Seed != state.Seed {
		t.Fatalf("Seed mismatch after decode round-trip")
	}
}

func TestDecodedStateReconstructsMintedUUID(t *testing.T) {
	svc := NewService(testKeypair(t))

	bundle, _, err := svc.MintSigned()
	if err != nil {
		t.Fatalf("MintSigned: %v", err)
	}

	clientState, err := svc.Decode(bundle)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	minted := uuid7.Mint(&clientState)

	serverState, err := svc.Decode(bundle)
	if err != nil {
		t.Fatalf("Decode (server side): %v", err)
	}
	reconstructed := uuid7.Build(serverState.Seed, minted.Timestamp(), int32(minted.Sequence()))

	if reconstructed != minted {
		t.Fatalf("server reconstruction diverged from client-minted id: %x != %x", reconstructed, minted)
	}
}
