package signature

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/pem"
	"testing"
)

const (
	cryptoSHA256 = crypto.SHA256
	cryptoSHA512 = crypto.SHA512
)

func marshalPub(t *testing.T, pub any) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatalf("marshaling public key: %v", err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
}

func TestVerifyRSA(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	payload := []byte("remote config payload")
	sig, err := rsaSignSHA256(priv, payload)
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	pubPEM := marshalPub(t, &priv.PublicKey)
	bundle := Bundle{Algorithm: AlgRSAPKCS1SHA256, Signature: sig}
	if err := Verify(payload, bundle, pubPEM); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	if err := Verify([]byte("tampered"), bundle, pubPEM); err == nil {
		t.Fatalf("expected verification failure for tampered payload")
	}
}

func rsaSignSHA256(priv *rsa.PrivateKey, payload []byte) ([]byte, error) {
	digest := sha256.Sum256(payload)
	return rsa.SignPKCS1v15(rand.Reader, priv, cryptoSHA256, digest[:])
}

func TestVerifyRSA512(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	payload := []byte("remote config payload")
	digest := sha512.Sum512(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, cryptoSHA512, digest[:])
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	pubPEM := marshalPub(t, &priv.PublicKey)
	bundle := Bundle{Algorithm: AlgRSAPKCS1SHA512, Signature: sig}
	if err := Verify(payload, bundle, pubPEM); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyECDSA(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	payload := []byte("remote config payload")
	digest := sha256.Sum256(payload)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		t.Fatalf("signing: %v", err)
	}

	pubPEM := marshalPub(t, &priv.PublicKey)
	bundle := Bundle{Algorithm: AlgECDSAP256SHA256, Signature: sig}
	if err := Verify(payload, bundle, pubPEM); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyEd25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	payload := []byte("remote config payload")
	sig := ed25519.Sign(priv, payload)

	pubPEM := marshalPub(t, pub)
	bundle := Bundle{Algorithm: AlgEd25519, Signature: sig}
	if err := Verify(payload, bundle, pubPEM); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyUnsupportedAlgorithm(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(rand.Reader)
	pubPEM := marshalPub(t, pub)
	bundle := Bundle{Algorithm: "md5", Signature: []byte("x")}
	if err := Verify([]byte("x"), bundle, pubPEM); err == nil {
		t.Fatalf("expected unsupported-algorithm error")
	}
}
