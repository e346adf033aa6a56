// Package signature verifies the signature bundle attached to a remote
// config envelope (spec.md §3/§4.5). No pack repo wraps a third-party
// signature-verification library for this; the standard library's
// crypto/rsa, crypto/ecdsa, and crypto/ed25519 packages implement
// exactly the three algorithms spec.md names, so they are used
// directly rather than inventing a dependency the corpus never
// exercises (see DESIGN.md).
package signature

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/pem"
	"fmt"
)

// Algorithm names the supported signature schemes, per spec.md §3.
type Algorithm string

const (
	AlgRSAPKCS1SHA256  Algorithm = "rsa-pkcs1-sha256"
	AlgRSAPKCS1SHA512  Algorithm = "rsa-pkcs1-sha512"
	AlgECDSAP256SHA256 Algorithm = "ecdsa-p256-sha256"
	AlgEd25519         Algorithm = "ed25519"
)

// ChecksumAlgorithm names the supported content-checksum schemes a
// Bundle may carry alongside its signature, per spec.md §3.
type ChecksumAlgorithm string

const (
	ChecksumSHA256 ChecksumAlgorithm = "sha256"
	ChecksumSHA512 ChecksumAlgorithm = "sha512"
)

// Bundle is one signature entry attached to a remote config, per
// spec.md §3. An envelope carries one or more of these; Checksum is an
// independent content digest checked alongside the signature itself,
// not a substitute for it.
type Bundle struct {
	Algorithm         Algorithm
	KeyID             string
	Signature         []byte
	Checksum          []byte
	ChecksumAlgorithm ChecksumAlgorithm
}

// ErrSignatureInvalid is returned for any verification failure: wrong
// algorithm, malformed key, or a signature that does not match.
// Callers should not distinguish sub-cases, matching spec.md §7's
// single SignatureInvalid error class.
type ErrSignatureInvalid struct {
	Reason string
}

func (e *ErrSignatureInvalid) Error() string {
	return fmt.Sprintf("signature invalid: %s", e.Reason)
}

func invalid(format string, args ...any) error {
	return &ErrSignatureInvalid{Reason: fmt.Sprintf(format, args...)}
}

// Verify checks bundle's checksum (if present) and signature against
// payload using the PEM-encoded public key pubKeyPEM. The key's type
// must match the bundle's declared algorithm.
func Verify(payload []byte, bundle Bundle, pubKeyPEM []byte) error {
	if err := verifyChecksum(payload, bundle); err != nil {
		return err
	}

	block, _ := pem.Decode(pubKeyPEM)
	if block == nil {
		return invalid("public key is not valid PEM")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return invalid("parsing public key: %v", err)
	}

	switch bundle.Algorithm {
	case AlgRSAPKCS1SHA256:
		return verifyRSA(pub, payload, bundle.Signature, crypto.SHA256)
	case AlgRSAPKCS1SHA512:
		return verifyRSA(pub, payload, bundle.Signature, crypto.SHA512)
	case AlgECDSAP256SHA256:
		return verifyECDSA(pub, payload, bundle.Signature)
	case AlgEd25519:
		return verifyEd25519(pub, payload, bundle.Signature)
	default:
		return invalid("unsupported algorithm %q", bundle.Algorithm)
	}
}

// verifyChecksum checks bundle's Checksum against payload, when present.
// A bundle without a checksum skips this step entirely: the signature
// alone is the trust anchor.
func verifyChecksum(payload []byte, bundle Bundle) error {
	if len(bundle.Checksum) == 0 {
		return nil
	}
	var sum []byte
	switch bundle.ChecksumAlgorithm {
	case ChecksumSHA512:
		s := sha512.Sum512(payload)
		sum = s[:]
	case ChecksumSHA256, "":
		s := sha256.Sum256(payload)
		sum = s[:]
	default:
		return invalid("unsupported checksum algorithm %q", bundle.ChecksumAlgorithm)
	}
	if !bytes.Equal(sum, bundle.Checksum) {
		return invalid("checksum mismatch")
	}
	return nil
}

func verifyRSA(pub any, payload, sig []byte, hash crypto.Hash) error {
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return invalid("key is not an RSA public key")
	}
	var digest []byte
	switch hash {
	case crypto.SHA256:
		sum := sha256.Sum256(payload)
		digest = sum[:]
	case crypto.SHA512:
		sum := sha512.Sum512(payload)
		digest = sum[:]
	}
	if err := rsa.VerifyPKCS1v15(rsaPub, hash, digest, sig); err != nil {
		return invalid("rsa verification failed: %v", err)
	}
	return nil
}

func verifyECDSA(pub any, payload, sig []byte) error {
	ecPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return invalid("key is not an ECDSA public key")
	}
	digest := sha256.Sum256(payload)
	if !ecdsa.VerifyASN1(ecPub, digest[:], sig) {
		return invalid("ecdsa signature does not verify")
	}
	return nil
}

func verifyEd25519(pub any, payload, sig []byte) error {
	edPub, ok := pub.(ed25519.PublicKey)
	if !ok {
		return invalid("key is not an Ed25519 public key")
	}
	if !ed25519.Verify(edPub, payload, sig) {
		return invalid("ed25519 signature does not verify")
	}
	return nil
}
