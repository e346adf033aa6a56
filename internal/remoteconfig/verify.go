package remoteconfig

import (
	"context"
	"errors"
	"fmt"

	"github.com/fleetcontrol/agent-control/internal/signature"
)

// KeyFetcher resolves a key id to a PEM-encoded public key, satisfied
// by *signature.KeyServer.Fetch.
type KeyFetcher func(ctx context.Context, keyID string) ([]byte, error)

// SignatureVerify builds a VerifyFunc that checks every bundle in
// env.Signatures against fetch's key server, succeeding as soon as any
// one bundle verifies (spec.md §3/§4.5/§7: "at least one MUST verify").
// mandatory controls whether an envelope with no signature bundles at
// all is rejected as UnsignedConfig (spec.md §4.5 stage 2) or passed
// through unsigned. If every bundle fails because its key id is not
// found (signature.ErrKeyNotFound), the result is UnknownSigningKey;
// any other failure, including an unreachable key server or a
// signature that does not verify, is SignatureInvalid, per spec.md §7's
// three-way error split.
func SignatureVerify(fetch KeyFetcher, mandatory bool) VerifyFunc {
	return func(ctx context.Context, env Envelope) error {
		if len(env.Signatures) == 0 {
			if mandatory {
				return errUnsignedConfig("no signature bundles present and signing is mandatory")
			}
			return nil
		}

		var lastErr error
		sawUnknownKey := false
		sawKnownKeyFailure := false

		for _, bundle := range env.Signatures {
			pubKeyPEM, err := fetch(ctx, bundle.KeyID)
			if err != nil {
				var notFound *signature.ErrKeyNotFound
				if errors.As(err, &notFound) {
					sawUnknownKey = true
				} else {
					sawKnownKeyFailure = true
				}
				lastErr = err
				continue
			}
			if err := signature.Verify(env.Payload, bundle, pubKeyPEM); err != nil {
				sawKnownKeyFailure = true
				lastErr = err
				continue
			}
			return nil
		}

		if lastErr == nil {
			lastErr = fmt.Errorf("no signature bundle verified")
		}
		if sawUnknownKey && !sawKnownKeyFailure {
			return errUnknownSigningKey(lastErr.Error())
		}
		return errSignatureInvalid(lastErr.Error())
	}
}
