// Package jwt signs the assertions the credential engine exchanges for bearer tokens:
// RS256 service-account grants for the OAuth2 token endpoint and Firebase custom tokens for
// Identity Toolkit. HS256 and Ed25519 keys are accepted for non-Google issuers.
//
// Signing an RSA assertion is slow on small hardware, so [Signer] exposes an asynchronous
// Begin/Ready/Token protocol that a polling loop can drive without blocking.
package jwt
