// Package tokenresponse decodes identity-provider token responses into one of four known shapes.
//
// # Shapes
//
// Shapes are probed by a characteristic top-level key, in priority order:
//
//   - "error" → [ProviderError] (message, falling back to error_description)
//   - "idToken" → [IdentityToolkitToken] (Identity Toolkit sign-in / sign-up)
//   - "id_token" → [OAuthIDToken] (Secure Token refresh)
//   - "access_token" → [OAuthAccessToken] (OAuth2 token endpoint)
//
// A body that matches none of them, or is not a JSON object, yields [NoMatch].
//
// # What this package must NOT do
//
//   - Perform I/O or hold state between calls.
//   - Interpret token contents (no JWT decoding).
package tokenresponse
