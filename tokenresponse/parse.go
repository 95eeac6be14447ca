package tokenresponse

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind identifies which response shape was decoded.
type Kind uint8

const (
	// NoMatch means the body matched none of the known shapes.
	NoMatch Kind = iota
	// ProviderError is an error payload returned by the provider.
	ProviderError
	// IdentityToolkitToken carries idToken/refreshToken/expiresIn/localId.
	IdentityToolkitToken
	// OAuthIDToken carries id_token/refresh_token/expires_in/user_id.
	OAuthIDToken
	// OAuthAccessToken carries access_token/expires_in/token_type.
	OAuthAccessToken
)

func (k Kind) String() string {
	switch k {
	case ProviderError:
		return "provider_error"
	case IdentityToolkitToken:
		return "identitytoolkit_token"
	case OAuthIDToken:
		return "oauth_id_token"
	case OAuthAccessToken:
		return "oauth_access_token"
	default:
		return "no_match"
	}
}

// Result is the decoded outcome. Only the fields relevant to Kind are populated.
type Result struct {
	Kind Kind

	// ProviderError
	Code    int
	Message string

	// token shapes
	Token        string
	RefreshToken string
	UID          string
	TokenType    string
	TTL          time.Duration
}

// OK reports whether the result carries a token.
func (r Result) OK() bool {
	switch r.Kind {
	case IdentityToolkitToken, OAuthIDToken, OAuthAccessToken:
		return true
	default:
		return false
	}
}

var errNotObject = errors.New("response body is not a JSON object")

// Parse decodes body. It never returns an error; unrecognized input yields Kind NoMatch.
func Parse(body []byte) Result {
	fields, err := readObject(body)
	if err != nil {
		return Result{Kind: NoMatch}
	}

	if raw, ok := fields["error"]; ok {
		return parseProviderError(raw, fields)
	}
	if _, ok := fields["idToken"]; ok {
		return Result{
			Kind:         IdentityToolkitToken,
			UID:          stringField(fields, "localId"),
			Token:        stringField(fields, "idToken"),
			RefreshToken: stringField(fields, "refreshToken"),
			TTL:          secondsField(fields, "expiresIn"),
		}
	}
	if _, ok := fields["id_token"]; ok {
		return Result{
			Kind:         OAuthIDToken,
			TTL:          secondsField(fields, "expires_in"),
			RefreshToken: stringField(fields, "refresh_token"),
			Token:        stringField(fields, "id_token"),
			UID:          stringField(fields, "user_id"),
		}
	}
	if _, ok := fields["access_token"]; ok {
		return Result{
			Kind:      OAuthAccessToken,
			Token:     stringField(fields, "access_token"),
			TTL:       secondsField(fields, "expires_in"),
			TokenType: stringField(fields, "token_type"),
		}
	}
	return Result{Kind: NoMatch}
}

// readObject tokenizes the top level of a JSON object, keeping each value raw.
func readObject(body []byte) (map[string]json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errNotObject
	}

	fields := make(map[string]json.RawMessage, 8)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, errNotObject
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, err
		}
		if _, seen := fields[key]; !seen {
			fields[key] = raw
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return fields, nil
}

func parseProviderError(raw json.RawMessage, fields map[string]json.RawMessage) Result {
	out := Result{Kind: ProviderError}

	var nested struct {
		Code             json.Number `json:"code"`
		Message          string      `json:"message"`
		Status           string      `json:"status"`
		ErrorDescription string      `json:"error_description"`
	}
	if err := json.Unmarshal(raw, &nested); err == nil {
		if code, err := nested.Code.Int64(); err == nil {
			out.Code = int(code)
		}
		out.Message = nested.Message
		if out.Message == "" {
			out.Message = nested.ErrorDescription
		}
		if out.Message == "" {
			out.Message = stringField(fields, "error_description")
		}
		if out.Message == "" {
			out.Message = nested.Status
		}
		return out
	}

	// OAuth2 style: {"error":"invalid_grant","error_description":"..."}
	out.Message = stringField(fields, "error_description")
	if out.Message == "" {
		out.Message = decodeString(raw)
	}
	return out
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	return decodeString(raw)
}

func decodeString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSuffix(s, `"`)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// maxSeconds is the largest whole-second count a time.Duration can hold.
const maxSeconds = math.MaxInt64 / int64(time.Second)

// secondsField accepts both "3600" and 3600. Values past maxSeconds saturate.
func secondsField(fields map[string]json.RawMessage, key string) time.Duration {
	v := strings.TrimSpace(stringField(fields, key))
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil || secs < 0 {
		return 0
	}
	if secs > maxSeconds {
		secs = maxSeconds
	}
	return time.Duration(secs) * time.Second
}
