package credentials

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const oauthKey = "claudeAiOauth"

// msThreshold separates epoch milliseconds from epoch seconds.
const msThreshold = 1e12

var errEmptyDocument = errors.New("empty credential document")

// Document is the credential document written by the Claude Code login flow.
// Every key, including unknown ones inside claudeAiOauth, is kept as raw JSON
// so a rewrite only changes the fields a refresh touches.
type Document struct {
	fields map[string]json.RawMessage
	oauth  map[string]json.RawMessage

	// bare is set when a vault holds a plain access token instead of a document.
	bare string
}

// ParseDocument decodes a credential document. When allowBare is set, a
// payload that is not a JSON object is accepted as a bare access token.
func ParseDocument(data []byte, allowBare bool) (*Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || isNull(trimmed) {
		return nil, errEmptyDocument
	}
	if trimmed[0] != '{' && allowBare {
		return &Document{bare: string(trimmed)}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("parsing credential document: %w", err)
	}
	if fields == nil {
		return nil, errEmptyDocument
	}

	doc := &Document{fields: fields, oauth: map[string]json.RawMessage{}}
	if raw, ok := fields[oauthKey]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &doc.oauth); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", oauthKey, err)
		}
		if doc.oauth == nil {
			doc.oauth = map[string]json.RawMessage{}
		}
	}
	return doc, nil
}

// Bare reports whether the document is a plain token with no metadata.
func (d *Document) Bare() bool {
	return d.bare != ""
}

// AccessToken returns the stored access token, or "".
func (d *Document) AccessToken() string {
	if d.Bare() {
		return d.bare
	}
	return d.str("accessToken")
}

// RefreshToken returns the stored refresh token, or "".
func (d *Document) RefreshToken() string {
	return d.str("refreshToken")
}

// SubscriptionType returns the plan name recorded by the login flow.
func (d *Document) SubscriptionType() string {
	return d.str("subscriptionType")
}

// ExpiresAt returns the token expiry. expiresAt is read as milliseconds when
// its magnitude exceeds 10^12 and as seconds otherwise.
func (d *Document) ExpiresAt() (time.Time, bool) {
	raw, ok := d.oauth["expiresAt"]
	if !ok || isNull(raw) {
		return time.Time{}, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil || v <= 0 {
		return time.Time{}, false
	}
	if v > msThreshold {
		return time.UnixMilli(int64(v)), true
	}
	return time.Unix(int64(v), 0), true
}

// applyRefresh stores a refreshed token pair. An empty refreshToken keeps the
// existing one since rotation is optional on the token endpoint.
func (d *Document) applyRefresh(accessToken, refreshToken string, expiresAt time.Time) {
	d.set("accessToken", accessToken)
	if refreshToken != "" {
		d.set("refreshToken", refreshToken)
	}
	d.set("expiresAt", expiresAt.UnixMilli())
}

// Marshal encodes the full document, unknown fields included.
func (d *Document) Marshal() ([]byte, error) {
	if d.Bare() {
		return []byte(d.bare), nil
	}
	oauth, err := json.Marshal(d.oauth)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", oauthKey, err)
	}
	d.fields[oauthKey] = oauth

	data, err := json.MarshalIndent(d.fields, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding credential document: %w", err)
	}
	return append(data, '\n'), nil
}

func (d *Document) str(key string) string {
	raw, ok := d.oauth[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

func (d *Document) set(key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	d.oauth[key] = raw
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(bytes.TrimSpace(raw)) == "null"
}
