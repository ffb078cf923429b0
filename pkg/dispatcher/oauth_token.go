package dispatcher

import (
	"encoding/json"
	"time"
)

// storedOAuthToken is the JSON shape persisted in collab.Secret.Value for
// an MCP server secret backed by OAuth, as opposed to a plain static
// bearer token. McpOAuthConfig only carries the catalog item's static
// client registration (client ID/secret, endpoints); the live token pair
// for one server instance lives in its Secret.
type storedOAuthToken struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// decodeOAuthToken parses raw as a storedOAuthToken. ok is false when raw
// is not an OAuth token blob (a plain static secret value), not an error.
func decodeOAuthToken(raw string) (tok storedOAuthToken, ok bool) {
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return storedOAuthToken{}, false
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return storedOAuthToken{}, false
	}
	return tok, true
}

func encodeOAuthToken(tok storedOAuthToken) string {
	b, _ := json.Marshal(tok)
	return string(b)
}
