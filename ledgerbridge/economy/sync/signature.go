package sync

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy"
)

// SignatureHeader carries the request signature out-of-band from the signed
// payload, so the body is never signed over its own signature.
const SignatureHeader = "X-Ledger-Signature"

// SyncRequest is the outbound balance payload sent to the remote economy
// service.
type SyncRequest struct {
	MemberID    string                     `json:"member_id"`
	CommunityID string                     `json:"community_id"`
	SyncType    economy.SyncType           `json:"sync_type"`
	Timestamp   int64                      `json:"timestamp"`
	Balances    map[economy.Currency]int64 `json:"balances"`
}

// CanonicalBody renders the request as canonical JSON. Marshalling nested
// maps gives deterministic sorted-key output, so both ends can sign the same
// bytes without a separate canonicalization pass.
func (r *SyncRequest) CanonicalBody() ([]byte, error) {
	balances := make(map[string]int64, len(r.Balances))
	for currency, amount := range r.Balances {
		balances[string(currency)] = amount
	}
	body, err := json.Marshal(map[string]any{
		"member_id":    r.MemberID,
		"community_id": r.CommunityID,
		"sync_type":    string(r.SyncType),
		"timestamp":    r.Timestamp,
		"balances":     balances,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize sync request: %w", err)
	}
	return body, nil
}

// Sign computes base64(HMAC-SHA256(secret, body)).
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify checks a received signature against the canonical body in constant
// time.
func Verify(secret string, body []byte, signature string) bool {
	got, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
