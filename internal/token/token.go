package token

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Version tags the label layout so a future format change stays decodable.
const Version = "1"

const (
	userMarker = "user"
	pkgMarker  = "pkg"
	nonceLen   = 8
)

// Token is the structured content of a correlation label:
//
//	{prefix}{version}_user_{userID}_pkg_{packageKey}_{nonce}
//
// The package key itself may contain underscores (buy_3), which is why the
// nonce is pinned to a fixed-length hex suffix.
type Token struct {
	UserID     int64
	PackageKey string
	Nonce      string
}

type Codec struct {
	Prefix string
}

// Encode produces a fresh label for a new intent. The nonce makes labels
// unique even when one user buys the same package twice.
func (c Codec) Encode(userID int64, packageKey string) string {
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")[:nonceLen]
	return fmt.Sprintf("%s%s_%s_%d_%s_%s_%s",
		c.Prefix, Version, userMarker, userID, pkgMarker, packageKey, nonce)
}

// Decode parses a label echoed back by the provider. It is deliberately
// tolerant of truncation: the provider is known to cut labels short or bury
// them inside detail fields, so everything after a valid user id is
// best-effort. A wrong answer is worse than none, so any ambiguity yields
// ok=false.
func (c Codec) Decode(label string) (Token, bool) {
	if label == "" || !strings.HasPrefix(label, c.Prefix) {
		return Token{}, false
	}
	parts := strings.Split(label, "_")

	userIdx := indexOf(parts, userMarker)
	if userIdx < 0 || userIdx+1 >= len(parts) {
		return Token{}, false
	}
	userID, err := strconv.ParseInt(parts[userIdx+1], 10, 64)
	if err != nil || userID <= 0 {
		return Token{}, false
	}

	tok := Token{UserID: userID}

	pkgIdx := indexOf(parts, pkgMarker)
	if pkgIdx < 0 || pkgIdx+1 >= len(parts) {
		// Truncated after the user id; the user is still recoverable.
		return tok, true
	}

	rest := parts[pkgIdx+1:]
	if n := len(rest); n > 1 && isNonce(rest[n-1]) {
		tok.Nonce = rest[n-1]
		rest = rest[:n-1]
	}
	tok.PackageKey = strings.Join(rest, "_")
	return tok, true
}

// Matches reports whether an echoed label identifies the given full label.
// Exact equality always wins; otherwise the echo must be a truncated prefix
// that still decodes to the same user, so a cut-off label cannot be claimed
// by another user's intent.
func (c Codec) Matches(echo, full string) bool {
	if echo == "" || full == "" {
		return false
	}
	if echo == full {
		return true
	}
	if !strings.HasPrefix(full, echo) {
		return false
	}
	echoTok, ok := c.Decode(echo)
	if !ok {
		return false
	}
	fullTok, ok := c.Decode(full)
	if !ok {
		return false
	}
	return echoTok.UserID == fullTok.UserID
}

// Find extracts the first label embedded in a larger string, such as a
// free-text operation detail blob. Returns "" when no label is present.
func (c Codec) Find(s string) string {
	start := strings.Index(s, c.Prefix+Version+"_")
	if start < 0 {
		return ""
	}
	end := start
	for end < len(s) && isLabelChar(s[end]) {
		end++
	}
	label := s[start:end]
	if _, ok := c.Decode(label); !ok {
		return ""
	}
	return label
}

func indexOf(parts []string, marker string) int {
	for i, p := range parts {
		if p == marker {
			return i
		}
	}
	return -1
}

func isNonce(s string) bool {
	if len(s) != nonceLen {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}

func isLabelChar(b byte) bool {
	return b == '_' || b == '-' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}
