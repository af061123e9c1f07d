package fingerprint

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/cerkvenihaxel/ssc-api-sub001/internal/model"
)

// DefaultTolerance is the similarity ratio two fingerprints must reach to be
// considered the same device when they are not byte-identical.
const DefaultTolerance = 0.8

const delimiter = "|"

// ParseClientHints classifies browser family, OS family and device class from
// a raw user-agent string. Best effort: unmatched patterns leave the field at
// "unknown" (device defaults to Desktop).
func ParseClientHints(userAgent string) model.ClientInfo {
	ua := strings.ToLower(userAgent)

	info := model.ClientInfo{
		Browser: "unknown",
		OS:      "unknown",
		Device:  "Desktop",
	}

	switch {
	case strings.Contains(ua, "edg/") || strings.Contains(ua, "edge"):
		info.Browser = "Edge"
	case strings.Contains(ua, "chrome"):
		info.Browser = "Chrome"
	case strings.Contains(ua, "firefox"):
		info.Browser = "Firefox"
	case strings.Contains(ua, "safari"):
		info.Browser = "Safari"
	}

	switch {
	case strings.Contains(ua, "windows"):
		info.OS = "Windows"
	case strings.Contains(ua, "android"):
		info.OS = "Android"
	case strings.Contains(ua, "iphone") || strings.Contains(ua, "ipad") || strings.Contains(ua, "ios"):
		info.OS = "iOS"
	case strings.Contains(ua, "mac os") || strings.Contains(ua, "macintosh"):
		info.OS = "macOS"
	case strings.Contains(ua, "linux"):
		info.OS = "Linux"
	}

	switch {
	case strings.Contains(ua, "ipad") || strings.Contains(ua, "tablet"):
		info.Device = "Tablet"
	case strings.Contains(ua, "mobile") || strings.Contains(ua, "iphone") || strings.Contains(ua, "android"):
		info.Device = "Mobile"
	}

	return info
}

// Compute derives the device fingerprint hash from connection and client
// metadata. Deterministic; missing fields contribute an empty string.
func Compute(userAgent, ipAddress string, info model.ClientInfo) string {
	components := []string{
		userAgent,
		ipAddress,
		info.Browser,
		info.OS,
		info.Device,
		info.Language,
		info.Timezone,
		info.ScreenResolution,
	}
	sum := sha256.Sum256([]byte(strings.Join(components, delimiter)))
	return hex.EncodeToString(sum[:])
}

// DeviceID derives the session-revocation grouping key for a user on a
// device. Collision resistance is all that matters here, not preimage
// strength, so the shorter MD5 digest is acceptable.
func DeviceID(fingerprint, userID string) string {
	sum := md5.Sum([]byte(fingerprint + delimiter + userID))
	return hex.EncodeToString(sum[:])
}

// Compare reports whether two fingerprint hashes identify the same device.
// Exact match short-circuits; otherwise a normalized edit-distance similarity
// is held against the tolerance ratio. Hashes of near-identical raw inputs
// are NOT expected to be similar strings, so the tolerance path only fires
// for quasi-identical hashes; see the package tests.
func Compare(a, b string, tolerance float64) bool {
	if a == b {
		return true
	}
	if a == "" || b == "" {
		return false
	}
	return Similarity(a, b) >= tolerance
}

// Similarity returns 1 - editDistance/maxLen in [0,1].
func Similarity(a, b string) float64 {
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(editDistance(a, b))/float64(longest)
}

// editDistance is a two-row Levenshtein.
func editDistance(a, b string) int {
	if a == b {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
