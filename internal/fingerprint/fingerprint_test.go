package fingerprint_test

import (
	"testing"

	"github.com/cerkvenihaxel/ssc-api-sub001/internal/fingerprint"
	"github.com/cerkvenihaxel/ssc-api-sub001/internal/model"
)

const chromeWindowsUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func TestParseClientHints(t *testing.T) {
	cases := []struct {
		name    string
		ua      string
		browser string
		os      string
		device  string
	}{
		{"chrome windows desktop", chromeWindowsUA, "Chrome", "Windows", "Desktop"},
		{"firefox linux", "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0", "Firefox", "Linux", "Desktop"},
		{"safari iphone", "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Mobile/15E148 Safari/604.1", "Safari", "iOS", "Mobile"},
		{"edge windows", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0", "Edge", "Windows", "Desktop"},
		{"chrome android mobile", "Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36", "Chrome", "Android", "Mobile"},
		{"ipad tablet", "Mozilla/5.0 (iPad; CPU OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/604.1", "Safari", "iOS", "Tablet"},
		{"empty ua", "", "unknown", "unknown", "Desktop"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info := fingerprint.ParseClientHints(tc.ua)
			if info.Browser != tc.browser {
				t.Fatalf("browser = %q, want %q", info.Browser, tc.browser)
			}
			if info.OS != tc.os {
				t.Fatalf("os = %q, want %q", info.OS, tc.os)
			}
			if info.Device != tc.device {
				t.Fatalf("device = %q, want %q", info.Device, tc.device)
			}
		})
	}
}

func TestComputeDeterministic(t *testing.T) {
	info := fingerprint.ParseClientHints(chromeWindowsUA)
	info.Language = "es-AR"
	info.Timezone = "America/Argentina/Buenos_Aires"
	info.ScreenResolution = "1920x1080"

	a := fingerprint.Compute(chromeWindowsUA, "10.0.0.1", info)
	b := fingerprint.Compute(chromeWindowsUA, "10.0.0.1", info)
	if a != b {
		t.Fatalf("same inputs produced different fingerprints: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("fingerprint length = %d, want 64 hex chars", len(a))
	}

	c := fingerprint.Compute(chromeWindowsUA, "10.0.0.2", info)
	if a == c {
		t.Fatalf("different IPs produced the same fingerprint")
	}
}

func TestComputeMissingFields(t *testing.T) {
	a := fingerprint.Compute("", "", model.ClientInfo{})
	b := fingerprint.Compute("", "", model.ClientInfo{})
	if a != b {
		t.Fatalf("empty inputs should still be deterministic")
	}
}

func TestDeviceID(t *testing.T) {
	fp := fingerprint.Compute(chromeWindowsUA, "10.0.0.1", model.ClientInfo{})

	d1 := fingerprint.DeviceID(fp, "user-1")
	d2 := fingerprint.DeviceID(fp, "user-1")
	if d1 != d2 {
		t.Fatalf("device id is not deterministic")
	}
	if len(d1) != 32 {
		t.Fatalf("device id length = %d, want 32 hex chars", len(d1))
	}
	if d1 == fingerprint.DeviceID(fp, "user-2") {
		t.Fatalf("different users on the same device must get different device ids")
	}
}

func TestCompareExactAndTolerance(t *testing.T) {
	fp := fingerprint.Compute(chromeWindowsUA, "10.0.0.1", model.ClientInfo{})

	if !fingerprint.Compare(fp, fp, fingerprint.DefaultTolerance) {
		t.Fatalf("identical fingerprints must compare equal")
	}
	if fingerprint.Compare(fp, "", fingerprint.DefaultTolerance) {
		t.Fatalf("empty fingerprint must not match")
	}

	// One flipped hex char keeps similarity well above the tolerance.
	mutated := []byte(fp)
	if mutated[0] == 'a' {
		mutated[0] = 'b'
	} else {
		mutated[0] = 'a'
	}
	if !fingerprint.Compare(fp, string(mutated), fingerprint.DefaultTolerance) {
		t.Fatalf("single-char divergence should pass the 0.8 tolerance")
	}
}

// A minor change in the raw inputs (browser version bump) yields hashes that
// are nowhere near each other as strings. The tolerance compare therefore
// rejects them: the string-similarity heuristic does not provide real
// device-similarity tolerance, it only absorbs byte-level corruption.
func TestNearInputsProduceDissimilarHashes(t *testing.T) {
	bumped := chromeWindowsUA[:len(chromeWindowsUA)-1] + "7"

	a := fingerprint.Compute(chromeWindowsUA, "10.0.0.1", model.ClientInfo{})
	b := fingerprint.Compute(bumped, "10.0.0.1", model.ClientInfo{})

	if sim := fingerprint.Similarity(a, b); sim >= fingerprint.DefaultTolerance {
		t.Fatalf("near-identical inputs unexpectedly hashed to similar strings (similarity %.2f)", sim)
	}
	if fingerprint.Compare(a, b, fingerprint.DefaultTolerance) {
		t.Fatalf("tolerance compare should reject hashes of near-identical inputs")
	}
}

func TestSimilarityBounds(t *testing.T) {
	if s := fingerprint.Similarity("", ""); s != 1 {
		t.Fatalf("similarity of empty strings = %f, want 1", s)
	}
	if s := fingerprint.Similarity("abcd", "abcd"); s != 1 {
		t.Fatalf("similarity of equal strings = %f, want 1", s)
	}
	if s := fingerprint.Similarity("aaaa", "bbbb"); s != 0 {
		t.Fatalf("similarity of disjoint strings = %f, want 0", s)
	}
}
