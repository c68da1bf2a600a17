// Package dedupe detects repeat submissions of the same lead within a
// time window. Fingerprints are hashes of normalized dedupe-key values; the
// Index records them with an expiry.
package dedupe

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ignite/lead-router/internal/domain"
	"golang.org/x/text/cases"
)

const keySeparator = "\x1f"

// Fingerprint deterministically hashes the vertical's dedupe keys. Values are
// whitespace-trimmed and Unicode case-folded; absent keys hash as empty. The
// vertical name is part of the hash, so equal payloads in different verticals
// never collide.
func Fingerprint(v domain.Vertical, payload map[string]any) string {
	folder := cases.Fold()

	var b strings.Builder
	b.WriteString(v.Name)
	for _, key := range v.FingerprintKeys() {
		b.WriteString(keySeparator)
		b.WriteString(key)
		b.WriteByte('=')
		if val, ok := payload[key]; ok && val != nil {
			b.WriteString(folder.String(strings.TrimSpace(fmt.Sprint(val))))
		}
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
