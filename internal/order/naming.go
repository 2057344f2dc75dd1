package order

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Scheme selects how local file names are derived from an order.
type Scheme string

const (
	// SchemeFile keeps the sanitized original file name.
	SchemeFile Scheme = "file"
	// SchemeIDPrefixed prefixes the sanitized product or file stem with the
	// order id so orders sharing a product name never collide.
	SchemeIDPrefixed Scheme = "id_prefixed"
)

const defaultExtension = ".gcode"

// Naming configures local name derivation.
type Naming struct {
	Scheme Scheme
	// DefaultFileName stands in for a missing file name. Empty means orders
	// without a file name are skipped.
	DefaultFileName string
	// DefaultExtension is used by SchemeIDPrefixed when the file name has none.
	DefaultExtension string
}

// ParseScheme validates a scheme name.
func ParseScheme(s string) (Scheme, error) {
	switch Scheme(strings.TrimSpace(s)) {
	case SchemeFile, "":
		return SchemeFile, nil
	case SchemeIDPrefixed:
		return SchemeIDPrefixed, nil
	default:
		return "", fmt.Errorf("unknown naming scheme %q", s)
	}
}

// Sanitize replaces every character outside [A-Za-z0-9_.-] with '_'. The
// result has exactly one character per input character.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isSafe(r) {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}

func isSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_', r == '.', r == '-':
		return true
	}
	return false
}

// LocalName computes the on-disk name for o. ok is false when the order has
// nothing to name the file after and should be skipped.
func (n Naming) LocalName(o Order) (name string, ok bool) {
	fileName := strings.TrimSpace(o.FileName)
	if !o.HasFileName() {
		if n.DefaultFileName == "" {
			return "", false
		}
		fileName = n.DefaultFileName
	}

	switch n.Scheme {
	case SchemeIDPrefixed:
		if o.ID == "" {
			return "", false
		}
		ext := filepath.Ext(fileName)
		stem := strings.TrimSuffix(fileName, ext)
		if ext == "" {
			ext = n.DefaultExtension
			if ext == "" {
				ext = defaultExtension
			}
		}
		base := strings.TrimSpace(o.Product)
		if base == "" {
			base = stem
		}
		return Sanitize(o.ID.String()) + "_" + Sanitize(base) + Sanitize(ext), true
	default:
		name = Sanitize(fileName)
	}
	// "." and ".." survive sanitizing but cannot name a file
	if name == "." || name == ".." {
		return "", false
	}
	return name, true
}
