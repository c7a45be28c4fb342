package quota

import "strings"

const cipherAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// Cipher is a reversible substitution over the API key alphabet. It keeps
// keys from sitting in plain text at rest; it is not encryption.
type Cipher struct {
	shift int
}

// NewCipher returns a cipher rotating the alphabet by shift positions.
func NewCipher(shift int) Cipher {
	n := len(cipherAlphabet)
	return Cipher{shift: ((shift % n) + n) % n}
}

// Obfuscate encodes a key for storage.
func (c Cipher) Obfuscate(key string) string {
	return c.rotate(key, c.shift)
}

// Reveal decodes a stored key.
func (c Cipher) Reveal(stored string) string {
	return c.rotate(stored, -c.shift)
}

func (c Cipher) rotate(s string, by int) string {
	n := len(cipherAlphabet)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		i := strings.IndexRune(cipherAlphabet, r)
		if i < 0 {
			b.WriteRune(r)
			continue
		}
		b.WriteByte(cipherAlphabet[((i+by)%n+n)%n])
	}
	return b.String()
}
