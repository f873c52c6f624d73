package ports

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// candidate is one encoding tried by DecodeOutput.
type candidate struct {
	name string
	enc  encoding.Encoding
	// applies reports whether the raw bytes plausibly use this encoding.
	applies func([]byte) bool
}

// Console tools emit UTF-8 under modern shells, UTF-16LE when redirected from
// PowerShell, and an ANSI or OEM code page on legacy consoles.
var candidates = []candidate{
	{name: "utf-16le", enc: unicode.UTF16(unicode.LittleEndian, unicode.UseBOM), applies: looksUTF16LE},
	{name: "cp850", enc: charmap.CodePage850, applies: hasOEMLetters},
	{name: "windows-1252", enc: charmap.Windows1252, applies: always},
}

// DecodeOutput converts raw tool output to a string. It never fails: when
// no candidate decodes cleanly the bytes are decoded as UTF-8 with invalid
// sequences replaced by U+FFFD.
func DecodeOutput(raw []byte) string {
	s, _ := decodeOutput(raw)
	return s
}

// decodeOutput also returns the name of the encoding that was used.
func decodeOutput(raw []byte) (string, string) {
	if len(raw) == 0 {
		return "", "utf-8"
	}
	if utf8.Valid(raw) && !looksUTF16LE(raw) {
		return strings.TrimPrefix(string(raw), "\ufeff"), "utf-8"
	}

	for _, c := range candidates {
		if !c.applies(raw) {
			continue
		}
		decoded, err := c.enc.NewDecoder().Bytes(raw)
		if err != nil || bytes.ContainsRune(decoded, utf8.RuneError) {
			continue
		}
		return string(decoded), c.name
	}

	return strings.ToValidUTF8(string(raw), "\uFFFD"), "utf-8-lossy"
}

func always([]byte) bool { return true }

// hasOEMLetters reports bytes in 0x80-0x9F, which are accented letters in
// OEM code pages but rare punctuation in Windows-1252.
func hasOEMLetters(raw []byte) bool {
	for _, b := range raw {
		if b >= 0x80 && b <= 0x9F {
			return true
		}
	}
	return false
}

// looksUTF16LE detects a UTF-16LE BOM, or ASCII text where every odd byte is NUL.
func looksUTF16LE(raw []byte) bool {
	if len(raw) >= 2 && raw[0] == 0xFF && raw[1] == 0xFE {
		return true
	}
	if len(raw) < 4 || len(raw)%2 != 0 {
		return false
	}
	sample := raw
	if len(sample) > 256 {
		sample = sample[:256]
	}
	zeros := 0
	for i := 1; i < len(sample); i += 2 {
		if sample[i] == 0 {
			zeros++
		}
	}
	return zeros*4 >= len(sample)/2*3
}
