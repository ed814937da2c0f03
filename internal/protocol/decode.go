package protocol

import (
	"bytes"
	"fmt"

	"golang.org/x/text/encoding/unicode"
)

// Encoding is the text encoding detected from a file's byte-order mark.
type Encoding string

const (
	EncodingUTF8    Encoding = "utf-8"
	EncodingUTF16LE Encoding = "utf-16le"
	EncodingUTF16BE Encoding = "utf-16be"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decode sniffs the first bytes of raw and returns UTF-8 text.
// MetaTrader writes FILE_UNICODE files as UTF-16LE with a BOM.
func Decode(raw []byte) (string, Encoding, error) {
	switch {
	case len(raw) >= 2 && raw[0] == 0xFF && raw[1] == 0xFE:
		out, err := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder().Bytes(raw)
		if err != nil {
			return "", EncodingUTF16LE, fmt.Errorf("decode utf-16le: %w", err)
		}
		return string(out), EncodingUTF16LE, nil
	case len(raw) >= 2 && raw[0] == 0xFE && raw[1] == 0xFF:
		out, err := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder().Bytes(raw)
		if err != nil {
			return "", EncodingUTF16BE, fmt.Errorf("decode utf-16be: %w", err)
		}
		return string(out), EncodingUTF16BE, nil
	case bytes.HasPrefix(raw, utf8BOM):
		return string(raw[len(utf8BOM):]), EncodingUTF8, nil
	}
	return string(raw), EncodingUTF8, nil
}
