package wbxml

import (
	"bytes"
	"io"
	"unicode/utf8"
)

// Control tokens, per spec.md §4.1.
const (
	tokSwitchPage byte = 0x00
	tokEnd        byte = 0x01
	tokStrI       byte = 0x03
	tokOpaque     byte = 0xC3
	hasContentBit byte = 0x40
)

// Header bytes every WBXML document begins with, per spec.md §4.1.
var header = []byte{0x03, 0x01, 0x6A, 0x00}

// Encode writes root's subtree as a complete WBXML document to w, using
// codec's token tables. The header is written once; root itself is just
// the first element (callers pass the top-level node, e.g. <Sync>).
func Encode(w io.Writer, root *Node, codec *Codec) error {
	e := &encoder{w: w, codec: codec, page: PageAirSync}
	if _, err := w.Write(header); err != nil {
		return err
	}
	return e.writeNode(root)
}

// EncodeBytes is Encode into a fresh buffer, for handlers that need the
// bytes directly (to cache as a pending batch, or to write a Content-Length).
func EncodeBytes(root *Node, codec *Codec) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, root, codec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type encoder struct {
	w    io.Writer
	codec *Codec
	page Page // code page currently selected on the wire
}

func (e *encoder) switchTo(page Page) error {
	if page == e.page {
		return nil
	}
	if _, err := e.w.Write([]byte{tokSwitchPage, byte(page)}); err != nil {
		return err
	}
	e.page = page
	return nil
}

// writeNode encodes n and, if n's page differs from its parent's, restores
// the parent's page before returning — spec.md §4.1 requires switch-back
// before the parent's END so nesting stays unambiguous.
func (e *encoder) writeNode(n *Node) error {
	parentPage := e.page
	if err := e.switchTo(n.Page); err != nil {
		return err
	}

	tok, ok := e.codec.Token(n.Page, n.Name)
	if !ok {
		return &Error{Kind: UnknownToken, Page: n.Page, Token: 0, Message: n.Name}
	}

	hasContent := n.IsOpaque || n.Text != "" || len(n.Children) > 0
	wireTok := tok
	if hasContent {
		wireTok |= hasContentBit
	}
	if _, err := e.w.Write([]byte{wireTok}); err != nil {
		return err
	}

	if hasContent {
		switch {
		case n.IsOpaque:
			if err := e.writeOpaque(n.Opaque); err != nil {
				return err
			}
		case n.Text != "":
			if err := e.writeStrI(n.Text); err != nil {
				return err
			}
		default:
			for _, child := range n.Children {
				if err := e.writeNode(child); err != nil {
					return err
				}
			}
		}
		if _, err := e.w.Write([]byte{tokEnd}); err != nil {
			return err
		}
	}

	// Restore the page the parent was using before descending, per the
	// mandatory switch-back rule.
	return e.switchTo(parentPage)
}

func (e *encoder) writeStrI(s string) error {
	if _, err := e.w.Write([]byte{tokStrI}); err != nil {
		return err
	}
	if _, err := io.WriteString(e.w, s); err != nil {
		return err
	}
	_, err := e.w.Write([]byte{0x00})
	return err
}

func (e *encoder) writeOpaque(data []byte) error {
	if _, err := e.w.Write([]byte{tokOpaque}); err != nil {
		return err
	}
	if err := writeMultiByteUint(e.w, uint64(len(data))); err != nil {
		return err
	}
	_, err := e.w.Write(data)
	return err
}

// writeMultiByteUint writes v as a WBXML multi-byte unsigned varint: seven
// bits per byte, big-endian, continuation bit (0x80) set on every byte but
// the last.
func writeMultiByteUint(w io.Writer, v uint64) error {
	var buf [10]byte
	i := len(buf)
	i--
	buf[i] = byte(v & 0x7F)
	v >>= 7
	for v > 0 {
		i--
		buf[i] = byte(v&0x7F) | 0x80
		v >>= 7
	}
	_, err := w.Write(buf[i:])
	return err
}

// TruncateUTF8 returns the prefix of s no longer than maxBytes, backing off
// to the previous code-point boundary rather than splitting a multi-byte
// rune, per spec.md §4.1 "Truncation at byte boundaries". It reports
// whether truncation actually shortened the string.
func TruncateUTF8(s string, maxBytes int) (string, bool) {
	if len(s) <= maxBytes {
		return s, false
	}
	b := s[:maxBytes]
	for len(b) > 0 && !utf8.RuneStart(s[len(b)]) {
		b = b[:len(b)-1]
	}
	return b, true
}
