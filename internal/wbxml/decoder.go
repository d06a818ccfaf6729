package wbxml

import (
	"bufio"
	"bytes"
	"io"
)

// Decode parses a complete WBXML document from r using codec's token
// tables, enforcing budget as the maximum number of bytes (the 4-byte
// header included) the decoder will read before failing closed — spec.md
// §4.1 "The decoder never allocates more than a caller-specified byte
// budget."
func Decode(r io.Reader, codec *Codec, budget int) (*Node, error) {
	d := &decoder{r: &limitedReader{r: bufio.NewReader(r), budget: budget}, codec: codec, page: PageAirSync}
	if err := d.readHeader(); err != nil {
		return nil, err
	}
	root, err := d.readElement()
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, newErr(NestingMismatch, "END with no open element")
	}
	return root, nil
}

// DecodeBytes is Decode over an in-memory buffer.
func DecodeBytes(data []byte, codec *Codec, budget int) (*Node, error) {
	return Decode(bytes.NewReader(data), codec, budget)
}

type limitedReader struct {
	r      *bufio.Reader
	budget int // -1 == unlimited
	read   int
}

func (lr *limitedReader) readByte() (byte, error) {
	if lr.budget >= 0 && lr.read >= lr.budget {
		return 0, &Error{Kind: BudgetExceeded}
	}
	b, err := lr.r.ReadByte()
	if err != nil {
		if err == io.EOF {
			return 0, newErr(UnexpectedEOF, "unexpected end of document")
		}
		return 0, err
	}
	lr.read++
	return b, nil
}

func (lr *limitedReader) readN(n int) ([]byte, error) {
	if lr.budget >= 0 && lr.read+n > lr.budget {
		return nil, &Error{Kind: BudgetExceeded}
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(lr.r, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, newErr(UnexpectedEOF, "unexpected end of document")
		}
		return nil, err
	}
	lr.read += n
	return buf, nil
}

type decoder struct {
	r     *limitedReader
	codec *Codec
	page  Page
}

func (d *decoder) readHeader() error {
	hdr, err := d.r.readN(4)
	if err != nil {
		return err
	}
	if hdr[0] != header[0] || hdr[1] != header[1] || hdr[2] != header[2] || hdr[3] != header[3] {
		return newErr(MalformedWBXML, "unexpected header bytes")
	}
	return nil
}

// readElement reads one element tag (possibly preceded by SWITCH_PAGE
// instructions) and its content, returning nil, nil at a bare END (the
// caller loop uses this to know when a container is done).
func (d *decoder) readElement() (*Node, error) {
	for {
		tok, err := d.r.readByte()
		if err != nil {
			return nil, err
		}
		switch tok {
		case tokSwitchPage:
			pageByte, err := d.r.readByte()
			if err != nil {
				return nil, err
			}
			d.page = Page(pageByte)
			continue
		case tokEnd:
			return nil, nil
		case tokStrI, tokOpaque:
			// A bare string/opaque where an element tag was expected is a
			// structural error — these only appear as element *content*.
			return nil, newErr(MalformedWBXML, "unexpected inline content token")
		default:
			return d.readTaggedElement(tok)
		}
	}
}

func (d *decoder) readTaggedElement(tok byte) (*Node, error) {
	hasContent := tok&hasContentBit != 0
	baseTok := tok &^ hasContentBit

	name, known := d.codec.Name(d.page, baseTok)
	n := &Node{Page: d.page, Name: name}
	if !known {
		// Unknown element token within a known page: keep reading so the
		// caller can skip it, per spec.md §4.1. We still need a stable
		// name to carry through the tree; synthesize one from the token.
		n.Name = unknownName(baseTok)
	}

	if !hasContent {
		return n, nil
	}

	// Peek at the very next token: if it is STR_I/OPAQUE the element's
	// content is text/opaque, not children.
	peek, err := d.r.readByte()
	if err != nil {
		return nil, err
	}
	switch peek {
	case tokStrI:
		s, err := d.readCString()
		if err != nil {
			return nil, err
		}
		n.Text = s
		if err := d.expectEnd(); err != nil {
			return nil, err
		}
		return n, nil
	case tokOpaque:
		data, err := d.readOpaque()
		if err != nil {
			return nil, err
		}
		n.Opaque = data
		n.IsOpaque = true
		if err := d.expectEnd(); err != nil {
			return nil, err
		}
		return n, nil
	default:
		// Not text/opaque: peek was the start of the first child (or a
		// SWITCH_PAGE, or END for an "empty but flagged content" element).
		// Dispatch it through the same tag handling readElement uses.
		child, err := d.readElementStartingWith(peek)
		if err != nil {
			return nil, err
		}
		if child == nil {
			return n, nil
		}
		n.Children = append(n.Children, child)
		for {
			c, err := d.readElement()
			if err != nil {
				return nil, err
			}
			if c == nil {
				break
			}
			n.Children = append(n.Children, c)
		}
		return n, nil
	}
}

// readElementStartingWith handles the first token of a content section
// that readTaggedElement already consumed while peeking.
func (d *decoder) readElementStartingWith(tok byte) (*Node, error) {
	switch tok {
	case tokSwitchPage:
		pageByte, err := d.r.readByte()
		if err != nil {
			return nil, err
		}
		d.page = Page(pageByte)
		return d.readElement()
	case tokEnd:
		return nil, nil
	default:
		return d.readTaggedElement(tok)
	}
}

func (d *decoder) expectEnd() error {
	tok, err := d.r.readByte()
	if err != nil {
		return err
	}
	if tok != tokEnd {
		return newErr(NestingMismatch, "expected END after inline content")
	}
	return nil
}

func (d *decoder) readCString() (string, error) {
	var buf bytes.Buffer
	for {
		b, err := d.r.readByte()
		if err != nil {
			return "", err
		}
		if b == 0x00 {
			return buf.String(), nil
		}
		buf.WriteByte(b)
	}
}

func (d *decoder) readOpaque() ([]byte, error) {
	n, err := d.readMultiByteUint()
	if err != nil {
		return nil, err
	}
	return d.r.readN(int(n))
}

func (d *decoder) readMultiByteUint() (uint64, error) {
	var v uint64
	for i := 0; i < 10; i++ {
		b, err := d.r.readByte()
		if err != nil {
			return 0, err
		}
		v = (v << 7) | uint64(b&0x7F)
		if b&0x80 == 0 {
			return v, nil
		}
	}
	return 0, newErr(MalformedWBXML, "multi-byte integer too long")
}

func unknownName(tok byte) string {
	const hex = "0123456789ABCDEF"
	return string([]byte{'_', '_', 'u', 'n', 'k', '_', hex[tok>>4], hex[tok&0xF]})
}
