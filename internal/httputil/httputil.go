// Package httputil provides request/response plumbing shared by the EAS
// router: a uniform response type, body reading, an XML decoding helper, a
// plain-text error response and the rate limiter, in the spirit of the
// teacher's clientapi/httputil package. It has no error-to-status mapping;
// the router chooses HTTP status codes itself.
package httputil

import (
	"encoding/xml"
	"io"
	"net/http"

	"github.com/exchangecore/excore/internal/wbxml"
)

// Response is the uniform shape the router writes; WriteTo sends WBXML when
// it is non-empty and Bytes otherwise. Options does not use a Response:
// options.Handle writes its headers to the ResponseWriter directly.
type Response struct {
	Code        int
	ContentType string
	WBXML       []byte
	Bytes       []byte
	Headers     map[string]string
}

// WriteTo writes the response to w, setting the recorded headers first so
// callers can still override Content-Type etc. before the body is sent.
func (r *Response) WriteTo(w http.ResponseWriter) {
	for k, v := range r.Headers {
		w.Header().Set(k, v)
	}
	if r.ContentType != "" {
		w.Header().Set("Content-Type", r.ContentType)
	}
	w.Header().Set("Cache-Control", "private, no-cache")
	code := r.Code
	if code == 0 {
		code = http.StatusOK
	}
	w.WriteHeader(code)
	if len(r.WBXML) > 0 {
		_, _ = w.Write(r.WBXML)
		return
	}
	if len(r.Bytes) > 0 {
		_, _ = w.Write(r.Bytes)
	}
}

// WBXMLResponse builds an application/vnd.ms-sync.wbxml 200 response by
// encoding root with codec.
func WBXMLResponse(root *wbxml.Node, codec *wbxml.Codec) (*Response, error) {
	b, err := wbxml.EncodeBytes(root, codec)
	if err != nil {
		return nil, err
	}
	return &Response{
		Code:        http.StatusOK,
		ContentType: "application/vnd.ms-sync.wbxml",
		WBXML:       b,
	}, nil
}

// ReadBody reads and returns the full request body; EAS bodies are small
// (single WBXML documents), so no streaming budget beyond the codec's own
// decode budget is needed here.
func ReadBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// DecodeXML unmarshals body as XML into v. Autodiscover parses its request
// with encoding/xml directly and does not call it.
func DecodeXML(body []byte, v interface{}) error {
	return xml.Unmarshal(body, v)
}

// PlainError builds a minimal text/plain error response, used for the
// envelope-level failures spec.md §7 says "abort the whole request"
// (malformed WBXML header, auth failures without a well-formed body).
func PlainError(code int, msg string) *Response {
	return &Response{
		Code:        code,
		ContentType: "text/plain; charset=utf-8",
		Bytes:       []byte(msg),
	}
}
