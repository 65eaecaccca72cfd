package websocket

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"
)

// ErrBadHandshake wraps every handshake validation failure. The connection
// is closed with no response when any of these occur.
var ErrBadHandshake = errors.New("malformed handshake")

// finalByteCount is the length of the nonce that trails the handshake
// request after the blank line.
const finalByteCount = 8

// mandatoryFields are required, case-sensitively, in every handshake request.
var mandatoryFields = []string{
	"Upgrade",
	"Connection",
	"Host",
	"Origin",
	"Sec-WebSocket-Key1",
	"Sec-WebSocket-Key2",
}

// Request is a parsed draft-76 handshake request. It is constructed from a
// single accumulated read, consumed immediately to build the response, and
// discarded.
type Request struct {
	Method  string
	Path    string
	Version string
	Fields  map[string]string

	// FinalBytes is the 8-byte nonce trailing the header block.
	FinalBytes []byte
}

// ParseRequest validates the structure of a raw handshake request: the
// request line, the trailing blank line and nonce, and the header fields.
// Validation is fail-fast; the first violation aborts the parse.
func ParseRequest(raw []byte) (*Request, error) {
	lines := strings.Split(string(raw), "\r\n")

	// The request line, blank line and nonce are mandatory even with no fields.
	if len(lines) < 3 {
		return nil, fmt.Errorf("%w: request too short", ErrBadHandshake)
	}

	parts := strings.Fields(lines[0])
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: invalid request line", ErrBadHandshake)
	}
	method, path, version := parts[0], parts[1], parts[2]
	if method != "GET" {
		return nil, fmt.Errorf("%w: method must be GET", ErrBadHandshake)
	}
	if version != "HTTP/1.1" {
		return nil, fmt.Errorf("%w: version must be HTTP/1.1", ErrBadHandshake)
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("%w: invalid path", ErrBadHandshake)
	}

	blank, finalBytes := lines[len(lines)-2], lines[len(lines)-1]
	if blank != "" {
		return nil, fmt.Errorf("%w: missing blank line before final bytes", ErrBadHandshake)
	}
	if len(finalBytes) != finalByteCount {
		return nil, fmt.Errorf("%w: expected %d final bytes, got %d",
			ErrBadHandshake, finalByteCount, len(finalBytes))
	}

	fields, err := parseFields(lines[1 : len(lines)-2])
	if err != nil {
		return nil, err
	}

	return &Request{
		Method:     method,
		Path:       path,
		Version:    version,
		Fields:     fields,
		FinalBytes: []byte(finalBytes),
	}, nil
}

// parseFields validates the header block: every line must be of the form
// "Name: Value" with a name drawn from the permitted character set, all
// mandatory fields must be present, and the Upgrade/Connection values must
// match (case-insensitively). Duplicate names silently overwrite.
func parseFields(rawFields []string) (map[string]string, error) {
	fields := make(map[string]string, len(rawFields))

	for _, rawField := range rawFields {
		name, value, found := strings.Cut(rawField, ": ")
		if !found {
			return nil, fmt.Errorf("%w: invalid field %q", ErrBadHandshake, rawField)
		}
		if !validFieldName(name) {
			return nil, fmt.Errorf("%w: invalid field name %q", ErrBadHandshake, name)
		}
		fields[name] = value
	}

	for _, name := range mandatoryFields {
		if _, ok := fields[name]; !ok {
			return nil, fmt.Errorf("%w: missing %s field", ErrBadHandshake, name)
		}
	}

	if !strings.EqualFold(fields["Upgrade"], "websocket") {
		return nil, fmt.Errorf("%w: Upgrade must be websocket", ErrBadHandshake)
	}
	if !strings.EqualFold(fields["Connection"], "upgrade") {
		return nil, fmt.Errorf("%w: Connection must be upgrade", ErrBadHandshake)
	}

	return fields, nil
}

// validFieldName permits ASCII letters, digits and punctuation with the
// exception of the colon, which terminates the name on the wire.
func validFieldName(name string) bool {
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == ':':
			return false
		case strings.IndexByte("!\"#$%&'()*+,-./;<=>?@[\\]^_`{|}~", c) >= 0:
		default:
			return false
		}
	}
	return true
}

// deriveKeyNumber extracts the number hidden in a Sec-WebSocket-Key value:
// the key's decimal digits concatenated in order, integer-divided by the
// count of its whitespace characters.
func deriveKeyNumber(key string) (uint32, error) {
	var n uint64
	var spaces uint64

	for _, c := range key {
		switch {
		case c >= '0' && c <= '9':
			n = n*10 + uint64(c-'0')
			if n > math.MaxUint32 {
				return 0, fmt.Errorf("%w: key number overflows 32 bits", ErrBadHandshake)
			}
		case unicode.IsSpace(c):
			spaces++
		}
	}

	if spaces < 1 {
		return 0, fmt.Errorf("%w: key contains no whitespace", ErrBadHandshake)
	}

	return uint32(n / spaces), nil
}

// ChallengeResponse computes the 16-byte handshake challenge: the two key
// numbers packed as big-endian uint32s, concatenated with the 8 nonce bytes,
// hashed with MD5.
func (r *Request) ChallengeResponse() ([md5.Size]byte, error) {
	num1, err := deriveKeyNumber(r.Fields["Sec-WebSocket-Key1"])
	if err != nil {
		return [md5.Size]byte{}, err
	}
	num2, err := deriveKeyNumber(r.Fields["Sec-WebSocket-Key2"])
	if err != nil {
		return [md5.Size]byte{}, err
	}

	challenge := make([]byte, 0, 16)
	challenge = binary.BigEndian.AppendUint32(challenge, num1)
	challenge = binary.BigEndian.AppendUint32(challenge, num2)
	challenge = append(challenge, r.FinalBytes...)

	return md5.Sum(challenge), nil
}

// BuildResponse produces the complete 101 response for a validated request:
// the status line and headers, a blank line, then the raw 16-byte challenge
// response (not text-encoded).
func BuildResponse(r *Request) ([]byte, error) {
	digest, err := r.ChallengeResponse()
	if err != nil {
		return nil, err
	}

	var response bytes.Buffer
	response.WriteString("HTTP/1.1 101 WebSocket Protocol Handshake\r\n")
	response.WriteString("Upgrade: WebSocket\r\n")
	response.WriteString("Connection: Upgrade\r\n")
	response.WriteString("Sec-WebSocket-Location: ws://" + r.Fields["Host"] + r.Path + "\r\n")
	response.WriteString("Sec-WebSocket-Origin: " + r.Fields["Origin"] + "\r\n")
	if subprotocol, ok := r.Fields["Sec-WebSocket-Protocol"]; ok {
		response.WriteString("Sec-WebSocket-Protocol: " + subprotocol + "\r\n")
	}
	response.WriteString("\r\n")
	response.Write(digest[:])

	return response.Bytes(), nil
}
