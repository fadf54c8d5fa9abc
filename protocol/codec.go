// Package protocol implements the bulk-load wire format: EOT-terminated text
// commands with JSON replies, and binary frames for the row stream.
package protocol

import (
	"bytes"
	"encoding/json"
	"sync"
)

const (
	EOT byte = 0x04 // ends every text message
	ENQ byte = 0x05 // separates command parameters
)

// Codec turns commands into wire bytes and replies into Responses.
type Codec interface {
	Encode(command string, params []string) []byte
	Decode(data []byte) (*Response, error)
}

// Response is a server reply. Replies that are not JSON decode as a
// successful Response carrying the text in Message.
type Response struct {
	Data    interface{}            `json:"data,omitempty"`
	Success bool                   `json:"success"`
	Message string                 `json:"message,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Code    string                 `json:"code,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// RowCount extracts the "rowCount" member of a bulk load acknowledgement.
func (r *Response) RowCount() (int64, bool) {
	data, ok := r.Data.(map[string]interface{})
	if !ok {
		return 0, false
	}
	switch n := data["rowCount"].(type) {
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

type textCodec struct {
	bufs sync.Pool
}

func NewCodec() Codec {
	return &textCodec{bufs: sync.Pool{New: func() interface{} { return new(bytes.Buffer) }}}
}

// Encode writes command, then each parameter after an ENQ, then EOT. EOT and
// ENQ bytes inside a parameter are doubled.
func (c *textCodec) Encode(command string, params []string) []byte {
	buf := c.bufs.Get().(*bytes.Buffer)
	defer c.bufs.Put(buf)
	buf.Reset()

	buf.WriteString(command)
	for _, p := range params {
		buf.WriteByte(ENQ)
		writeEscaped(buf, p)
	}
	buf.WriteByte(EOT)
	return bytes.Clone(buf.Bytes())
}

func writeEscaped(buf *bytes.Buffer, s string) {
	for i := 0; i < len(s); i++ {
		buf.WriteByte(s[i])
		if s[i] == EOT || s[i] == ENQ {
			buf.WriteByte(s[i])
		}
	}
}

// DecodeCommand is the server side of Encode: it splits a message into the
// command and its unescaped parameters.
func DecodeCommand(data []byte) (string, []string, error) {
	var fields []string
	var cur bytes.Buffer
	for i := 0; i < len(data); i++ {
		b := data[i]
		if (b == EOT || b == ENQ) && i+1 < len(data) && data[i+1] == b {
			cur.WriteByte(b)
			i++
			continue
		}
		switch b {
		case ENQ:
			fields = append(fields, cur.String())
			cur.Reset()
		case EOT:
			fields = append(fields, cur.String())
			if fields[0] == "" {
				return "", nil, FramingError("empty command", nil)
			}
			return fields[0], fields[1:], nil
		default:
			cur.WriteByte(b)
		}
	}
	return "", nil, FramingError("command is not terminated by EOT", nil)
}

func (c *textCodec) Decode(data []byte) (*Response, error) {
	data = bytes.TrimSuffix(data, []byte{EOT})
	if len(data) == 0 {
		return nil, FramingError("empty response", nil)
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return &Response{Success: true, Message: string(data)}, nil
	}
	return &resp, nil
}

// EncodeResponse renders a reply the way the server writes it.
func EncodeResponse(r *Response) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return append(b, EOT), nil
}
