// Package bedrock implements the AWS event-stream binary framing used for
// the Bedrock provider's streaming responses: a length-prefixed frame
// decoder/encoder with a deterministic body-padding field, and the SigV4
// request signing fallback used when no bearer token is configured.
//
// This is a hand-written codec rather than a wrapper over
// aws-sdk-go-v2/aws/protocol/eventstream: the wire format here adds a
// deterministic padding field `p` to the JSON body that the real AWS
// event-stream protocol has no notion of, so the frame body here is not
// byte-compatible with what that package decodes.
package bedrock

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
)

// Headers carries the three string headers used on every event.
type Headers struct {
	EventType   string
	MessageType string
	ContentType string
}

// Event is one decoded logical event: the header set plus the JSON body
// with the padding field `p` stripped.
type Event struct {
	Headers Headers
	Body    []byte
}

const paddingAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// paddingTarget is the minimum padded body length, fixed at 80 bytes. No
// other target may be guessed; it must match exactly.
const paddingTarget = 80

// minBodyOverhead is subtracted from the target before padding
// ("padding length = max(0, 80 − bodyLen − 10)").
const minBodyOverhead = 10

// computePaddingLength returns the number of padding characters needed to
// bring a body of bodyLen bytes up to the 80-byte target, truncated
// to the alphabet's size since a single field value cannot exceed it.
func computePaddingLength(bodyLen int) int {
	n := paddingTarget - bodyLen - minBodyOverhead
	if n < 0 {
		n = 0
	}
	if n > len(paddingAlphabet) {
		n = len(paddingAlphabet)
	}
	return n
}

// computePadding derives the deterministic padding string for a body of
// bodyLen bytes by taking the first computePaddingLength(bodyLen)
// characters of the 62-char alphabet.
func computePadding(bodyLen int) string {
	return paddingAlphabet[:computePaddingLength(bodyLen)]
}

// EncodeEvent serializes headers and jsonBody into one length-prefixed
// frame, injecting the deterministic padding field `p` into the body
// before computing the frame length and CRC.
func EncodeEvent(h Headers, jsonBody []byte) ([]byte, error) {
	padded, err := addPadding(jsonBody)
	if err != nil {
		return nil, fmt.Errorf("bedrock: adding padding field: %w", err)
	}

	var headerBuf bytes.Buffer
	writeHeader(&headerBuf, ":event-type", h.EventType)
	writeHeader(&headerBuf, ":message-type", h.MessageType)
	writeHeader(&headerBuf, ":content-type", h.ContentType)

	// total length | header length | headers | body | crc(4)
	total := 4 + 4 + headerBuf.Len() + len(padded) + 4
	frame := make([]byte, 0, total)
	buf := bytes.NewBuffer(frame)

	binary.Write(buf, binary.BigEndian, uint32(total)) //nolint:errcheck // bytes.Buffer never errors
	binary.Write(buf, binary.BigEndian, uint32(headerBuf.Len()))
	buf.Write(headerBuf.Bytes())
	buf.Write(padded)

	crc := crc32.ChecksumIEEE(buf.Bytes())
	binary.Write(buf, binary.BigEndian, crc) //nolint:errcheck

	return buf.Bytes(), nil
}

// writeHeader appends one string header in a simple
// [nameLen(1) | name | valueLen(2) | value] shape, matching the header
// triplet every event carries (:event-type, :message-type, :content-type).
func writeHeader(buf *bytes.Buffer, name, value string) {
	buf.WriteByte(byte(len(name)))
	buf.WriteString(name)
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(value)))
	buf.Write(lenBuf[:])
	buf.WriteString(value)
}

func readHeader(r *bytes.Reader) (name, value string, err error) {
	nameLen, err := r.ReadByte()
	if err != nil {
		return "", "", err
	}
	nameBuf := make([]byte, nameLen)
	if _, err := r.Read(nameBuf); err != nil {
		return "", "", err
	}
	var lenBuf [2]byte
	if _, err := r.Read(lenBuf[:]); err != nil {
		return "", "", err
	}
	valueLen := binary.BigEndian.Uint16(lenBuf[:])
	valueBuf := make([]byte, valueLen)
	if _, err := r.Read(valueBuf); err != nil {
		return "", "", err
	}
	return string(nameBuf), string(valueBuf), nil
}

// addPadding parses jsonBody as a JSON object, sets its "p" field to the
// deterministic padding computed from the unpadded body's length, and
// re-marshals it.
func addPadding(jsonBody []byte) ([]byte, error) {
	var fields map[string]any
	if err := json.Unmarshal(jsonBody, &fields); err != nil {
		return nil, err
	}
	fields["p"] = computePadding(len(jsonBody))
	return json.Marshal(fields)
}

// stripPadding removes the "p" field a decoded body carries, so callers
// see the event body as the upstream originally emitted it.
func stripPadding(jsonBody []byte) ([]byte, error) {
	var fields map[string]any
	if err := json.Unmarshal(jsonBody, &fields); err != nil {
		return nil, err
	}
	delete(fields, "p")
	return json.Marshal(fields)
}

// DecodeFrame parses exactly one frame from the head of buf and returns
// the Event plus the number of bytes consumed. It returns
// (nil, 0, nil) when buf does not yet contain a complete frame, matching
// the decoder's AWAIT_LENGTH/AWAIT_BODY states: callers should keep
// accumulating bytes and retry.
func DecodeFrame(buf []byte) (*Event, int, error) {
	if len(buf) < 4 {
		return nil, 0, nil // AWAIT_LENGTH
	}
	total := int(binary.BigEndian.Uint32(buf[:4]))
	if total < 16 {
		return nil, 0, fmt.Errorf("bedrock: frame length %d too small for header+crc overhead", total)
	}
	if len(buf) < total {
		return nil, 0, nil // AWAIT_BODY
	}

	frame := buf[:total]
	headerLen := int(binary.BigEndian.Uint32(frame[4:8]))
	if 8+headerLen > total-4 {
		return nil, 0, fmt.Errorf("bedrock: header length %d exceeds frame", headerLen)
	}

	headerBytes := frame[8 : 8+headerLen]
	bodyBytes := frame[8+headerLen : total-4]
	wantCRC := binary.BigEndian.Uint32(frame[total-4 : total])
	gotCRC := crc32.ChecksumIEEE(frame[:total-4])
	if wantCRC != gotCRC {
		return nil, 0, fmt.Errorf("bedrock: CRC mismatch, frame corrupt")
	}

	h, err := decodeHeaders(headerBytes)
	if err != nil {
		return nil, 0, err
	}
	stripped, err := stripPadding(bodyBytes)
	if err != nil {
		return nil, 0, fmt.Errorf("bedrock: decoding body: %w", err)
	}

	return &Event{Headers: h, Body: stripped}, total, nil
}

func decodeHeaders(buf []byte) (Headers, error) {
	r := bytes.NewReader(buf)
	var h Headers
	for r.Len() > 0 {
		name, value, err := readHeader(r)
		if err != nil {
			return h, fmt.Errorf("bedrock: decoding header: %w", err)
		}
		switch name {
		case ":event-type":
			h.EventType = value
		case ":message-type":
			h.MessageType = value
		case ":content-type":
			h.ContentType = value
		}
	}
	return h, nil
}

// Decoder accumulates bytes across reads and emits complete Events,
// implementing an AWAIT_LENGTH/AWAIT_BODY state machine across arbitrary,
// possibly mid-frame, input chunk boundaries.
type Decoder struct {
	buf []byte
}

// NewDecoder returns an empty streaming Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends chunk to the internal buffer and returns every complete
// Event now decodable from it, in order, leaving any partial trailing
// frame buffered for the next call.
func (d *Decoder) Feed(chunk []byte) ([]Event, error) {
	d.buf = append(d.buf, chunk...)

	var events []Event
	for {
		ev, n, err := DecodeFrame(d.buf)
		if err != nil {
			return events, err
		}
		if ev == nil {
			break
		}
		events = append(events, *ev)
		d.buf = d.buf[n:]
	}
	return events, nil
}

// Buffered returns the number of undecoded bytes currently held, for
// tests asserting no leftover bytes remain at EOF.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}
