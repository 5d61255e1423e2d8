package messaging

import (
	"bytes"
	"encoding/xml"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/nodequorum/controld/pkg/ctlerr"
)

// compressionMarker distinguishes a compressed frame body from a raw one
// on the wire; compression is applied only when it actually shrinks the
// payload, so small frames stay raw rather than pay flate's overhead.
const (
	markerRaw        byte = 0x00
	markerCompressed byte = 0x01
)

// Envelope is the XML wire structure carried inside a frame. encoding/xml
// is the one stdlib dependency in controld's domain stack: no XML library
// of any kind appears in the retrieved example corpus to ground a
// third-party choice on.
type Envelope struct {
	XMLName xml.Name `xml:"message"`
	Type    string   `xml:"t,attr"`
	From    string   `xml:"from,attr"`
	Body    []byte   `xml:",innerxml"`
}

// Encode marshals an Envelope and compresses it if that shrinks the
// result, returning the wire bytes ready to hand to a Transport along
// with the pre-compression XML size, so callers can track the
// compression ratio actually achieved.
func Encode(env Envelope) (wire []byte, uncompressedLen int, err error) {
	xmlBytes, err := xml.Marshal(env)
	if err != nil {
		return nil, 0, ctlerr.New(ctlerr.Protocol, "messaging.Encode", "marshaling envelope", err)
	}

	var compressed bytes.Buffer
	compressed.WriteByte(0) // placeholder, overwritten below
	w, err := flate.NewWriter(&compressed, flate.DefaultCompression)
	if err != nil {
		return nil, 0, ctlerr.New(ctlerr.Protocol, "messaging.Encode", "creating compressor", err)
	}
	if _, err := w.Write(xmlBytes); err != nil {
		return nil, 0, ctlerr.New(ctlerr.Protocol, "messaging.Encode", "compressing", err)
	}
	if err := w.Close(); err != nil {
		return nil, 0, ctlerr.New(ctlerr.Protocol, "messaging.Encode", "closing compressor", err)
	}

	if compressed.Len()-1 < len(xmlBytes) {
		out := compressed.Bytes()
		out[0] = markerCompressed
		return out, len(xmlBytes), nil
	}

	out := make([]byte, 0, len(xmlBytes)+1)
	out = append(out, markerRaw)
	out = append(out, xmlBytes...)
	return out, len(xmlBytes), nil
}

// Decode reverses Encode.
func Decode(wire []byte) (Envelope, error) {
	var env Envelope
	if len(wire) == 0 {
		return env, ctlerr.New(ctlerr.Protocol, "messaging.Decode", "empty frame", nil)
	}

	marker, body := wire[0], wire[1:]

	var xmlBytes []byte
	switch marker {
	case markerRaw:
		xmlBytes = body
	case markerCompressed:
		r := flate.NewReader(bytes.NewReader(body))
		defer r.Close()
		decoded, err := io.ReadAll(r)
		if err != nil {
			return env, ctlerr.New(ctlerr.Protocol, "messaging.Decode", "decompressing", err)
		}
		xmlBytes = decoded
	default:
		return env, ctlerr.New(ctlerr.Protocol, "messaging.Decode", "unknown frame marker", nil)
	}

	if err := xml.Unmarshal(xmlBytes, &env); err != nil {
		return env, ctlerr.New(ctlerr.Protocol, "messaging.Decode", "unmarshaling envelope", err)
	}
	return env, nil
}
