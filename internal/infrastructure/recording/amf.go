package recording

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
)

// AMF0 markers used by the onMetaData script tag.
const (
	amfNumber    = 0x00
	amfBoolean   = 0x01
	amfString    = 0x02
	amfECMAArray = 0x08
	amfObjectEnd = 0x09
)

func writeAMFNumber(w io.Writer, v float64) error {
	var buf [9]byte
	buf[0] = amfNumber
	binary.BigEndian.PutUint64(buf[1:], math.Float64bits(v))
	_, err := w.Write(buf[:])
	return err
}

func writeAMFBoolean(w io.Writer, v bool) error {
	b := byte(0)
	if v {
		b = 1
	}
	_, err := w.Write([]byte{amfBoolean, b})
	return err
}

// writeAMFKey writes a bare UTF-8 key (length prefix, no marker).
func writeAMFKey(w io.Writer, s string) error {
	if len(s) > 0xFFFF {
		return fmt.Errorf("amf: string length %d exceeds 65535", len(s))
	}
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], uint16(len(s)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func writeAMFString(w io.Writer, s string) error {
	if _, err := w.Write([]byte{amfString}); err != nil {
		return err
	}
	return writeAMFKey(w, s)
}

// writeAMFECMAArray encodes m with keys in sorted order so output is stable.
// Values may be float64, bool or string.
func writeAMFECMAArray(w io.Writer, m map[string]interface{}) error {
	var hdr [5]byte
	hdr[0] = amfECMAArray
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(m)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := writeAMFKey(w, k); err != nil {
			return err
		}
		var err error
		switch v := m[k].(type) {
		case float64:
			err = writeAMFNumber(w, v)
		case bool:
			err = writeAMFBoolean(w, v)
		case string:
			err = writeAMFString(w, v)
		default:
			err = fmt.Errorf("amf: unsupported value type %T for key %q", v, k)
		}
		if err != nil {
			return err
		}
	}

	_, err := w.Write([]byte{0x00, 0x00, amfObjectEnd})
	return err
}
