// Package partattr implements the binary record format used to serialize a
// single file part's attributes, and the iterator form used to pack or
// unpack a whole sequence of parts into one blob.
package partattr

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sort"
	"time"
)

const (
	flagSize byte = 1 << iota
	flagDate
	flagFileCrc
	flagCrc
	flagVal
	flagSub
)

// structuredKeys are the attribute names carried by dedicated fields rather
// than the generic Attrs tail.
var structuredKeys = map[string]bool{
	"size": true, "modified": true, "crc": true, "fileCrc": true, "num": true,
}

// IsStructured reports whether name (without its leading '@') is one of the
// attribute keys this codec handles as a dedicated field.
func IsStructured(name string) bool { return structuredKeys[name] }

// Part is one file part's decoded attribute set.
type Part struct {
	Size     *uint64
	Modified *time.Time
	Crc      *int32
	FileCrc  *int32
	Value    *string
	Subtrees map[string]*Part
	Attrs    map[string]string
}

// ErrTruncated is returned when a buffer ends mid-record.
var ErrTruncated = errors.New("partattr: truncated record")

func writeCString(buf *bytes.Buffer, s string) {
	buf.WriteString(s)
	buf.WriteByte(0)
}

func readCString(b []byte) (string, []byte, error) {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return "", nil, ErrTruncated
	}
	return string(b[:i]), b[i+1:], nil
}

// Encode serializes p per the flags-byte record layout: size, modified,
// fileCrc-or-crc, value, subtree list, then generic attribute list —
// each optional section gated by its bit in the leading flags byte.
func Encode(p *Part) []byte {
	var buf bytes.Buffer
	var flags byte
	if p.Size != nil {
		flags |= flagSize
	}
	if p.Modified != nil {
		flags |= flagDate
	}
	if p.FileCrc != nil {
		flags |= flagFileCrc
	} else if p.Crc != nil {
		flags |= flagCrc
	}
	if p.Value != nil {
		flags |= flagVal
	}
	if len(p.Subtrees) > 0 {
		flags |= flagSub
	}
	buf.WriteByte(flags)

	if p.Size != nil {
		binary.Write(&buf, binary.BigEndian, *p.Size)
	}
	if p.Modified != nil {
		binary.Write(&buf, binary.BigEndian, p.Modified.UnixNano())
	}
	if p.FileCrc != nil {
		binary.Write(&buf, binary.BigEndian, *p.FileCrc)
	} else if p.Crc != nil {
		binary.Write(&buf, binary.BigEndian, *p.Crc)
	}
	if p.Value != nil {
		writeCString(&buf, *p.Value)
	}
	if flags&flagSub != 0 {
		names := make([]string, 0, len(p.Subtrees))
		for name := range p.Subtrees {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			writeCString(&buf, name)
			buf.Write(Encode(p.Subtrees[name]))
		}
		writeCString(&buf, "")
	}
	attrNames := make([]string, 0, len(p.Attrs))
	for k := range p.Attrs {
		attrNames = append(attrNames, k)
	}
	sort.Strings(attrNames)
	for _, k := range attrNames {
		writeCString(&buf, k)
		writeCString(&buf, p.Attrs[k])
	}
	writeCString(&buf, "")

	return buf.Bytes()
}

// Decode reads one Part record from the front of b, returning the decoded
// Part and the unconsumed remainder.
func Decode(b []byte) (*Part, []byte, error) {
	if len(b) < 1 {
		return nil, nil, ErrTruncated
	}
	flags := b[0]
	b = b[1:]
	p := &Part{}

	if flags&flagSize != 0 {
		if len(b) < 8 {
			return nil, nil, ErrTruncated
		}
		v := binary.BigEndian.Uint64(b)
		p.Size = &v
		b = b[8:]
	}
	if flags&flagDate != 0 {
		if len(b) < 8 {
			return nil, nil, ErrTruncated
		}
		ns := int64(binary.BigEndian.Uint64(b))
		t := time.Unix(0, ns).UTC()
		p.Modified = &t
		b = b[8:]
	}
	if flags&flagFileCrc != 0 {
		if len(b) < 4 {
			return nil, nil, ErrTruncated
		}
		v := int32(binary.BigEndian.Uint32(b))
		p.FileCrc = &v
		b = b[4:]
	} else if flags&flagCrc != 0 {
		if len(b) < 4 {
			return nil, nil, ErrTruncated
		}
		v := int32(binary.BigEndian.Uint32(b))
		p.Crc = &v
		b = b[4:]
	}
	if flags&flagVal != 0 {
		var s string
		var err error
		s, b, err = readCString(b)
		if err != nil {
			return nil, nil, err
		}
		p.Value = &s
	}
	if flags&flagSub != 0 {
		p.Subtrees = make(map[string]*Part)
		for {
			var name string
			var err error
			name, b, err = readCString(b)
			if err != nil {
				return nil, nil, err
			}
			if name == "" {
				break
			}
			var sub *Part
			sub, b, err = Decode(b)
			if err != nil {
				return nil, nil, err
			}
			p.Subtrees[name] = sub
		}
	}
	p.Attrs = make(map[string]string)
	for {
		var key string
		var err error
		key, b, err = readCString(b)
		if err != nil {
			return nil, nil, err
		}
		if key == "" {
			break
		}
		var val string
		val, b, err = readCString(b)
		if err != nil {
			return nil, nil, err
		}
		p.Attrs[key] = val
	}
	return p, b, nil
}

// EncodeSequence packs parts in order into one buffer (the layout used for
// the shrunken-file Parts blob).
func EncodeSequence(parts []*Part) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		buf.Write(Encode(p))
	}
	return buf.Bytes()
}

// DecodeSequence unpacks a Parts blob into its parts, assigning @num
// starting at 1 in encounter order as it goes, stopping when the buffer is
// exhausted.
func DecodeSequence(b []byte) ([]*Part, error) {
	var parts []*Part
	num := 1
	for len(b) > 0 {
		p, rest, err := Decode(b)
		if err != nil {
			return nil, err
		}
		if p.Attrs == nil {
			p.Attrs = make(map[string]string)
		}
		p.Attrs["num"] = itoa(num)
		num++
		parts = append(parts, p)
		b = rest
	}
	return parts, nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
