package fdt

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/multikernel/kerf-sub000/lib/kerferrors"
)

// rawProp is a single property: a name and its raw byte value, order
// preserved so re-encoding a decoded tree is deterministic.
type rawProp struct {
	Name  string
	Value []byte
}

// rawNode is a generic FDT node: a name, an ordered list of properties,
// and an ordered list of children. The codec decodes a blob into this
// shape first, then interprets it per-dialect in decode.go.
type rawNode struct {
	Name     string
	Props    []rawProp
	Children []*rawNode
}

func (n *rawNode) prop(name string) ([]byte, bool) {
	for _, p := range n.Props {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

func (n *rawNode) child(name string) (*rawNode, bool) {
	for _, c := range n.Children {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

func (n *rawNode) addProp(name string, value []byte) {
	n.Props = append(n.Props, rawProp{Name: name, Value: value})
}

func (n *rawNode) addChild(c *rawNode) {
	n.Children = append(n.Children, c)
}

// header mirrors the 40-byte FDT header, field order as on the wire.
type header struct {
	Magic           uint32
	TotalSize       uint32
	OffDtStruct     uint32
	OffDtStrings    uint32
	OffMemRsvmap    uint32
	Version         uint32
	LastCompVersion uint32
	BootCpuidPhys   uint32
	SizeDtStrings   uint32
	SizeDtStruct    uint32
}

// decodeRaw parses a complete FDT blob into a header and a root rawNode.
func decodeRaw(data []byte) (*header, *rawNode, error) {
	if len(data) < HeaderSize {
		return nil, nil, kerferrors.New(kerferrors.KindParse, "FDT blob truncated: %d bytes, need at least %d for header", len(data), HeaderSize)
	}

	var h header
	r := bytes.NewReader(data[:HeaderSize])
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return nil, nil, kerferrors.Wrap(kerferrors.KindParse, err, "read FDT header")
	}

	if h.Magic != Magic {
		return nil, nil, kerferrors.New(kerferrors.KindParse, "bad FDT magic: got 0x%08x, want 0x%08x", h.Magic, Magic)
	}
	if int(h.TotalSize) > len(data) {
		return nil, nil, kerferrors.New(kerferrors.KindParse, "FDT blob truncated: header declares %d bytes, have %d", h.TotalSize, len(data))
	}
	if int(h.OffDtStruct)+int(h.SizeDtStruct) > len(data) {
		return nil, nil, kerferrors.New(kerferrors.KindParse, "FDT structure block out of bounds")
	}
	if int(h.OffDtStrings)+int(h.SizeDtStrings) > len(data) {
		return nil, nil, kerferrors.New(kerferrors.KindParse, "FDT string table out of bounds")
	}

	strBlock := data[h.OffDtStrings : h.OffDtStrings+h.SizeDtStrings]
	structBlock := data[h.OffDtStruct : h.OffDtStruct+h.SizeDtStruct]

	dec := &structDecoder{data: structBlock, strings: strBlock}
	root, err := dec.decodeTree()
	if err != nil {
		return nil, nil, err
	}
	return &h, root, nil
}

type structDecoder struct {
	data    []byte
	strings []byte
	pos     int
}

func (d *structDecoder) u32() (uint32, error) {
	if d.pos+4 > len(d.data) {
		return 0, kerferrors.New(kerferrors.KindParse, "FDT structure block truncated")
	}
	v := binary.BigEndian.Uint32(d.data[d.pos : d.pos+4])
	d.pos += 4
	return v, nil
}

// cstring reads a NUL-terminated, 4-byte-padded string starting at the
// current position and advances past the padding.
func (d *structDecoder) cstring() (string, error) {
	start := d.pos
	end := start
	for end < len(d.data) && d.data[end] != 0 {
		end++
	}
	if end >= len(d.data) {
		return "", kerferrors.New(kerferrors.KindParse, "FDT structure block: unterminated string")
	}
	s := string(d.data[start:end])
	total := align4(end - start + 1)
	d.pos = start + total
	return s, nil
}

func (d *structDecoder) stringAt(off uint32) (string, error) {
	if int(off) >= len(d.strings) {
		return "", kerferrors.New(kerferrors.KindParse, "FDT string table offset out of bounds: %d", off)
	}
	end := int(off)
	for end < len(d.strings) && d.strings[end] != 0 {
		end++
	}
	return string(d.strings[off:end]), nil
}

// decodeTree decodes the entire structure block starting from the root
// BEGIN_NODE token through the final END token.
func (d *structDecoder) decodeTree() (*rawNode, error) {
	tok, err := d.u32()
	if err != nil {
		return nil, err
	}
	if tok != TokenBeginNode {
		return nil, kerferrors.New(kerferrors.KindParse, "FDT structure block: expected BEGIN_NODE, got token %d", tok)
	}
	root, err := d.decodeNode()
	if err != nil {
		return nil, err
	}
	tok, err = d.u32()
	if err != nil {
		return nil, err
	}
	if tok != TokenEnd {
		return nil, kerferrors.New(kerferrors.KindParse, "FDT structure block: expected END, got token %d", tok)
	}
	return root, nil
}

// decodeNode decodes one node's name, properties, and children. The
// caller has already consumed this node's BEGIN_NODE token; decodeNode
// consumes everything up to and including the matching END_NODE.
func (d *structDecoder) decodeNode() (*rawNode, error) {
	name, err := d.cstring()
	if err != nil {
		return nil, fmt.Errorf("node name: %w", err)
	}
	n := &rawNode{Name: name}

	for {
		tok, err := d.u32()
		if err != nil {
			return nil, err
		}
		switch tok {
		case TokenNop:
			continue
		case TokenProp:
			length, err := d.u32()
			if err != nil {
				return nil, err
			}
			nameOff, err := d.u32()
			if err != nil {
				return nil, err
			}
			if d.pos+int(length) > len(d.data) {
				return nil, kerferrors.New(kerferrors.KindParse, "FDT property %q value truncated", name)
			}
			value := append([]byte(nil), d.data[d.pos:d.pos+int(length)]...)
			d.pos += align4(int(length))
			propName, err := d.stringAt(nameOff)
			if err != nil {
				return nil, err
			}
			n.addProp(propName, value)
		case TokenBeginNode:
			child, err := d.decodeNode()
			if err != nil {
				return nil, err
			}
			n.addChild(child)
		case TokenEndNode:
			return n, nil
		default:
			return nil, kerferrors.New(kerferrors.KindParse, "FDT structure block: unexpected token %d in node %q", tok, name)
		}
	}
}

// structEncoder builds the structure block and string table for a
// rawNode tree, deduplicating string-table entries by name.
type structEncoder struct {
	buf        bytes.Buffer
	strings    bytes.Buffer
	stringOffs map[string]uint32
}

func newStructEncoder() *structEncoder {
	return &structEncoder{stringOffs: make(map[string]uint32)}
}

func (e *structEncoder) putU32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	e.buf.Write(b[:])
}

func (e *structEncoder) putCString(s string) {
	e.buf.WriteString(s)
	e.buf.WriteByte(0)
	padded := align4(len(s) + 1)
	for i := len(s) + 1; i < padded; i++ {
		e.buf.WriteByte(0)
	}
}

func (e *structEncoder) stringOffset(name string) uint32 {
	if off, ok := e.stringOffs[name]; ok {
		return off
	}
	off := uint32(e.strings.Len())
	e.strings.WriteString(name)
	e.strings.WriteByte(0)
	e.stringOffs[name] = off
	return off
}

func (e *structEncoder) encodeTree(root *rawNode) {
	e.putU32(TokenBeginNode)
	e.encodeNode(root)
	e.putU32(TokenEnd)
}

func (e *structEncoder) encodeNode(n *rawNode) {
	e.putCString(n.Name)
	for _, p := range n.Props {
		e.putU32(TokenProp)
		e.putU32(uint32(len(p.Value)))
		e.putU32(e.stringOffset(p.Name))
		e.buf.Write(p.Value)
		padded := align4(len(p.Value))
		for i := len(p.Value); i < padded; i++ {
			e.buf.WriteByte(0)
		}
	}
	for _, c := range n.Children {
		e.putU32(TokenBeginNode)
		e.encodeNode(c)
		e.putU32(TokenEndNode)
	}
	e.putU32(TokenEndNode)
}

// assembleBlob lays out header, empty mem-reservation block, structure
// block, and string table into a complete FDT blob.
func assembleBlob(root *rawNode) []byte {
	enc := newStructEncoder()
	enc.encodeTree(root)

	structBytes := enc.buf.Bytes()
	stringBytes := enc.strings.Bytes()

	offMemRsvmap := uint32(HeaderSize)
	const memRsvmapSize = 16 // one zero (address, size) terminator pair
	offDtStruct := offMemRsvmap + memRsvmapSize
	offDtStrings := offDtStruct + uint32(len(structBytes))
	totalSize := offDtStrings + uint32(len(stringBytes))

	h := header{
		Magic:           Magic,
		TotalSize:       totalSize,
		OffDtStruct:     offDtStruct,
		OffDtStrings:    offDtStrings,
		OffMemRsvmap:    offMemRsvmap,
		Version:         Version,
		LastCompVersion: LastCompVersion,
		BootCpuidPhys:   0,
		SizeDtStrings:   uint32(len(stringBytes)),
		SizeDtStruct:    uint32(len(structBytes)),
	}

	var out bytes.Buffer
	binary.Write(&out, binary.BigEndian, &h)
	out.Write(make([]byte, memRsvmapSize))
	out.Write(structBytes)
	out.Write(stringBytes)
	return out.Bytes()
}
