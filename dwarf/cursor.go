package dwarf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	signExtensionMask = ^uint64(0)

	// Initial length values in [0xfffffff0, 0xffffffff) are reserved.  The
	// last value is the escape for the 64-bit dwarf format.
	initialLengthReserved = uint32(0xfffffff0)
	initialLength64Escape = uint32(0xffffffff)
)

var (
	ErrTruncatedRead  = errors.New("truncated read")
	ErrReservedLength = errors.New("reserved initial length value")
	ErrLEB128Overflow = errors.New("LEB128 value overflow")
)

// Cursor is a bounds checked reader over [Begin, End) of Content.  Position
// is always in [Begin, End], and is expressed in Content's coordinates, so
// that a sub-cursor reports the same offsets as its parent.
type Cursor struct {
	binary.ByteOrder

	Content  []byte
	Begin    int
	End      int
	Position int
}

func NewCursor(
	byteOrder binary.ByteOrder,
	content []byte,
) *Cursor {
	return &Cursor{
		ByteOrder: byteOrder,
		Content:   content,
		Begin:     0,
		End:       len(content),
		Position:  0,
	}
}

func (cursor *Cursor) Clone() *Cursor {
	cloned := *cursor
	return &cloned
}

// Sub returns a cursor restricted to [begin, end).  The bounds must lie
// within the current cursor's bounds.
func (cursor *Cursor) Sub(begin int, end int) (*Cursor, error) {
	if begin < cursor.Begin || end < begin || cursor.End < end {
		return nil, fmt.Errorf(
			"%w: sub-cursor [%#x, %#x) exceeds [%#x, %#x)",
			ErrTruncatedRead,
			begin,
			end,
			cursor.Begin,
			cursor.End)
	}

	return &Cursor{
		ByteOrder: cursor.ByteOrder,
		Content:   cursor.Content,
		Begin:     begin,
		End:       end,
		Position:  begin,
	}, nil
}

func (cursor *Cursor) remaining() []byte {
	return cursor.Content[cursor.Position:cursor.End]
}

func (cursor *Cursor) Remaining() int {
	return cursor.End - cursor.Position
}

func (cursor *Cursor) HasReachedEnd() bool {
	return cursor.Position >= cursor.End
}

// Offset returns the current position as a section offset.
func (cursor *Cursor) Offset() uint64 {
	return uint64(cursor.Position)
}

func (cursor *Cursor) truncated(size int, name string) error {
	return fmt.Errorf(
		"%w: cannot read %s (%d bytes) at %#x, %d bytes left",
		ErrTruncatedRead,
		name,
		size,
		cursor.Position,
		cursor.Remaining())
}

func (cursor *Cursor) Seek(offset int, whence int) (int, error) {
	pos := 0
	switch whence {
	case io.SeekStart:
		pos = cursor.Begin + offset
	case io.SeekCurrent:
		pos = cursor.Position + offset
	case io.SeekEnd:
		pos = cursor.End + offset
	}

	if pos < cursor.Begin || cursor.End < pos {
		return 0, fmt.Errorf("%w: out of bound seek (%#x)", ErrTruncatedRead, pos)
	}

	cursor.Position = pos
	return pos, nil
}

// SeekTo moves the cursor to the absolute position pos.
func (cursor *Cursor) SeekTo(pos int) error {
	if pos < cursor.Begin || cursor.End < pos {
		return fmt.Errorf("%w: out of bound seek (%#x)", ErrTruncatedRead, pos)
	}

	cursor.Position = pos
	return nil
}

func (cursor *Cursor) Skip(size int) error {
	if size < 0 || cursor.Remaining() < size {
		return cursor.truncated(size, "skipped bytes")
	}

	cursor.Position += size
	return nil
}

func (cursor *Cursor) Bytes(size int) ([]byte, error) {
	if size < 0 || cursor.Remaining() < size {
		return nil, cursor.truncated(size, "bytes")
	}

	content := cursor.remaining()[:size]
	cursor.Position += size
	return content, nil
}

func (cursor *Cursor) String() (string, error) {
	content := cursor.remaining()
	for idx, char := range content {
		if char == 0 {
			cursor.Position += idx + 1 // +1 for trailing \0

			// exclude trailing \0
			return string(content[:idx]), nil
		}
	}

	return "", fmt.Errorf(
		"%w: string at %#x not terminated",
		ErrTruncatedRead,
		cursor.Position)
}

// SkipZeroPadding advances over zero bytes up to end.  It returns true if
// every byte in [Position, end) is zero, in which case the cursor is left at
// end.  Otherwise the cursor is left at the first non-zero byte.
func (cursor *Cursor) SkipZeroPadding(end int) bool {
	if end > cursor.End {
		end = cursor.End
	}

	for cursor.Position < end {
		if cursor.Content[cursor.Position] != 0 {
			return false
		}
		cursor.Position++
	}

	return true
}

func (cursor *Cursor) decode(out interface{}, name string) error {
	size := binary.Size(out)
	if cursor.Remaining() < size {
		return cursor.truncated(size, name)
	}

	n, err := binary.Decode(cursor.remaining(), cursor.ByteOrder, out)
	if err != nil {
		return fmt.Errorf(
			"failed to decode %s (%#x): %w",
			name,
			cursor.Position,
			err)
	}

	cursor.Position += n
	return nil
}

func (cursor *Cursor) U8() (uint8, error) {
	var result uint8
	err := cursor.decode(&result, "U8")
	return result, err
}

func (cursor *Cursor) S8() (int8, error) {
	var result int8
	err := cursor.decode(&result, "S8")
	return result, err
}

func (cursor *Cursor) U16() (uint16, error) {
	var result uint16
	err := cursor.decode(&result, "U16")
	return result, err
}

func (cursor *Cursor) U32() (uint32, error) {
	var result uint32
	err := cursor.decode(&result, "U32")
	return result, err
}

func (cursor *Cursor) U64() (uint64, error) {
	var result uint64
	err := cursor.decode(&result, "U64")
	return result, err
}

// InitialLength reads a unit length.  The returned bool is true when the
// unit uses the 64-bit dwarf format (and thus 8-byte section offsets).
func (cursor *Cursor) InitialLength() (uint64, bool, error) {
	start := cursor.Position

	length32, err := cursor.U32()
	if err != nil {
		return 0, false, err
	}

	if length32 == initialLength64Escape {
		length64, err := cursor.U64()
		if err != nil {
			cursor.Position = start
			return 0, false, err
		}

		return length64, true, nil
	}

	if length32 >= initialLengthReserved {
		cursor.Position = start
		return 0, false, fmt.Errorf(
			"%w (%#x) at %#x",
			ErrReservedLength,
			length32,
			start)
	}

	return uint64(length32), false, nil
}

// SectionOffset reads a 4-byte or 8-byte section offset depending on the unit's
// dwarf format.
func (cursor *Cursor) SectionOffset(is64 bool) (uint64, error) {
	if is64 {
		return cursor.U64()
	}

	val, err := cursor.U32()
	return uint64(val), err
}

func (cursor *Cursor) Address(size int) (uint64, error) {
	switch size {
	case 1:
		val, err := cursor.U8()
		return uint64(val), err
	case 2:
		val, err := cursor.U16()
		return uint64(val), err
	case 4:
		val, err := cursor.U32()
		return uint64(val), err
	case 8:
		return cursor.U64()
	default:
		return 0, fmt.Errorf("unsupported address size (%d)", size)
	}
}

func (cursor *Cursor) uleb128(
	bitSize int,
) (
	uint64, // decoded uint
	int, // shift
	byte, // upper byte
	error,
) {
	content := cursor.remaining()

	result := uint64(0)
	shift := 0
	numBytes := 0
	current := byte(0)
	for len(content) > 0 {
		current = content[0]
		content = content[1:]

		if shift >= bitSize {
			if current&0x7f != 0 {
				return 0, 0, 0, fmt.Errorf(
					"%w: LEB128 at %#x exceeds %d bits",
					ErrLEB128Overflow,
					cursor.Position,
					bitSize)
			}
		} else {
			result |= uint64(current&0x7f) << shift
		}
		shift += 7
		numBytes += 1

		if (current & 0x80) == 0 {
			cursor.Position += numBytes
			return result, shift, current, nil
		}
	}

	return 0, 0, 0, fmt.Errorf(
		"%w: LEB128 at %#x not terminated",
		ErrTruncatedRead,
		cursor.Position)
}

func (cursor *Cursor) ULEB128(bitSize int) (uint64, error) {
	result, _, _, err := cursor.uleb128(bitSize)
	if err != nil {
		return 0, err
	}

	return result, err
}

func (cursor *Cursor) SLEB128(bitSize int) (int64, error) {
	result, shift, upper, err := cursor.uleb128(bitSize)
	if err != nil {
		return 0, err
	}

	if shift < 64 && (upper&0x40) != 0 {
		result |= signExtensionMask << shift
	}

	return int64(result), nil
}

// ULEB128Size returns the minimal number of bytes needed to encode value.
func ULEB128Size(value uint64) int {
	size := 1
	for value >= 0x80 {
		value >>= 7
		size++
	}
	return size
}

func AppendULEB128(buffer []byte, value uint64) []byte {
	for {
		b := byte(value & 0x7f)
		value >>= 7
		if value != 0 {
			b |= 0x80
		}
		buffer = append(buffer, b)
		if value == 0 {
			return buffer
		}
	}
}

func AppendSLEB128(buffer []byte, value int64) []byte {
	for {
		b := byte(value & 0x7f)
		value >>= 7
		done := (value == 0 && b&0x40 == 0) || (value == -1 && b&0x40 != 0)
		if !done {
			b |= 0x80
		}
		buffer = append(buffer, b)
		if done {
			return buffer
		}
	}
}
