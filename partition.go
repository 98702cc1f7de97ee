package flashops

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// PartitionTableOffset is where the table lives in flash.
	PartitionTableOffset = 0x8000
	// PartitionTableLength is how much of the table region is read back.
	PartitionTableLength = 0xC00

	PartitionMagic     = 0x50AA
	PartitionEntrySize = 32

	partitionLabelSize = 16
)

// PartitionType is the numeric class of a partition.
type PartitionType uint8

const (
	PartitionApp  PartitionType = 0x00
	PartitionData PartitionType = 0x01
)

func (t PartitionType) String() string {
	switch t {
	case PartitionApp:
		return "App"
	case PartitionData:
		return "Data"
	default:
		return "Custom"
	}
}

// Partition is one decoded partition table entry.
type Partition struct {
	Label   string
	Type    PartitionType
	Subtype uint8
	Offset  uint32
	Size    uint32
	Flags   uint32
}

// TypeLabel names the partition class.
func (p Partition) TypeLabel() string { return p.Type.String() }

// ReadableSize renders Size as "1.50MB" from 1 MiB upwards, else as whole
// kibibytes ("24KB").
func (p Partition) ReadableSize() string {
	const mib = 1 << 20
	if p.Size >= mib {
		return fmt.Sprintf("%.2fMB", float64(p.Size)/mib)
	}
	return fmt.Sprintf("%dKB", int64(math.Round(float64(p.Size)/1024)))
}

// ReadableOffset renders Offset as upper-case hex, e.g. "0x10000".
func (p Partition) ReadableOffset() string {
	return fmt.Sprintf("0x%X", p.Offset)
}

// DecodePartitions decodes consecutive 32-byte entries from the start of
// buf. Decoding stops at the first entry without the magic, which is how
// the table ends and how erased flash (0xFF or 0x00) reads. A trailing
// partial entry is ignored. It never fails.
func DecodePartitions(buf []byte) []Partition {
	var parts []Partition

	for off := 0; off+PartitionEntrySize <= len(buf); off += PartitionEntrySize {
		e := buf[off : off+PartitionEntrySize]
		if binary.LittleEndian.Uint16(e[0:2]) != PartitionMagic {
			break
		}

		label := e[12 : 12+partitionLabelSize]
		if i := bytes.IndexByte(label, 0); i >= 0 {
			label = label[:i]
		}

		parts = append(parts, Partition{
			Type:    PartitionType(e[2]),
			Subtype: e[3],
			Offset:  binary.LittleEndian.Uint32(e[4:8]),
			Size:    binary.LittleEndian.Uint32(e[8:12]),
			Label:   string(label),
			Flags:   binary.LittleEndian.Uint32(e[28:32]),
		})
	}

	return parts
}

// EncodePartition is the inverse of DecodePartitions for a single entry.
// Labels longer than 16 bytes are truncated.
func EncodePartition(p Partition) []byte {
	e := make([]byte, PartitionEntrySize)
	binary.LittleEndian.PutUint16(e[0:2], PartitionMagic)
	e[2] = byte(p.Type)
	e[3] = p.Subtype
	binary.LittleEndian.PutUint32(e[4:8], p.Offset)
	binary.LittleEndian.PutUint32(e[8:12], p.Size)
	copy(e[12:12+partitionLabelSize], p.Label)
	binary.LittleEndian.PutUint32(e[28:32], p.Flags)
	return e
}
