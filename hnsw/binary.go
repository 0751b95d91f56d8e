package hnsw

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"math"
	"slices"
)

const (
	indexMagic   uint32 = 0x58495656 // "VVIX" little-endian
	indexVersion uint16 = 1

	// Guard rails for structurally corrupt streams. A valid graph never
	// exceeds these, so tripping one means the bytes are damaged.
	maxLevelBound     = 64
	maxConnCountBound = 1 << 16
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// WriteTo serializes the index in its binary form: a little-endian header
// (magic, version, options, entry point), the node records sorted by id, and
// a trailing CRC-32C over everything before it.
func (idx *Index) WriteTo(w io.Writer) (int64, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	cw := &crcWriter{w: w, crc: crc32.New(castagnoli)}
	bw := bufio.NewWriter(cw)

	hasEntry := uint8(0)
	if idx.hasEntry {
		hasEntry = 1
	}

	header := []any{
		indexMagic,
		indexVersion,
		uint32(idx.opts.Dimension),
		uint32(idx.opts.M),
		uint32(idx.opts.EFConstruction),
		uint32(idx.opts.EFSearch),
		uint64(len(idx.nodes)),
		hasEntry,
		idx.entryPoint,
		uint32(idx.maxLevel),
	}

	for _, v := range header {
		if err := binary.Write(bw, binary.LittleEndian, v); err != nil {
			return cw.n, fmt.Errorf("write header: %w", err)
		}
	}

	ids := make([]uint64, 0, len(idx.nodes))
	for id := range idx.nodes {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	for _, id := range ids {
		n := idx.nodes[id]

		if err := binary.Write(bw, binary.LittleEndian, n.id); err != nil {
			return cw.n, fmt.Errorf("write node %d: %w", n.id, err)
		}

		if err := binary.Write(bw, binary.LittleEndian, uint32(n.level)); err != nil {
			return cw.n, fmt.Errorf("write node %d: %w", n.id, err)
		}

		for _, f := range n.vector {
			if err := binary.Write(bw, binary.LittleEndian, math.Float32bits(f)); err != nil {
				return cw.n, fmt.Errorf("write node %d vector: %w", n.id, err)
			}
		}

		for l := 0; l <= n.level; l++ {
			if err := binary.Write(bw, binary.LittleEndian, uint32(len(n.conns[l]))); err != nil {
				return cw.n, fmt.Errorf("write node %d layer %d: %w", n.id, l, err)
			}

			for _, nb := range n.conns[l] {
				if err := binary.Write(bw, binary.LittleEndian, nb); err != nil {
					return cw.n, fmt.Errorf("write node %d layer %d: %w", n.id, l, err)
				}
			}
		}
	}

	if err := bw.Flush(); err != nil {
		return cw.n, err
	}

	// Footer: CRC over everything written so far, excluded from the CRC itself.
	sum := cw.crc.Sum32()
	if err := binary.Write(w, binary.LittleEndian, sum); err != nil {
		return cw.n, fmt.Errorf("write checksum: %w", err)
	}

	return cw.n + 4, nil
}

// Marshal serializes the index to a byte slice.
func (idx *Index) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := idx.WriteTo(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Load deserializes an index previously written with WriteTo. Structural
// damage or a checksum mismatch yields ErrCorruptIndex.
func Load(r io.Reader) (*Index, error) {
	cr := &crcReader{r: bufio.NewReader(r), crc: crc32.New(castagnoli)}

	var (
		magic    uint32
		version  uint16
		dim      uint32
		m        uint32
		efC      uint32
		efS      uint32
		count    uint64
		hasEntry uint8
		entry    uint64
		maxLevel uint32
	)

	for _, v := range []any{&magic, &version, &dim, &m, &efC, &efS, &count, &hasEntry, &entry, &maxLevel} {
		if err := binary.Read(cr, binary.LittleEndian, v); err != nil {
			return nil, fmt.Errorf("%w: truncated header", ErrCorruptIndex)
		}
	}

	if magic != indexMagic {
		return nil, fmt.Errorf("%w: bad magic 0x%08x", ErrCorruptIndex, magic)
	}

	if version != indexVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptIndex, version)
	}

	if dim == 0 || maxLevel > maxLevelBound || hasEntry > 1 {
		return nil, fmt.Errorf("%w: invalid header", ErrCorruptIndex)
	}

	idx, err := New(func(o *Options) {
		o.Dimension = int(dim)
		o.M = int(m)
		o.EFConstruction = int(efC)
		o.EFSearch = int(efS)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: invalid options", ErrCorruptIndex)
	}

	idx.hasEntry = hasEntry == 1
	idx.entryPoint = entry
	idx.maxLevel = int(maxLevel)

	for i := uint64(0); i < count; i++ {
		var (
			id    uint64
			level uint32
		)

		if err := binary.Read(cr, binary.LittleEndian, &id); err != nil {
			return nil, fmt.Errorf("%w: truncated node record", ErrCorruptIndex)
		}

		if err := binary.Read(cr, binary.LittleEndian, &level); err != nil {
			return nil, fmt.Errorf("%w: truncated node record", ErrCorruptIndex)
		}

		if level > maxLevelBound {
			return nil, fmt.Errorf("%w: node %d level %d out of range", ErrCorruptIndex, id, level)
		}

		vec := make([]float32, dim)
		for j := range vec {
			var bits uint32
			if err := binary.Read(cr, binary.LittleEndian, &bits); err != nil {
				return nil, fmt.Errorf("%w: truncated vector", ErrCorruptIndex)
			}

			vec[j] = math.Float32frombits(bits)
		}

		n := &node{
			id:     id,
			level:  int(level),
			vector: vec,
			conns:  make([][]uint64, level+1),
		}

		for l := uint32(0); l <= level; l++ {
			var connCount uint32
			if err := binary.Read(cr, binary.LittleEndian, &connCount); err != nil {
				return nil, fmt.Errorf("%w: truncated layer", ErrCorruptIndex)
			}

			if connCount > maxConnCountBound {
				return nil, fmt.Errorf("%w: node %d layer %d has %d connections", ErrCorruptIndex, id, l, connCount)
			}

			conns := make([]uint64, connCount)
			for c := range conns {
				if err := binary.Read(cr, binary.LittleEndian, &conns[c]); err != nil {
					return nil, fmt.Errorf("%w: truncated layer", ErrCorruptIndex)
				}
			}

			n.conns[l] = conns
		}

		if _, exists := idx.nodes[id]; exists {
			return nil, fmt.Errorf("%w: duplicate node %d", ErrCorruptIndex, id)
		}

		idx.nodes[id] = n
	}

	if idx.hasEntry {
		if _, ok := idx.nodes[idx.entryPoint]; !ok {
			return nil, fmt.Errorf("%w: entry point %d missing", ErrCorruptIndex, idx.entryPoint)
		}
	} else if count != 0 {
		return nil, fmt.Errorf("%w: %d nodes without entry point", ErrCorruptIndex, count)
	}

	computed := cr.crc.Sum32()

	var stored uint32
	if err := binary.Read(cr.r, binary.LittleEndian, &stored); err != nil {
		return nil, fmt.Errorf("%w: missing checksum", ErrCorruptIndex)
	}

	if stored != computed {
		return nil, fmt.Errorf("%w: checksum mismatch (stored 0x%08x, computed 0x%08x)", ErrCorruptIndex, stored, computed)
	}

	return idx, nil
}

// Unmarshal deserializes an index from a byte slice.
func Unmarshal(data []byte) (*Index, error) {
	return Load(bytes.NewReader(data))
}

type crcWriter struct {
	w   io.Writer
	crc hash.Hash32
	n   int64
}

func (cw *crcWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	cw.crc.Write(p[:n])

	return n, err
}

type crcReader struct {
	r   io.Reader
	crc hash.Hash32
}

func (cr *crcReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.crc.Write(p[:n])
	}

	return n, err
}
