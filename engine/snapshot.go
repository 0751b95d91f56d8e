package engine

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/vecvault/blobstore"
	"github.com/hupe1980/vecvault/codec"
	"github.com/hupe1980/vecvault/hnsw"
	"github.com/hupe1980/vecvault/ledger"
)

const (
	snapshotMagic   uint32 = 0x4e535656 // "VVSN" little-endian
	snapshotVersion uint16 = 1
)

// snapshotMeta is the record table persisted alongside the index bytes.
type snapshotMeta struct {
	NextLocalID uint64            `json:"next_local_id"`
	Records     map[uint64]Record `json:"records"`
}

// snapshotLocked serializes the owner state, uploads it and records the next
// version on the ledger. The in-memory version advances only after the ledger
// confirms; a failed attempt leaves at most an orphaned blob behind, which is
// unreferenced and harmless. Caller holds st.flushMu.
func (e *Engine) snapshotLocked(ctx context.Context, st *ownerState) error {
	start := time.Now()

	size, err := e.snapshot(ctx, st)

	e.metrics.RecordSnapshot(size, time.Since(start), err)

	return err
}

func (e *Engine) snapshot(ctx context.Context, st *ownerState) (int, error) {
	st.batchMu.Lock()
	nextLocalID := st.nextLocalID
	st.batchMu.Unlock()

	st.mu.RLock()

	if st.index.Len() == 0 && st.version == 0 {
		st.mu.RUnlock()
		return 0, nil
	}

	indexBytes, err := st.index.Marshal()
	if err != nil {
		st.mu.RUnlock()
		return 0, fmt.Errorf("serialize index: %w", err)
	}

	meta := snapshotMeta{
		NextLocalID: nextLocalID,
		Records:     make(map[uint64]Record, len(st.records)),
	}
	for id, rec := range st.records {
		meta.Records[id] = rec
	}

	lastVersion := st.version

	st.mu.RUnlock()

	envelope, err := e.encodeSnapshot(indexBytes, meta)
	if err != nil {
		return 0, fmt.Errorf("encode snapshot: %w", err)
	}

	if err := e.waitForRate(ctx, len(envelope)); err != nil {
		return 0, err
	}

	var ref blobstore.Ref

	err = e.withRetry(ctx, e.opts.BlobTimeout, func(callCtx context.Context) error {
		var putErr error
		ref, putErr = e.blobs.Put(callCtx, envelope)
		return putErr
	})
	if err != nil {
		e.logger.Error("snapshot upload failed",
			"owner", st.id,
			"size", len(envelope),
			"error", err,
		)

		return len(envelope), fmt.Errorf("upload snapshot: %w", err)
	}

	newVersion := lastVersion + 1

	err = e.withRetry(ctx, e.opts.LedgerTimeout, func(callCtx context.Context) error {
		return e.ledger.RecordSnapshot(callCtx, st.id, ledger.SnapshotRef{
			Version:   newVersion,
			BlobRef:   ref,
			CreatedAt: time.Now(),
		})
	})
	if err != nil {
		// The uploaded blob stays unreferenced. The version must not
		// advance past what the registry confirmed.
		e.logger.Error("snapshot version record failed",
			"owner", st.id,
			"version", newVersion,
			"blob_ref", ref,
			"error", err,
		)

		return len(envelope), fmt.Errorf("record snapshot version %d: %w", newVersion, err)
	}

	st.mu.Lock()
	st.version = newVersion
	st.unsnapshotted = 0
	st.mu.Unlock()

	e.logger.Info("snapshot persisted",
		"owner", st.id,
		"version", newVersion,
		"size", len(envelope),
		"blob_ref", ref,
	)

	return len(envelope), nil
}

// encodeSnapshot builds the self-describing snapshot envelope: magic, format
// version, codec and compression names, then the compressed payload of index
// bytes and record table.
func (e *Engine) encodeSnapshot(indexBytes []byte, meta snapshotMeta) ([]byte, error) {
	metaBytes, err := e.metaCodec.Marshal(meta)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, 0, 8+len(indexBytes)+len(metaBytes))
	payload = binary.LittleEndian.AppendUint64(payload, uint64(len(indexBytes)))
	payload = append(payload, indexBytes...)
	payload = append(payload, metaBytes...)

	compressed, err := e.comp.Compress(payload)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer

	_ = binary.Write(&buf, binary.LittleEndian, snapshotMagic)
	_ = binary.Write(&buf, binary.LittleEndian, snapshotVersion)

	if err := writeName(&buf, e.metaCodec.Name()); err != nil {
		return nil, err
	}

	if err := writeName(&buf, e.comp.Name()); err != nil {
		return nil, err
	}

	buf.Write(compressed)

	return buf.Bytes(), nil
}

// decodeSnapshot opens an envelope written by any compatible configuration;
// codec and compression are selected from the header, not the engine options.
func (e *Engine) decodeSnapshot(data []byte) (*hnsw.Index, snapshotMeta, error) {
	var meta snapshotMeta

	r := bytes.NewReader(data)

	var (
		magic   uint32
		version uint16
	)

	if err := binary.Read(r, binary.LittleEndian, &magic); err != nil {
		return nil, meta, fmt.Errorf("%w: truncated envelope", hnsw.ErrCorruptIndex)
	}

	if magic != snapshotMagic {
		return nil, meta, fmt.Errorf("%w: bad envelope magic 0x%08x", hnsw.ErrCorruptIndex, magic)
	}

	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, meta, fmt.Errorf("%w: truncated envelope", hnsw.ErrCorruptIndex)
	}

	if version != snapshotVersion {
		return nil, meta, fmt.Errorf("%w: unsupported envelope version %d", hnsw.ErrCorruptIndex, version)
	}

	codecName, err := readName(r)
	if err != nil {
		return nil, meta, fmt.Errorf("%w: truncated envelope", hnsw.ErrCorruptIndex)
	}

	compName, err := readName(r)
	if err != nil {
		return nil, meta, fmt.Errorf("%w: truncated envelope", hnsw.ErrCorruptIndex)
	}

	metaCodec := e.metaCodec
	if metaCodec.Name() != codecName {
		c, ok := codec.ByName(codecName)
		if !ok {
			return nil, meta, fmt.Errorf("%w: unknown codec %q", hnsw.ErrCorruptIndex, codecName)
		}

		metaCodec = c
	}

	comp, err := compressorByName(compName)
	if err != nil {
		return nil, meta, fmt.Errorf("%w: unknown compression %q", hnsw.ErrCorruptIndex, compName)
	}

	compressed := make([]byte, r.Len())
	if _, err := r.Read(compressed); err != nil && len(compressed) > 0 {
		return nil, meta, fmt.Errorf("%w: truncated envelope", hnsw.ErrCorruptIndex)
	}

	payload, err := comp.Decompress(compressed)
	if err != nil {
		return nil, meta, fmt.Errorf("%w: decompress: %v", hnsw.ErrCorruptIndex, err)
	}

	if len(payload) < 8 {
		return nil, meta, fmt.Errorf("%w: truncated payload", hnsw.ErrCorruptIndex)
	}

	indexLen := binary.LittleEndian.Uint64(payload[:8])
	if indexLen > uint64(len(payload)-8) {
		return nil, meta, fmt.Errorf("%w: invalid payload layout", hnsw.ErrCorruptIndex)
	}

	indexBytes := payload[8 : 8+indexLen]
	metaBytes := payload[8+indexLen:]

	idx, err := hnsw.Unmarshal(indexBytes)
	if err != nil {
		return nil, meta, err
	}

	if err := metaCodec.Unmarshal(metaBytes, &meta); err != nil {
		return nil, meta, fmt.Errorf("%w: record table: %v", hnsw.ErrCorruptIndex, err)
	}

	if meta.Records == nil {
		meta.Records = make(map[uint64]Record)
	}

	return idx, meta, nil
}

func writeName(buf *bytes.Buffer, name string) error {
	if len(name) > 255 {
		return fmt.Errorf("name %q too long", name)
	}

	buf.WriteByte(byte(len(name)))
	buf.WriteString(name)

	return nil
}

func readName(r *bytes.Reader) (string, error) {
	n, err := r.ReadByte()
	if err != nil {
		return "", err
	}

	name := make([]byte, n)
	if _, err := r.Read(name); err != nil && n > 0 {
		return "", err
	}

	return string(name), nil
}

// waitForRate admits the upload through the byte-rate limiter in burst-sized
// chunks.
func (e *Engine) waitForRate(ctx context.Context, size int) error {
	if e.limiter == nil {
		return nil
	}

	burst := e.limiter.Burst()

	for size > 0 {
		n := min(size, burst)

		if err := e.limiter.WaitN(ctx, n); err != nil {
			return fmt.Errorf("snapshot rate limit: %w", err)
		}

		size -= n
	}

	return nil
}

// withRetry runs fn up to SnapshotRetries times with exponential backoff.
// Version conflicts are permanent and are not retried.
func (e *Engine) withRetry(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	backoff := e.opts.SnapshotBackoff

	var err error

	for attempt := 1; attempt <= e.opts.SnapshotRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		err = fn(callCtx)
		cancel()

		if err == nil {
			return nil
		}

		if errors.Is(err, ledger.ErrVersionConflict) || ctx.Err() != nil {
			return err
		}

		if attempt < e.opts.SnapshotRetries {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return err
			}

			backoff *= 2
		}
	}

	return err
}
