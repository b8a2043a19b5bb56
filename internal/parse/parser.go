// Package parse implements the streaming trace-file parser and the
// visitor contract its consumers implement.
//
// One Parser instance replays one file at a time: it validates the header,
// walks the block-aligned segments, decodes each record, and drives an
// EventHandler in file order. The hot path reuses one scratch buffer per
// parser; a segment read grows it but never shrinks it.
package parse

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/tracegrind/tracegrind/internal/parse/addrspace"
	"github.com/tracegrind/tracegrind/internal/trace/binbuf"
	"github.com/tracegrind/tracegrind/internal/trace/format"
)

// Options configures a Parser.
type Options struct {
	// Strict fails on unknown record kinds and module conflicts instead
	// of logging and skipping.
	Strict bool
}

// Parser reads trace files and dispatches their events.
type Parser struct {
	opts    Options
	log     *zap.Logger
	modules *addrspace.Map
	scratch []byte
}

// New builds a parser. A nil logger is replaced by a nop.
func New(opts Options, log *zap.Logger) *Parser {
	if log == nil {
		log = zap.NewNop()
	}
	return &Parser{
		opts:    opts,
		log:     log,
		modules: addrspace.NewMap(),
	}
}

// Modules exposes the per-process module address space built so far.
// Handlers may read it during callbacks; it is theirs to read only.
func (p *Parser) Modules() *addrspace.Map {
	return p.modules
}

// Parse opens and replays a trace file into h.
func (p *Parser) Parse(path string, h EventHandler) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "opening trace file")
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.Wrap(err, "sizing trace file")
	}
	return p.parseStream(f, info.Size(), h)
}

// ParseBytes replays an in-memory trace image into h.
func (p *Parser) ParseBytes(image []byte, h EventHandler) error {
	return p.parseStream(bytes.NewReader(image), int64(len(image)), h)
}

func (p *Parser) parseStream(r io.ReadSeeker, size int64, h EventHandler) error {
	header, headerSize, err := p.readHeader(r)
	if err != nil {
		return err
	}
	pid := header.ProcessID

	h.OnProcessStarted(header.Timestamp, pid)

	// The header names the process's main module; seed the address space
	// with it so early events attribute.
	if err := p.insertModule(pid, moduleFromHeader(header)); err != nil {
		return err
	}

	blockSize := int64(header.BlockSize)
	offset := (int64(headerSize) + blockSize - 1) / blockSize * blockSize
	lastTime := header.Timestamp

	for offset < size {
		if _, err := r.Seek(offset, io.SeekStart); err != nil {
			return errors.Wrap(err, "seeking to segment")
		}
		framing := make([]byte, format.PrefixSize+format.SegmentHeaderSize)
		if _, err := io.ReadFull(r, framing); err != nil {
			if err == io.EOF {
				break // clean stop at a block boundary
			}
			return errors.Wrap(format.ErrTruncated, "segment framing")
		}

		fr := binbuf.NewReader(framing)
		prefix, err := format.DecodePrefix(fr)
		if err != nil {
			return err
		}
		segHeader, err := format.DecodeSegmentHeader(fr)
		if err != nil {
			return err
		}
		if err := format.ValidateSegmentStart(prefix, segHeader, size-offset); err != nil {
			return errors.Wrapf(err, "segment at offset %#x", offset)
		}
		lastTime = prefix.Timestamp

		body := p.scratchFor(int(segHeader.SegmentLength))
		if _, err := io.ReadFull(r, body); err != nil {
			return errors.Wrap(format.ErrTruncated, "segment body")
		}
		if err := p.consumeSegmentEvents(prefix.Timestamp, pid, segHeader.ThreadID, body, h); err != nil {
			return err
		}

		offset += format.SegmentAllotment(segHeader.SegmentLength, header.BlockSize)
	}

	h.OnProcessEnded(lastTime, pid)
	p.modules.DropProcess(pid)
	return h.Err()
}

// readHeader reads the fixed header chunk, then grows to take in the
// variable-length command-line tail before decoding.
func (p *Parser) readHeader(r io.Reader) (format.FileHeader, uint32, error) {
	fixed := make([]byte, format.FileHeaderFixedSize)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return format.FileHeader{}, 0, errors.Wrap(format.ErrTruncated, "file header")
	}
	declared, err := binbuf.NewParser(fixed).GetUint32At(4)
	if err != nil || declared < format.FileHeaderFixedSize {
		return format.FileHeader{}, 0, format.ErrBadHeaderSize
	}
	full := make([]byte, declared)
	copy(full, fixed)
	if _, err := io.ReadFull(r, full[len(fixed):]); err != nil {
		return format.FileHeader{}, 0, errors.Wrap(format.ErrTruncated, "command line tail")
	}
	return format.DecodeFileHeader(full)
}

func (p *Parser) scratchFor(n int) []byte {
	if cap(p.scratch) < n {
		p.scratch = make([]byte, n)
	}
	return p.scratch[:n]
}

// consumeSegmentEvents walks one segment body record by record. A record
// overrunning the body marks the whole file as errored.
func (p *Parser) consumeSegmentEvents(segTime uint64, pid, tid uint32, body []byte, h EventHandler) error {
	r := binbuf.NewReader(body)
	for !r.Empty() {
		prefix, err := format.DecodePrefix(r)
		if err != nil {
			return errors.Wrap(format.ErrTruncated, "record prefix overruns segment")
		}
		payload, err := r.ReadBytes(int(prefix.Size))
		if err != nil {
			return errors.Wrapf(format.ErrTruncated, "record %s overruns segment", prefix.Kind)
		}
		if err := p.dispatch(prefix, pid, tid, payload, h); err != nil {
			return err
		}
		if err := h.Err(); err != nil {
			return errors.Wrap(err, "handler failed")
		}
	}
	return nil
}

func (p *Parser) dispatch(prefix format.RecordPrefix, pid, tid uint32, payload []byte, h EventHandler) error {
	r := binbuf.NewReader(payload)
	t := prefix.Timestamp

	switch prefix.Kind {
	case format.KindFunctionEntry:
		ev, err := format.DecodeFunctionEvent(r)
		if err != nil {
			return err
		}
		h.OnFunctionEntry(t, pid, tid, ev)

	case format.KindFunctionExit:
		ev, err := format.DecodeFunctionEvent(r)
		if err != nil {
			return err
		}
		h.OnFunctionExit(t, pid, tid, ev)

	case format.KindBatchEntry:
		batch, err := format.DecodeBatchEntry(r)
		if err != nil {
			return err
		}
		h.OnBatchFunctionEntry(t, pid, tid, batch)

	case format.KindModuleAttach:
		m, err := format.DecodeModuleInfo(r)
		if err != nil {
			return err
		}
		if err := p.insertModule(pid, m); err != nil {
			return err
		}
		h.OnProcessAttach(t, pid, tid, m)

	case format.KindModuleDetach:
		m, err := format.DecodeModuleInfo(r)
		if err != nil {
			return err
		}
		p.modules.Remove(pid, moduleFromInfo(m))
		h.OnProcessDetach(t, pid, tid, m)

	case format.KindThreadAttach:
		m, err := format.DecodeModuleInfo(r)
		if err != nil {
			return err
		}
		h.OnThreadAttach(t, pid, tid, m)

	case format.KindThreadDetach:
		m, err := format.DecodeModuleInfo(r)
		if err != nil {
			return err
		}
		h.OnThreadDetach(t, pid, tid, m)

	case format.KindFunctionNameTable:
		entry, err := format.DecodeFunctionNameEntry(r)
		if err != nil {
			if err == format.ErrEmptyFuncName && !p.opts.Strict {
				p.log.Warn("rejecting function-name entry with empty name",
					zap.Uint32("process_id", pid))
				return nil
			}
			return err
		}
		h.OnFunctionNameTableEntry(t, pid, entry)

	case format.KindSegmentHeader:
		return errors.Wrap(format.ErrNotSegment, "segment header inside a segment body")

	default:
		if p.opts.Strict {
			return errors.Wrapf(format.ErrUnknownKind, "kind %d", uint16(prefix.Kind))
		}
		p.log.Warn("skipping unknown record kind",
			zap.Uint16("kind", uint16(prefix.Kind)),
			zap.Uint16("size", prefix.Size))
	}
	return nil
}

// insertModule registers a module event's interval. Some records arrive
// with an empty path from partially-initialized loader entries; the
// address space skips those silently. Conflicts are fatal only in strict
// mode.
func (p *Parser) insertModule(pid uint32, m format.ModuleInfo) error {
	err := p.modules.Insert(pid, moduleFromInfo(m))
	if err == nil {
		return nil
	}
	if p.opts.Strict {
		return err
	}
	p.log.Warn("ignoring conflicting module registration",
		zap.Uint32("process_id", pid),
		zap.String("module", m.ModuleName),
		zap.Error(err))
	return nil
}

func moduleFromInfo(m format.ModuleInfo) addrspace.Module {
	return addrspace.Module{
		BaseAddress:   m.BaseAddress,
		Size:          m.ModuleSize,
		Checksum:      m.Checksum,
		TimeDateStamp: m.TimeDateStamp,
		FileName:      m.ModuleName,
	}
}

func moduleFromHeader(h format.FileHeader) format.ModuleInfo {
	return format.ModuleInfo{
		BaseAddress:    h.ModuleBaseAddress,
		ModuleSize:     h.ModuleSize,
		Checksum:       h.ModuleChecksum,
		TimeDateStamp:  h.ModuleTimeDateStamp,
		ModuleName:     h.ModulePath,
		ExecutablePath: h.ModulePath,
	}
}
