package parse

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracegrind/tracegrind/internal/parse/addrspace"
	"github.com/tracegrind/tracegrind/internal/trace/binbuf"
	"github.com/tracegrind/tracegrind/internal/trace/format"
)

// imageBuilder assembles trace images record by record, including broken
// ones the agent would never produce.
type imageBuilder struct {
	t      *testing.T
	header format.FileHeader
	image  []byte
}

func newImage(t *testing.T, pid uint32) *imageBuilder {
	t.Helper()
	header := format.FileHeader{
		BlockSize:         format.MinBlockSize,
		ProcessID:         pid,
		Timestamp:         1000,
		ModuleBaseAddress: 0x400000,
		ModuleSize:        0x10000,
		ModulePath:        `C:\traced\app.exe`,
		CommandLine:       "app.exe",
	}
	encoded, err := format.EncodeFileHeader(header)
	require.NoError(t, err)
	bs := int(header.BlockSize)
	padded := make([]byte, (len(encoded)+bs-1)/bs*bs)
	copy(padded, encoded)
	return &imageBuilder{t: t, header: header, image: padded}
}

type testRecord struct {
	kind    format.RecordKind
	time    uint64
	payload []byte
}

// segment appends one framed, block-padded segment holding the records.
func (b *imageBuilder) segment(tid uint32, records ...testRecord) *imageBuilder {
	b.t.Helper()
	body := 0
	for _, r := range records {
		body += format.PrefixSize + len(r.payload)
	}
	total := format.SegmentAllotment(uint32(body), b.header.BlockSize)
	buf := make([]byte, total)
	w := binbuf.NewWriter(buf)

	require.NoError(b.t, format.EncodePrefix(w, format.RecordPrefix{
		Kind:      format.KindSegmentHeader,
		Size:      format.SegmentHeaderSize,
		VersionHi: format.VersionHi,
		VersionLo: format.VersionLo,
		Timestamp: 2000,
	}))
	require.NoError(b.t, format.EncodeSegmentHeader(w, format.SegmentHeader{
		ThreadID:      tid,
		SegmentLength: uint32(body),
	}))
	for _, r := range records {
		require.NoError(b.t, format.EncodePrefix(w, format.RecordPrefix{
			Kind:      r.kind,
			Size:      uint16(len(r.payload)),
			VersionHi: format.VersionHi,
			VersionLo: format.VersionLo,
			Timestamp: r.time,
		}))
		require.NoError(b.t, w.PutBytes(r.payload))
	}
	b.image = append(b.image, buf...)
	return b
}

func functionEventPayload(t *testing.T, ev format.FunctionEvent) []byte {
	t.Helper()
	buf := make([]byte, ev.EncodedSize())
	require.NoError(t, format.EncodeFunctionEvent(binbuf.NewWriter(buf), ev))
	return buf
}

func batchPayload(t *testing.T, b format.BatchEntry) []byte {
	t.Helper()
	buf := make([]byte, b.EncodedSize())
	require.NoError(t, format.EncodeBatchEntry(binbuf.NewWriter(buf), b))
	return buf
}

func modulePayload(t *testing.T, m format.ModuleInfo) []byte {
	t.Helper()
	buf := make([]byte, format.ModuleInfoSize)
	require.NoError(t, format.EncodeModuleInfo(binbuf.NewWriter(buf), m))
	return buf
}

func namePayload(t *testing.T, e format.FunctionNameEntry) []byte {
	t.Helper()
	buf := make([]byte, e.EncodedSize())
	require.NoError(t, format.EncodeFunctionNameEntry(binbuf.NewWriter(buf), e))
	return buf
}

// recordingHandler captures every callback as a line of text.
type recordingHandler struct {
	NopHandler
	events []string
	err    error
}

func (h *recordingHandler) OnProcessStarted(time uint64, pid uint32) {
	h.events = append(h.events, fmt.Sprintf("started pid=%d t=%d", pid, time))
}

func (h *recordingHandler) OnProcessEnded(time uint64, pid uint32) {
	h.events = append(h.events, fmt.Sprintf("ended pid=%d", pid))
}

func (h *recordingHandler) OnFunctionEntry(time uint64, pid, tid uint32, ev format.FunctionEvent) {
	h.events = append(h.events, fmt.Sprintf("entry tid=%d fn=%#x depth=%d", tid, ev.Function, ev.Depth))
}

func (h *recordingHandler) OnFunctionExit(time uint64, pid, tid uint32, ev format.FunctionEvent) {
	h.events = append(h.events, fmt.Sprintf("exit tid=%d fn=%#x ret=%d", tid, ev.Function, ev.Args[0]))
}

func (h *recordingHandler) OnBatchFunctionEntry(time uint64, pid, tid uint32, b format.BatchEntry) {
	h.events = append(h.events, fmt.Sprintf("batch tid=%d calls=%d", tid, len(b.Calls)))
}

func (h *recordingHandler) OnProcessAttach(time uint64, pid, tid uint32, m format.ModuleInfo) {
	h.events = append(h.events, fmt.Sprintf("module-attach %s", m.ModuleName))
}

func (h *recordingHandler) OnThreadDetach(time uint64, pid, tid uint32, m format.ModuleInfo) {
	h.events = append(h.events, fmt.Sprintf("thread-detach tid=%d", tid))
}

func (h *recordingHandler) OnFunctionNameTableEntry(time uint64, pid uint32, e format.FunctionNameEntry) {
	h.events = append(h.events, fmt.Sprintf("name %d=%s", e.FunctionID, e.Name))
}

func (h *recordingHandler) Err() error { return h.err }

func TestParseHappyPath(t *testing.T) {
	img := newImage(t, 42).
		segment(7,
			testRecord{kind: format.KindModuleAttach, time: 2001,
				payload: modulePayload(t, format.ModuleInfo{BaseAddress: 0x500000, ModuleSize: 0x1000, ModuleName: "payload.dll"})},
			testRecord{kind: format.KindFunctionEntry, time: 2002,
				payload: functionEventPayload(t, format.FunctionEvent{Function: 0x401000, Depth: 0})},
			testRecord{kind: format.KindFunctionExit, time: 2003,
				payload: functionEventPayload(t, format.FunctionEvent{Function: 0x401000, Args: [format.NumArgWords]uint64{99}})},
			testRecord{kind: format.KindBatchEntry, time: 2004,
				payload: batchPayload(t, format.BatchEntry{ThreadID: 7, Calls: []format.FuncCall{{Function: 0x401000, TicksAgo: 5}}})},
			testRecord{kind: format.KindFunctionNameTable, time: 2005,
				payload: namePayload(t, format.FunctionNameEntry{FunctionID: 37, Name: "asan_HeapAlloc"})},
		)

	h := &recordingHandler{}
	p := New(Options{}, nil)
	require.NoError(t, p.ParseBytes(img.image, h))

	assert.Equal(t, []string{
		"started pid=42 t=1000",
		"module-attach payload.dll",
		"entry tid=7 fn=0x401000 depth=0",
		"exit tid=7 fn=0x401000 ret=99",
		"batch tid=7 calls=1",
		"name 37=asan_HeapAlloc",
		"ended pid=42",
	}, h.events)
}

// TestParseModuleAttribution checks the address space is usable while
// parsing: the handler resolves a return address to its module.
func TestParseModuleAttribution(t *testing.T) {
	img := newImage(t, 42).
		segment(1,
			testRecord{kind: format.KindModuleAttach,
				payload: modulePayload(t, format.ModuleInfo{BaseAddress: 0x500000, ModuleSize: 0x1000, ModuleName: "payload.dll"})},
			testRecord{kind: format.KindFunctionEntry,
				payload: functionEventPayload(t, format.FunctionEvent{Function: 0x500420})},
		)

	p := New(Options{}, nil)
	var resolved string
	h := &hookHandler{onEntry: func(pid uint32, ev format.FunctionEvent) {
		if m, ok := p.Modules().Find(pid, addrspace.ModuleVA(ev.Function)); ok {
			resolved = m.FileName
		}
	}}
	require.NoError(t, p.ParseBytes(img.image, h))
	assert.Equal(t, "payload.dll", resolved)
}

// hookHandler runs a closure on function entries.
type hookHandler struct {
	NopHandler
	onEntry func(pid uint32, ev format.FunctionEvent)
}

func (h *hookHandler) OnFunctionEntry(time uint64, pid, tid uint32, ev format.FunctionEvent) {
	h.onEntry(pid, ev)
}

func TestParseEmptyTrace(t *testing.T) {
	img := newImage(t, 5)
	h := &recordingHandler{}
	require.NoError(t, New(Options{}, nil).ParseBytes(img.image, h))
	assert.Equal(t, []string{"started pid=5 t=1000", "ended pid=5"}, h.events)
}

func TestParseZeroLengthSegment(t *testing.T) {
	img := newImage(t, 5).segment(3)
	h := &recordingHandler{}
	require.NoError(t, New(Options{}, nil).ParseBytes(img.image, h))
	assert.Equal(t, []string{"started pid=5 t=1000", "ended pid=5"}, h.events)
}

func TestParseBadSignature(t *testing.T) {
	img := newImage(t, 5)
	img.image[0] = 'X'
	err := New(Options{}, nil).ParseBytes(img.image, &recordingHandler{})
	assert.ErrorIs(t, err, format.ErrBadSignature)
}

func TestParseTruncatedSegmentBody(t *testing.T) {
	img := newImage(t, 5).segment(1,
		testRecord{kind: format.KindFunctionEntry,
			payload: functionEventPayload(t, format.FunctionEvent{Function: 1})})
	// Lie about the segment length so it runs past end of file.
	lenOff := len(img.image) - format.MinBlockSize + format.PrefixSize + 4
	img.image[lenOff] = 0xFF
	img.image[lenOff+1] = 0xFF

	err := New(Options{}, nil).ParseBytes(img.image, &recordingHandler{})
	assert.ErrorIs(t, err, format.ErrSegmentBounds)
}

func TestParseRecordOverrunsSegment(t *testing.T) {
	img := newImage(t, 5).segment(1, testRecord{
		kind: format.KindFunctionEntry,
		// Declared record size exceeds what the segment holds: the
		// builder sizes the segment to the payload, so shrink it at
		// the record prefix instead.
		payload: functionEventPayload(t, format.FunctionEvent{Function: 1}),
	})
	// Bump the record's declared size beyond the body.
	recOff := len(img.image) - format.MinBlockSize + format.PrefixSize + format.SegmentHeaderSize
	img.image[recOff+2] = 0xFF

	err := New(Options{}, nil).ParseBytes(img.image, &recordingHandler{})
	assert.ErrorIs(t, err, format.ErrTruncated)
}

func TestParseUnknownKind(t *testing.T) {
	build := func() []byte {
		img := newImage(t, 5).segment(1,
			testRecord{kind: format.RecordKind(900), payload: []byte{1, 2, 3, 4}},
			testRecord{kind: format.KindFunctionNameTable,
				payload: namePayload(t, format.FunctionNameEntry{FunctionID: 1, Name: "f"})})
		return img.image
	}

	t.Run("lenient skips", func(t *testing.T) {
		h := &recordingHandler{}
		require.NoError(t, New(Options{}, nil).ParseBytes(build(), h))
		assert.Contains(t, h.events, "name 1=f")
	})

	t.Run("strict fails", func(t *testing.T) {
		err := New(Options{Strict: true}, nil).ParseBytes(build(), &recordingHandler{})
		assert.ErrorIs(t, err, format.ErrUnknownKind)
	})
}

func TestParseEmptyFunctionName(t *testing.T) {
	build := func() []byte {
		// Hand-roll a name payload with only a terminator.
		payload := make([]byte, 9)
		payload[4] = 1
		img := newImage(t, 5).segment(1,
			testRecord{kind: format.KindFunctionNameTable, payload: payload})
		return img.image
	}

	t.Run("lenient rejects the record and continues", func(t *testing.T) {
		h := &recordingHandler{}
		require.NoError(t, New(Options{}, nil).ParseBytes(build(), h))
		assert.NotContains(t, h.events, "name 0=")
	})

	t.Run("strict fails", func(t *testing.T) {
		err := New(Options{Strict: true}, nil).ParseBytes(build(), &recordingHandler{})
		assert.ErrorIs(t, err, format.ErrEmptyFuncName)
	})
}

func TestParseStopsOnHandlerError(t *testing.T) {
	img := newImage(t, 5).segment(1,
		testRecord{kind: format.KindFunctionEntry,
			payload: functionEventPayload(t, format.FunctionEvent{Function: 1})},
		testRecord{kind: format.KindFunctionEntry,
			payload: functionEventPayload(t, format.FunctionEvent{Function: 2})})

	h := &failAfterFirst{}
	err := New(Options{}, nil).ParseBytes(img.image, h)
	require.Error(t, err)
	assert.Equal(t, 1, h.seen)
}

type failAfterFirst struct {
	NopHandler
	seen int
}

func (h *failAfterFirst) OnFunctionEntry(time uint64, pid, tid uint32, ev format.FunctionEvent) {
	h.seen++
}

func (h *failAfterFirst) Err() error {
	if h.seen > 0 {
		return fmt.Errorf("handler gave up")
	}
	return nil
}

func TestParseFromFile(t *testing.T) {
	img := newImage(t, 9).segment(2,
		testRecord{kind: format.KindBatchEntry,
			payload: batchPayload(t, format.BatchEntry{ThreadID: 2, Calls: []format.FuncCall{{Function: 0xA}}})})

	path := filepath.Join(t.TempDir(), "trace.bin")
	require.NoError(t, os.WriteFile(path, img.image, 0o644))

	h := &recordingHandler{}
	require.NoError(t, New(Options{}, nil).Parse(path, h))
	assert.Contains(t, h.events, "batch tid=2 calls=1")
}
