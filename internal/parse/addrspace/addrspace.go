// Package addrspace maintains the per-process module address spaces used
// during parsing to attribute virtual addresses to modules.
//
// Three address kinds flow through the toolchain and are never mixed:
// ModuleVA (absolute, as seen by the running process), RelativeVA (offset
// from a module base), and FileOffset (offset in the on-disk image).
// Conversions between them go through a module lookup here.
//
// Modules are retained after detach on purpose: trailing events for a
// detached module can still arrive in later buffers, and attributing them
// beats reclaiming a map bounded by the distinct modules a process ever
// loaded.
package addrspace

import (
	"sort"

	"github.com/pkg/errors"
)

// ModuleVA is an absolute virtual address in the traced process.
type ModuleVA uint64

// RelativeVA is an offset from a module's base address.
type RelativeVA uint64

// FileOffset is an offset into a module's on-disk image.
type FileOffset uint64

// ErrModuleConflict means an insertion overlapped an existing, non-equal
// module in the same process.
var ErrModuleConflict = errors.New("addrspace: conflicting module ranges")

// Module is the metadata attached to one loaded-module interval.
// Identity is the (BaseAddress, Size, FileName) triple.
type Module struct {
	BaseAddress   uint64
	Size          uint32
	Checksum      uint32
	TimeDateStamp uint32
	FileName      string
}

// sameIdentity reports the identity-triple equality used for re-insert
// detection.
func (m Module) sameIdentity(o Module) bool {
	return m.BaseAddress == o.BaseAddress && m.Size == o.Size && m.FileName == o.FileName
}

// Contains reports whether va falls inside the module's interval.
func (m Module) Contains(va ModuleVA) bool {
	return uint64(va) >= m.BaseAddress && uint64(va) < m.BaseAddress+uint64(m.Size)
}

// ToRelative converts an absolute address inside the module to its offset.
func (m Module) ToRelative(va ModuleVA) RelativeVA {
	return RelativeVA(uint64(va) - m.BaseAddress)
}

// FromRelative converts a module offset back to an absolute address.
func (m Module) FromRelative(rva RelativeVA) ModuleVA {
	return ModuleVA(m.BaseAddress + uint64(rva))
}

// Map is the per-process collection of module address spaces.
type Map struct {
	processes map[uint32]*space
}

// space is one process's ordered interval set, sorted by base address.
// Intervals never overlap.
type space struct {
	modules []Module
}

// NewMap returns an empty address-space map.
func NewMap() *Map {
	return &Map{processes: make(map[uint32]*space)}
}

// Insert registers a module interval for a process.
//
// Zero-size modules and modules with empty filenames are silently ignored;
// the data source produces them for partially-initialized loader entries
// and they are not errors. Re-inserting an identical module is a no-op; an
// overlap with a different module fails with ErrModuleConflict.
func (m *Map) Insert(processID uint32, mod Module) error {
	if mod.Size == 0 || mod.FileName == "" {
		return nil
	}
	sp := m.processes[processID]
	if sp == nil {
		sp = &space{}
		m.processes[processID] = sp
	}

	i := sort.Search(len(sp.modules), func(i int) bool {
		return sp.modules[i].BaseAddress+uint64(sp.modules[i].Size) > mod.BaseAddress
	})
	if i < len(sp.modules) && sp.modules[i].BaseAddress < mod.BaseAddress+uint64(mod.Size) {
		if sp.modules[i].sameIdentity(mod) {
			return nil
		}
		return errors.Wrapf(ErrModuleConflict,
			"process %d: %q at %#x overlaps %q at %#x",
			processID, mod.FileName, mod.BaseAddress,
			sp.modules[i].FileName, sp.modules[i].BaseAddress)
	}

	sp.modules = append(sp.modules, Module{})
	copy(sp.modules[i+1:], sp.modules[i:])
	sp.modules[i] = mod
	return nil
}

// Remove is a logical no-op: detached modules stay resident so trailing
// events can still be attributed. It exists to mark the detach point in
// callers.
func (m *Map) Remove(processID uint32, mod Module) {
}

// Find returns the module containing va in the given process.
func (m *Map) Find(processID uint32, va ModuleVA) (Module, bool) {
	sp := m.processes[processID]
	if sp == nil {
		return Module{}, false
	}
	i := sort.Search(len(sp.modules), func(i int) bool {
		return sp.modules[i].BaseAddress+uint64(sp.modules[i].Size) > uint64(va)
	})
	if i < len(sp.modules) && sp.modules[i].Contains(va) {
		return sp.modules[i], true
	}
	return Module{}, false
}

// Modules returns the modules a process ever loaded, in base order.
func (m *Map) Modules(processID uint32) []Module {
	sp := m.processes[processID]
	if sp == nil {
		return nil
	}
	out := make([]Module, len(sp.modules))
	copy(out, sp.modules)
	return out
}

// DropProcess forgets a process's whole address space, once its trace has
// been fully consumed.
func (m *Map) DropProcess(processID uint32) {
	delete(m.processes, processID)
}
