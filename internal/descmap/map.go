// File: internal/descmap/map.go
// Author: momentics <momentics@gmail.com>
//
// Map is the fd -> Descriptor table (C2). Keyed by fd+1, matching
// eventhandler_macos.cc's GetHashmapKeyFromFd, since a Go map already
// tolerates a zero key just fine but keeping the same encoding avoids a
// silent semantic drift from the source this dispatcher generalizes.
// Called only from the worker; no internal locking.

package descmap

type Map struct {
	byFD map[uintptr]Descriptor
}

// NewMap constructs an empty descriptor map.
func NewMap() *Map {
	return &Map{byFD: make(map[uintptr]Descriptor)}
}

func key(fd uintptr) uintptr { return fd + 1 }

// GetOrCreate returns the existing Descriptor for fd, or inserts and
// returns a new one of the kind implied by listening.
func (m *Map) GetOrCreate(fd uintptr, listening bool) Descriptor {
	k := key(fd)
	if d, ok := m.byFD[k]; ok {
		return d
	}
	var d Descriptor
	if listening {
		d = NewMultiple(fd)
	} else {
		d = NewSingle(fd)
	}
	m.byFD[k] = d
	return d
}

// Get returns the Descriptor for fd, if any.
func (m *Map) Get(fd uintptr) (Descriptor, bool) {
	d, ok := m.byFD[key(fd)]
	return d, ok
}

// Remove detaches the Descriptor from the map; the caller is responsible
// for destroying it (kernel unregistration, fd close).
func (m *Map) Remove(fd uintptr) {
	delete(m.byFD, key(fd))
}

// Len reports the number of tracked descriptors, for metrics/debug probes.
func (m *Map) Len() int {
	return len(m.byFD)
}

// All returns every descriptor currently in the map. The worker's shutdown
// path does not call it: descriptors left in the map at shutdown are not
// torn down.
func (m *Map) All() []Descriptor {
	out := make([]Descriptor, 0, len(m.byFD))
	for _, d := range m.byFD {
		out = append(out, d)
	}
	return out
}
