package channel

import (
	"strings"
	"sync/atomic"
)

type Flags uint32

const (
	IsIncoming Flags = 1 << iota
	IsOutgoing
	Connected
	ReallyConnected
	StreamActive
	ListenActive
	GenPBXRing  // driver plays ringback towards the PBX
	GenCORing   // board plays ringback towards the trunk
	GenBusy     // busy indication towards the PBX
	GenFastBusy // congestion indication towards the PBX
	HasCallFail
	CollectCall
	DropCollect
	Recording
)

var flagNames = []struct {
	f    Flags
	name string
}{
	{IsIncoming, "incoming"},
	{IsOutgoing, "outgoing"},
	{Connected, "connected"},
	{ReallyConnected, "really_connected"},
	{StreamActive, "stream"},
	{ListenActive, "listen"},
	{GenPBXRing, "gen_pbx_ring"},
	{GenCORing, "gen_co_ring"},
	{GenBusy, "gen_busy"},
	{GenFastBusy, "gen_fast_busy"},
	{HasCallFail, "call_fail"},
	{CollectCall, "collect"},
	{DropCollect, "drop_collect"},
	{Recording, "recording"},
}

const cadenceFlags = GenPBXRing | GenCORing | GenBusy | GenFastBusy

func (f Flags) Has(mask Flags) bool { return f&mask == mask }

func (f Flags) Any(mask Flags) bool { return f&mask != 0 }

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, n := range flagNames {
		if f&n.f != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// Names lists the set flags, for JSON snapshots.
func (f Flags) Names() []string {
	out := []string{}
	for _, n := range flagNames {
		if f&n.f != 0 {
			out = append(out, n.name)
		}
	}
	return out
}

// flagSet is written only under the channel lock; the audio path reads it without.
type flagSet struct {
	v atomic.Uint32
}

func (s *flagSet) load() Flags { return Flags(s.v.Load()) }

func (s *flagSet) has(mask Flags) bool { return s.load().Has(mask) }

func (s *flagSet) set(mask Flags) {
	for {
		old := s.v.Load()
		if s.v.CompareAndSwap(old, old|uint32(mask)) {
			return
		}
	}
}

func (s *flagSet) clear(mask Flags) {
	for {
		old := s.v.Load()
		if s.v.CompareAndSwap(old, old&^uint32(mask)) {
			return
		}
	}
}

func (s *flagSet) reset() { s.v.Store(0) }
