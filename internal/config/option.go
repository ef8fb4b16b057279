package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cast"
)

var (
	ErrUnknownOption = errors.New("unknown option")
	ErrOptionKind    = errors.New("option kind mismatch")
)

// Kind tags the payload held by an Option.
type Kind int

const (
	KindInt Kind = iota
	KindUint
	KindBool
	KindString
	KindFunc
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindUint:
		return "uint"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindFunc:
		return "func"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Option is one named driver setting. Only the field matching Kind is meaningful.
type Option struct {
	Name string
	Kind Kind

	i     int64
	u     uint64
	b     bool
	s     string
	apply func(raw string) error
}

func IntOption(name string, def int64) *Option   { return &Option{Name: name, Kind: KindInt, i: def} }
func UintOption(name string, def uint64) *Option { return &Option{Name: name, Kind: KindUint, u: def} }
func BoolOption(name string, def bool) *Option   { return &Option{Name: name, Kind: KindBool, b: def} }
func StringOption(name, def string) *Option      { return &Option{Name: name, Kind: KindString, s: def} }

// FuncOption delegates parsing to fn; the last accepted raw value is kept as its string form.
func FuncOption(name, def string, fn func(raw string) error) *Option {
	return &Option{Name: name, Kind: KindFunc, s: def, apply: fn}
}

// Set parses raw according to the option kind. On error the previous value is kept.
func (o *Option) Set(raw string) error {
	raw = strings.TrimSpace(raw)
	switch o.Kind {
	case KindInt:
		v, err := cast.ToInt64E(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", o.Name, err)
		}
		o.i = v
	case KindUint:
		v, err := cast.ToUint64E(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", o.Name, err)
		}
		o.u = v
	case KindBool:
		switch strings.ToLower(raw) {
		case "yes", "on":
			o.b = true
			return nil
		case "no", "off":
			o.b = false
			return nil
		}
		v, err := cast.ToBoolE(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", o.Name, err)
		}
		o.b = v
	case KindString:
		o.s = raw
	case KindFunc:
		if o.apply != nil {
			if err := o.apply(raw); err != nil {
				return fmt.Errorf("%s: %w", o.Name, err)
			}
		}
		o.s = raw
	}
	return nil
}

func (o *Option) Int() (int64, error) {
	if o.Kind != KindInt {
		return 0, fmt.Errorf("%s is %s: %w", o.Name, o.Kind, ErrOptionKind)
	}
	return o.i, nil
}

func (o *Option) Uint() (uint64, error) {
	if o.Kind != KindUint {
		return 0, fmt.Errorf("%s is %s: %w", o.Name, o.Kind, ErrOptionKind)
	}
	return o.u, nil
}

func (o *Option) Bool() (bool, error) {
	if o.Kind != KindBool {
		return false, fmt.Errorf("%s is %s: %w", o.Name, o.Kind, ErrOptionKind)
	}
	return o.b, nil
}

// String returns the textual form of any kind.
func (o *Option) String() string {
	switch o.Kind {
	case KindInt:
		return cast.ToString(o.i)
	case KindUint:
		return cast.ToString(o.u)
	case KindBool:
		if o.b {
			return "yes"
		}
		return "no"
	}
	return o.s
}

// OptionSet is a table of options addressed by name.
type OptionSet struct {
	opts map[string]*Option
}

func NewOptionSet(opts ...*Option) *OptionSet {
	s := &OptionSet{opts: make(map[string]*Option, len(opts))}
	for _, o := range opts {
		s.opts[o.Name] = o
	}
	return s
}

func (s *OptionSet) Get(name string) (*Option, bool) {
	o, ok := s.opts[name]
	return o, ok
}

func (s *OptionSet) Set(name, raw string) error {
	o, ok := s.opts[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrUnknownOption)
	}
	return o.Set(raw)
}

// Apply sets every entry of raw, in name order, stopping at the first error.
func (s *OptionSet) Apply(raw map[string]string) error {
	names := make([]string, 0, len(raw))
	for k := range raw {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if err := s.Set(k, raw[k]); err != nil {
			return err
		}
	}
	return nil
}

// Names lists the registered options, sorted.
func (s *OptionSet) Names() []string {
	names := make([]string, 0, len(s.opts))
	for k := range s.opts {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

var knownCountries = map[string]bool{"brazil": true, "argentina": true, "mexico": true, "default": true}

// Options builds the driver option table from the typed fields and applies the raw
// overrides on top. The typed fields are updated with the result.
func (c *Config) Options() (*OptionSet, error) {
	set := NewOptionSet(
		IntOption("event_fifo_size", int64(c.Driver.EventFifoSize)),
		IntOption("command_fifo_size", int64(c.Driver.CommandFifoSize)),
		UintOption("lock_retries", uint64(c.Driver.LockRetries)),
		UintOption("lock_delay_ms", uint64(c.Driver.LockDelayMs)),
		BoolOption("drop_collect_call", c.Driver.DropCollectCall),
		FuncOption("country", c.Driver.Country, func(raw string) error {
			if !knownCountries[strings.ToLower(raw)] {
				return fmt.Errorf("unsupported country %q", raw)
			}
			return nil
		}),
		IntOption("pbx_packet_ms", int64(c.Audio.PBXPacketMs)),
		IntOption("hw_packet_ms", int64(c.Audio.HWPacketMs)),
		StringOption("codec", c.Audio.Codec),
	)
	if err := set.Apply(c.Driver.Options); err != nil {
		return set, err
	}

	get := func(name string) *Option { o, _ := set.Get(name); return o }
	if v, err := get("event_fifo_size").Int(); err == nil && v > 0 {
		c.Driver.EventFifoSize = int(v)
	}
	if v, err := get("command_fifo_size").Int(); err == nil && v > 0 {
		c.Driver.CommandFifoSize = int(v)
	}
	if v, err := get("lock_retries").Uint(); err == nil && v > 0 {
		c.Driver.LockRetries = int(v)
	}
	if v, err := get("lock_delay_ms").Uint(); err == nil && v > 0 {
		c.Driver.LockDelayMs = int(v)
	}
	if v, err := get("drop_collect_call").Bool(); err == nil {
		c.Driver.DropCollectCall = v
	}
	c.Driver.Country = strings.ToLower(get("country").String())
	if v, err := get("pbx_packet_ms").Int(); err == nil && v > 0 {
		c.Audio.PBXPacketMs = int(v)
	}
	if v, err := get("hw_packet_ms").Int(); err == nil && v > 0 {
		c.Audio.HWPacketMs = int(v)
	}
	c.Audio.Codec = get("codec").String()
	return set, nil
}
