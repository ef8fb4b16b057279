package k3l

import (
	"strconv"
	"strings"
)

// Param is one key="value" pair of a command or event parameter string.
type Param struct {
	Key   string
	Value string
}

// Params keeps parameter order as given.
type Params []Param

func NewParams(kv ...string) Params {
	p := make(Params, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] == "" {
			continue
		}
		p = append(p, Param{Key: kv[i], Value: kv[i+1]})
	}
	return p
}

// ParseParams reads `key="value" other="x y"` lists. Unquoted values end at a space.
func ParseParams(s string) Params {
	var out Params
	i := 0
	for i < len(s) {
		for i < len(s) && s[i] == ' ' {
			i++
		}
		eq := strings.IndexByte(s[i:], '=')
		if eq < 0 {
			break
		}
		key := strings.TrimSpace(s[i : i+eq])
		i += eq + 1

		var val string
		if i < len(s) && s[i] == '"' {
			end := strings.IndexByte(s[i+1:], '"')
			if end < 0 {
				val = s[i+1:]
				i = len(s)
			} else {
				val = s[i+1 : i+1+end]
				i += end + 2
			}
		} else {
			end := strings.IndexByte(s[i:], ' ')
			if end < 0 {
				end = len(s) - i
			}
			val = s[i : i+end]
			i += end
		}
		if key != "" {
			out = append(out, Param{Key: key, Value: val})
		}
	}
	return out
}

func (p Params) Get(key string) (string, bool) {
	for _, kv := range p {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

func (p Params) Value(key string) string {
	v, _ := p.Get(key)
	return v
}

func (p Params) Int(key string, def int) int {
	v, ok := p.Get(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (p Params) String() string {
	var b strings.Builder
	for i, kv := range p {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(kv.Key)
		b.WriteString(`="`)
		b.WriteString(kv.Value)
		b.WriteByte('"')
	}
	return b.String()
}
