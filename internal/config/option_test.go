package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	c := Defaults()
	assert.Equal(t, 500, c.Driver.EventFifoSize)
	assert.Equal(t, 250, c.Driver.CommandFifoSize)
	assert.Equal(t, 25, c.Driver.LockRetries)
	assert.Equal(t, 100, c.Driver.LockDelayMs)
	assert.Equal(t, 20, c.Audio.PBXPacketMs)
	assert.Equal(t, "alaw", c.Audio.Codec)
	assert.Equal(t, "echo", c.PBX.Media)
	require.Len(t, c.Boards, 1)
	assert.Equal(t, BoardConfig{Serial: "K0", Channels: 30, Signaling: "isdn"}, c.Boards[0])
}

func TestOptionKinds(t *testing.T) {
	tests := []struct {
		name string
		opt  *Option
		raw  string
		want string
		fail bool
	}{
		{"int", IntOption("a", 1), "-7", "-7", false},
		{"int bad", IntOption("a", 1), "x", "1", true},
		{"uint", UintOption("b", 1), "42", "42", false},
		{"bool yes", BoolOption("c", false), "yes", "yes", false},
		{"bool off", BoolOption("c", true), "off", "no", false},
		{"bool true", BoolOption("c", false), "true", "yes", false},
		{"string", StringOption("d", ""), " alaw ", "alaw", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opt.Set(tt.raw)
			if tt.fail {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.want, tt.opt.String())
		})
	}
}

func TestOptionKindMismatch(t *testing.T) {
	o := BoolOption("flag", true)
	_, err := o.Int()
	assert.ErrorIs(t, err, ErrOptionKind)
	v, err := o.Bool()
	require.NoError(t, err)
	assert.True(t, v)
}

func TestConfigOptionsOverrides(t *testing.T) {
	c := Defaults()
	c.Driver.Options = map[string]string{
		"lock_retries":      "3",
		"drop_collect_call": "yes",
		"country":           "Argentina",
	}
	set, err := c.Options()
	require.NoError(t, err)
	assert.Equal(t, 3, c.Driver.LockRetries)
	assert.True(t, c.Driver.DropCollectCall)
	assert.Equal(t, "argentina", c.Driver.Country)
	assert.Contains(t, set.Names(), "codec")
}

func TestConfigOptionsRejectsUnknown(t *testing.T) {
	c := Defaults()
	c.Driver.Options = map[string]string{"nope": "1"}
	_, err := c.Options()
	assert.ErrorIs(t, err, ErrUnknownOption)

	c = Defaults()
	c.Driver.Options = map[string]string{"country": "atlantis"}
	_, err = c.Options()
	assert.Error(t, err)
	assert.Equal(t, "brazil", c.Driver.Country)
}
