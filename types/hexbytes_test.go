package types

import (
	"encoding/json"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestHexBytes(t *testing.T) {
	c := qt.New(t)

	c.Run("String", func(c *qt.C) {
		testCases := []struct {
			name string
			in   HexBytes
			want string
		}{
			{name: "nil slice", in: nil, want: "0x"},
			{name: "empty", in: HexBytes{}, want: "0x"},
			{name: "non-empty", in: HexBytes{0x00, 0xAB, 0xCD}, want: "0x00abcd"},
		}
		for _, tc := range testCases {
			c.Run(tc.name, func(c *qt.C) {
				c.Assert(tc.in.String(), qt.Equals, tc.want)
			})
		}
	})

	c.Run("LeftPad", func(c *qt.C) {
		in := HexBytes{0x01, 0x02}
		out := in.LeftPad(4)
		c.Assert(out, qt.DeepEquals, HexBytes{0x00, 0x00, 0x01, 0x02})
		same := in.LeftPad(1)
		same[0] = 0xff
		c.Assert(in[0], qt.Equals, byte(0x01))
	})

	c.Run("Clone", func(c *qt.C) {
		c.Assert(HexBytes(nil).Clone(), qt.IsNil)
		in := HexBytes{0x01}
		out := in.Clone()
		out[0] = 0x02
		c.Assert(in[0], qt.Equals, byte(0x01))
	})

	c.Run("JSON", func(c *qt.C) {
		data, err := json.Marshal(HexBytes{0xde, 0xad})
		c.Assert(err, qt.IsNil)
		c.Assert(string(data), qt.Equals, `"0xdead"`)

		var out HexBytes
		c.Assert(json.Unmarshal([]byte(`"beef"`), &out), qt.IsNil)
		c.Assert(out, qt.DeepEquals, HexBytes{0xbe, 0xef})
		c.Assert(json.Unmarshal([]byte(`"0xzz"`), &out), qt.ErrorMatches, `invalid hex string.*`)
		c.Assert(json.Unmarshal([]byte(`12`), &out), qt.ErrorMatches, `invalid JSON string.*`)
	})

	c.Run("MustUnmarshal", func(c *qt.C) {
		c.Assert(HexStringToHexBytesMustUnmarshal("0X0a"), qt.DeepEquals, HexBytes{0x0a})
		c.Assert(func() { HexStringToHexBytesMustUnmarshal("xyz") }, qt.PanicMatches, `invalid hex string.*`)
	})
}
