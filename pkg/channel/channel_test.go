package channel

import (
	"hash/crc32"
	"regexp"
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var hashedID = regexp.MustCompile(`^ipcs_[0-9A-F]{8}$`)

func utf16leBytes(s string) []byte {
	var out []byte
	for _, u := range utf16.Encode([]rune(s)) {
		out = append(out, byte(u), byte(u>>8))
	}
	return out
}

func TestFromHashFormat(t *testing.T) {
	for _, seed := range []string{"", "Test", "/usr/local/bin/app", "SharedMemoryTest", "ünïcødé"} {
		c := FromHash(seed)
		assert.Regexp(t, hashedID, c.ID(), "seed %q", seed)
		assert.Equal(t, c, FromHash(seed), "seed %q must be stable", seed)
	}
	assert.NotEqual(t, FromHash("a").ID(), FromHash("b").ID())
}

func TestChecksumIsCRC32OfUTF16LE(t *testing.T) {
	for _, seed := range []string{"Test", "SharedMemoryTest", "日本"} {
		assert.Equal(t, crc32.ChecksumIEEE(utf16leBytes(seed)), Checksum(seed), "seed %q", seed)
	}
	// CRC-32 of the empty input is zero.
	assert.Equal(t, uint32(0), Checksum(""))
	assert.Equal(t, "ipcs_00000000", FromHash("").ID())
}

func TestSubChannels(t *testing.T) {
	c := FromString("base")
	assert.Equal(t, "ipcs_base", c.ID())
	assert.Equal(t, "ipcs_base_0", c.SubID("0"))

	mem := c.Sub("mem")
	assert.Equal(t, "ipcs_base_mem", mem.ID())
	assert.Equal(t, "ipcs_base_mem_A", mem.Sub("A").String())
	assert.False(t, mem.IsZero())
	assert.True(t, Channel{}.IsZero())
}

func TestFromExecutablePath(t *testing.T) {
	c1, err := FromExecutablePath()
	require.NoError(t, err)
	c2, err := FromExecutablePath()
	require.NoError(t, err)
	assert.Equal(t, c1, c2)
	assert.Regexp(t, hashedID, c1.ID())
}
