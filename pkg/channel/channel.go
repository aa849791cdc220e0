// Package channel derives stable region names for shared spaces.
//
// A channel identifier is the literal prefix "ipcs_" followed by either a caller
// supplied string or an 8-digit upper-case hexadecimal CRC-32 of a seed. Sub
// channels join a parent identifier and a sub identifier with an underscore.
package channel

import (
	"fmt"
	"hash/crc32"
	"os"

	"golang.org/x/text/encoding/unicode"
)

// Prefix is prepended to every channel identifier.
const Prefix = "ipcs_"

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// Channel is a named logical shared space.
type Channel struct {
	id string
}

// FromString returns the channel Prefix+id.
func FromString(id string) Channel {
	return Channel{id: Prefix + id}
}

// FromHash returns the channel named after the checksum of seed.
func FromHash(seed string) Channel {
	return FromString(fmt.Sprintf("%08X", Checksum(seed)))
}

// FromExecutablePath hashes the path of the running executable, so every
// instance of the same binary lands on the same channel.
func FromExecutablePath() (Channel, error) {
	path, err := os.Executable()
	if err != nil {
		return Channel{}, fmt.Errorf("channel: resolve executable: %w", err)
	}
	return FromHash(path), nil
}

// Checksum returns the IEEE CRC-32 of seed encoded as UTF-16LE.
func Checksum(seed string) uint32 {
	b, err := utf16le.NewEncoder().Bytes([]byte(seed))
	if err != nil {
		// Invalid UTF-8 is replaced rather than rejected; hash the raw bytes
		// if the encoder still refuses.
		return crc32.ChecksumIEEE([]byte(seed))
	}
	return crc32.ChecksumIEEE(b)
}

// ID returns the channel identifier.
func (c Channel) ID() string {
	return c.id
}

// SubID returns the identifier of sub inside c without building a Channel.
func (c Channel) SubID(sub string) string {
	return c.id + "_" + sub
}

// Sub returns the nested channel c_sub.
func (c Channel) Sub(sub string) Channel {
	return Channel{id: c.SubID(sub)}
}

// IsZero reports whether c was never assigned.
func (c Channel) IsZero() bool {
	return c.id == ""
}

func (c Channel) String() string {
	return c.id
}
