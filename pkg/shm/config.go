package shm

import (
	"errors"
	"fmt"
	"os"
	"strconv"
)

const (
	defaultPageSize  = 4096
	defaultAlignment = 8
)

// Config holds space creation parameters. Every participant of a channel must
// use the same PageSize and Magic.
type Config struct {
	// PageSize is the size in bytes of every page region.
	PageSize int
	// Alignment is the default alignment of block offsets.
	Alignment int
	// Magic identifies the space on its pages. Zero derives it from the channel.
	Magic uint32
	// MaxPages caps page growth. Zero means unbounded.
	MaxPages int
	// Mapper opens the page regions.
	Mapper Mapper
	// Metrics is optional.
	Metrics *Metrics
}

// DefaultConfig returns the default configuration backed by the platform mapper.
func DefaultConfig() Config {
	return Config{
		PageSize:  defaultPageSize,
		Alignment: defaultAlignment,
		Mapper:    DefaultMapper(),
	}
}

// VerifyConfig reports whether cfg can back a space.
func VerifyConfig(cfg Config) error {
	if cfg.Alignment < 4 || cfg.Alignment&(cfg.Alignment-1) != 0 {
		return fmt.Errorf("%w: alignment %d must be a power of two >= 4", ErrInvalidArgument, cfg.Alignment)
	}
	if cfg.PageSize <= 0 || cfg.PageSize%8 != 0 {
		return fmt.Errorf("%w: page size %d must be a positive multiple of 8", ErrInvalidArgument, cfg.PageSize)
	}
	if cfg.Alignment > cfg.PageSize {
		return fmt.Errorf("%w: alignment %d exceeds page size %d", ErrInvalidArgument, cfg.Alignment, cfg.PageSize)
	}
	if int64(cfg.PageSize) > maxPageSize {
		return fmt.Errorf("%w: page size %d exceeds %d", ErrInvalidArgument, cfg.PageSize, int64(maxPageSize))
	}
	if need := firstDataOffset(uint32(cfg.Alignment)) + 4; uint64(cfg.PageSize) < need {
		return fmt.Errorf("%w: page size %d is smaller than %d", ErrInvalidArgument, cfg.PageSize, need)
	}
	if cfg.MaxPages < 0 {
		return fmt.Errorf("%w: max pages %d is negative", ErrInvalidArgument, cfg.MaxPages)
	}
	if cfg.Mapper == nil {
		return errors.New("shm: config has no mapper")
	}
	return nil
}

// LoadConfigFromEnv overrides cfg with SHMSPACE_PAGE_SIZE, SHMSPACE_ALIGNMENT
// and SHMSPACE_MAX_PAGES when they are set.
func LoadConfigFromEnv(cfg *Config) error {
	for _, e := range []struct {
		key string
		dst *int
	}{
		{"SHMSPACE_PAGE_SIZE", &cfg.PageSize},
		{"SHMSPACE_ALIGNMENT", &cfg.Alignment},
		{"SHMSPACE_MAX_PAGES", &cfg.MaxPages},
	} {
		v := os.Getenv(e.key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s=%q: %w", e.key, v, err)
		}
		*e.dst = n
	}
	return nil
}

// MaxBlockSize is the largest block a fresh page can hold at cfg.Alignment.
func (cfg Config) MaxBlockSize() int {
	return cfg.PageSize - int(firstDataOffset(uint32(cfg.Alignment)))
}
