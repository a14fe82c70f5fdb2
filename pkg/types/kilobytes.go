package types

import "fmt"

// Kilobytes is a uint64 wrapper representing a size in KiB, the unit the
// kernel reports memory counters in.
type Kilobytes uint64

// Humanized returns a human-readable string with automatic unit (KB, MB, GB, TB).
func (k Kilobytes) Humanized() string {
	v := float64(k)
	switch {
	case k >= 1<<30:
		return fmt.Sprintf("%.2f TB", v/(1<<30))
	case k >= 1<<20:
		return fmt.Sprintf("%.2f GB", v/(1<<20))
	case k >= 1<<10:
		return fmt.Sprintf("%.2f MB", v/(1<<10))
	default:
		return fmt.Sprintf("%d KB", uint64(k))
	}
}

// MB returns the number of megabytes (1024 base).
func (k Kilobytes) MB() float64 { return float64(k) / 1024 }

// GB returns the number of gigabytes (1024 base).
func (k Kilobytes) GB() float64 { return float64(k) / (1024 * 1024) }

// ToUint64 returns the raw KiB count.
func (k Kilobytes) ToUint64() uint64 { return uint64(k) }
