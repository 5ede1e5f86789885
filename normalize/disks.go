package normalize

import "strings"

// Disk is one attached volume as seen by a provider. SizeGB <= 0 means
// the provider did not declare a size for it.
type Disk struct {
	SizeGB int
	Boot   bool
}

// SizeClassDefault maps a size-class glob pattern to a default disk
// estimate in GB.
type SizeClassDefault struct {
	Pattern string
	GB      int
}

// DiskDefaults supplies estimates for undeclared disk sizes. It is
// configuration, not normalizer logic, so each provider can ship its
// own table.
type DiskDefaults struct {
	BootGB      int
	DataGB      int
	BySizeClass []SizeClassDefault
}

// ForSizeClass returns the default estimate for a size class, first
// matching pattern wins. Zero when no pattern matches.
func (d DiskDefaults) ForSizeClass(sizeClass string) int {
	for _, def := range d.BySizeClass {
		if matchGlob(strings.ToLower(sizeClass), strings.ToLower(def.Pattern)) {
			return def.GB
		}
	}
	return 0
}

// TotalDiskGB sums attached disk sizes. A disk with no declared size
// takes its role default (boot or data). When the provider surfaced no
// disk data at all, the size-class estimate stands in for the whole
// instance. A missing value never contributes 0 while a nonzero
// default is available; the result is never negative.
func TotalDiskGB(disks []Disk, sizeClass string, defaults DiskDefaults) int {
	if len(disks) == 0 {
		if gb := defaults.ForSizeClass(sizeClass); gb > 0 {
			return gb
		}
		return 0
	}

	total := 0
	for _, disk := range disks {
		switch {
		case disk.SizeGB > 0:
			total += disk.SizeGB
		case disk.Boot:
			total += bootDefault(sizeClass, defaults)
		default:
			total += defaults.DataGB
		}
	}
	if total < 0 {
		return 0
	}
	return total
}

// bootDefault prefers the size-class estimate for a boot disk since
// boot volumes track machine size more closely than a flat constant.
func bootDefault(sizeClass string, defaults DiskDefaults) int {
	if gb := defaults.ForSizeClass(sizeClass); gb > 0 {
		return gb
	}
	return defaults.BootGB
}

// matchGlob performs simple glob matching (* wildcards).
func matchGlob(text, pattern string) bool {
	if pattern == "*" || pattern == text {
		return true
	}

	if strings.Contains(pattern, "*") {
		parts := strings.Split(pattern, "*")
		if len(parts) == 2 {
			return strings.HasPrefix(text, parts[0]) && strings.HasSuffix(text, parts[1])
		}
	}

	return false
}
