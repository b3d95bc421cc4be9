package funcs

import "regexp"

/*
 * S3 virtual-host bucket validation.
 *
 * Pure predicate deciding whether a bucket name may appear as a hostname
 * label (virtual-hosted addressing). Total function: every input yields
 * true or false, no error path.
 */

// Dotted-decimal IPv4 shape; names that look like IP addresses can never
// be virtual-hosted. Compiled once at startup.
var ipv4Pattern = regexp.MustCompile(`^(\d+\.){3}\d+$`)

// IsVirtualHostableBucket reports whether name is eligible for S3
// virtual-host addressing. With allowDots, dotted names are accepted
// subject to label rules and the IPv4 exclusion.
func IsVirtualHostableBucket(name string, allowDots bool) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if !isLowerAlnum(name[0]) || !isLowerAlnum(name[len(name)-1]) {
		return false
	}

	if !allowDots {
		for i := 1; i < len(name)-1; i++ {
			if !isLowerAlnum(name[i]) && name[i] != '-' {
				return false
			}
		}
		return true
	}

	for i := 1; i < len(name); i++ {
		c, prev := name[i], name[i-1]
		switch c {
		case '.':
			// No empty labels and no label ending in '-'.
			if prev == '.' || prev == '-' {
				return false
			}
		case '-':
			// No label starting with '-'.
			if prev == '.' {
				return false
			}
		default:
			if !isLowerAlnum(c) {
				return false
			}
		}
	}

	return !ipv4Pattern.MatchString(name)
}

func isLowerAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}
