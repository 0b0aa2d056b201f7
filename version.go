// Copyright 2024 The Piaf Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package piaf

import "fmt"

// A Version is an HTTP protocol version. Versions are totally ordered by
// (Major, Minor), so a negotiated version can be compared against the
// configured maximum.
type Version struct {
	Major, Minor int
}

// Well-known protocol versions.
var (
	V1_0 = Version{1, 0}
	V1_1 = Version{1, 1}
	V2   = Version{2, 0}
)

// Compare returns -1, 0 or +1 depending on whether v sorts before, equal
// to, or after o.
func (v Version) Compare(o Version) int {
	switch {
	case v.Major < o.Major:
		return -1
	case v.Major > o.Major:
		return 1
	case v.Minor < o.Minor:
		return -1
	case v.Minor > o.Minor:
		return 1
	}
	return 0
}

func (v Version) String() string {
	return fmt.Sprintf("HTTP/%d.%d", v.Major, v.Minor)
}
