// Copyright 2024 The Piaf Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package piaf

import "testing"

func TestVersionCompare(t *testing.T) {
	ordered := []Version{V1_0, V1_1, V2}
	for i, lo := range ordered {
		if lo.Compare(lo) != 0 {
			t.Errorf("%v.Compare(itself) != 0", lo)
		}
		for _, hi := range ordered[i+1:] {
			if lo.Compare(hi) != -1 {
				t.Errorf("%v.Compare(%v) = %d, want -1", lo, hi, lo.Compare(hi))
			}
			if hi.Compare(lo) != 1 {
				t.Errorf("%v.Compare(%v) = %d, want 1", hi, lo, hi.Compare(lo))
			}
		}
	}
}

func TestVersionString(t *testing.T) {
	tests := []struct {
		v    Version
		want string
	}{
		{V1_0, "HTTP/1.0"},
		{V1_1, "HTTP/1.1"},
		{V2, "HTTP/2.0"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("%#v.String() = %q, want %q", tt.v, got, tt.want)
		}
	}
}
