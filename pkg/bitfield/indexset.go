// Copyright 2025 The Hypersync Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package bitfield

import (
	"math"
	"sort"
)

// IndexSet tracks membership of uint64 indexes as sorted, non-overlapping
// runs. Memory grows with the fragmentation of the set, never with the
// magnitude of the indexes, so it can safely mirror ranges a remote peer
// chooses. The zero value is an empty set.
type IndexSet struct {
	runs []indexRun
}

// indexRun is one half-open member range [start, end).
type indexRun struct {
	start uint64
	end   uint64
}

// Get reports whether index i is in the set.
func (s *IndexSet) Get(i uint64) bool {
	j := sort.Search(len(s.runs), func(k int) bool { return s.runs[k].end > i })
	return j < len(s.runs) && s.runs[j].start <= i
}

// Set adds or removes the single index i.
func (s *IndexSet) Set(i uint64, v bool) {
	s.SetRange(i, 1, v)
}

// SetRange adds or removes [start, start+length). Ranges overflowing
// uint64 saturate at the top.
func (s *IndexSet) SetRange(start, length uint64, v bool) {
	if length == 0 {
		return
	}
	end := start + length
	if end < start {
		end = math.MaxUint64
	}
	if v {
		s.insert(start, end)
	} else {
		s.remove(start, end)
	}
}

// Max returns one past the highest member index, zero for an empty set.
func (s *IndexSet) Max() uint64 {
	if len(s.runs) == 0 {
		return 0
	}
	return s.runs[len(s.runs)-1].end
}

// insert merges [start, end) with every overlapping or adjacent run.
func (s *IndexSet) insert(start, end uint64) {
	i := sort.Search(len(s.runs), func(k int) bool { return s.runs[k].end >= start })
	j := i
	for j < len(s.runs) && s.runs[j].start <= end {
		if s.runs[j].start < start {
			start = s.runs[j].start
		}
		if s.runs[j].end > end {
			end = s.runs[j].end
		}
		j++
	}
	s.runs = append(s.runs[:i], append([]indexRun{{start: start, end: end}}, s.runs[j:]...)...)
}

// remove cuts [start, end) out of every run it intersects, splitting runs
// that extend past either side.
func (s *IndexSet) remove(start, end uint64) {
	i := sort.Search(len(s.runs), func(k int) bool { return s.runs[k].end > start })
	var kept []indexRun
	j := i
	for j < len(s.runs) && s.runs[j].start < end {
		r := s.runs[j]
		if r.start < start {
			kept = append(kept, indexRun{start: r.start, end: start})
		}
		if r.end > end {
			kept = append(kept, indexRun{start: end, end: r.end})
		}
		j++
	}
	s.runs = append(s.runs[:i], append(kept, s.runs[j:]...)...)
}
