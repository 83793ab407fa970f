package reindex

import "github.com/fyrsmithlabs/chatindex/internal/index"

// maxLCSCells bounds the dynamic-programming table. Larger middles fall back
// to positional pairing.
const maxLCSCells = 4 << 20

// Diff maps freshly parsed candidates onto the stored segments of a sequence.
//
// Stored segments and candidates are compared by content hash. The longest
// common subsequence of the two hash lists becomes SlotKeep anchors, which keep
// their ids and at most move. Between two anchors, leftover stored segments and
// candidates are paired in order as SlotUpdate; extra candidates become
// SlotCreate and extra stored segments are left out of the plan, which deletes
// them. When the LCS has ties, stored segments are dropped before candidates.
func Diff(old []index.Segment, cands []index.Candidate) []index.Slot {
	a := make([]uint64, len(old))
	for i, s := range old {
		a[i] = s.Hash
	}
	b := make([]uint64, len(cands))
	for j, c := range cands {
		b[j] = c.Hash()
	}

	slots := make([]index.Slot, 0, len(cands))
	oi, nj := 0, 0
	for _, m := range matchHashes(a, b) {
		slots = appendGap(slots, old[oi:m.from], cands[nj:m.to])
		slots = append(slots, index.Slot{Op: index.SlotKeep, ID: old[m.from].ID, Candidate: cands[m.to]})
		oi, nj = m.from+1, m.to+1
	}
	return appendGap(slots, old[oi:], cands[nj:])
}

func appendGap(slots []index.Slot, old []index.Segment, cands []index.Candidate) []index.Slot {
	for j, c := range cands {
		if j < len(old) {
			slots = append(slots, index.Slot{Op: index.SlotUpdate, ID: old[j].ID, Candidate: c})
			continue
		}
		slots = append(slots, index.Slot{Op: index.SlotCreate, Candidate: c})
	}
	return slots
}

type match struct {
	from, to int
}

// matchHashes returns the index pairs of an LCS of a and b in ascending order.
func matchHashes(a, b []uint64) []match {
	var out []match

	// Common prefix and suffix are matched directly.
	pre := 0
	for pre < len(a) && pre < len(b) && a[pre] == b[pre] {
		out = append(out, match{pre, pre})
		pre++
	}
	suf := 0
	for suf < len(a)-pre && suf < len(b)-pre && a[len(a)-1-suf] == b[len(b)-1-suf] {
		suf++
	}

	ma, mb := a[pre:len(a)-suf], b[pre:len(b)-suf]
	if len(ma) > 0 && len(mb) > 0 && len(ma)*len(mb) <= maxLCSCells {
		for _, m := range lcs(ma, mb) {
			out = append(out, match{m.from + pre, m.to + pre})
		}
	}

	for k := suf; k > 0; k-- {
		out = append(out, match{len(a) - k, len(b) - k})
	}
	return out
}

func lcs(a, b []uint64) []match {
	n, m := len(a), len(b)
	w := m + 1
	table := make([]int32, (n+1)*w)
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				table[i*w+j] = table[(i+1)*w+j+1] + 1
			} else if down, right := table[(i+1)*w+j], table[i*w+j+1]; down >= right {
				table[i*w+j] = down
			} else {
				table[i*w+j] = right
			}
		}
	}

	var out []match
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			out = append(out, match{i, j})
			i++
			j++
		case table[(i+1)*w+j] >= table[i*w+j+1]:
			i++
		default:
			j++
		}
	}
	return out
}
