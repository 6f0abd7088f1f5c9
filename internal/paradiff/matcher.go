package paradiff

// Block is a run of identical runes: a[A:A+Size] == b[B:B+Size].
type Block struct {
	A, B, Size int
}

// MatchingBlocks finds the maximal runs shared by two strings, ordered by
// position. The final zero-size sentinel of difflib is omitted.
func MatchingBlocks(a, b string) []Block {
	ra, rb := []rune(a), []rune(b)
	var blocks []Block
	var queue = [][4]int{{0, len(ra), 0, len(rb)}}
	for len(queue) > 0 {
		q := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		alo, ahi, blo, bhi := q[0], q[1], q[2], q[3]
		m := longestMatch(ra, rb, alo, ahi, blo, bhi)
		if m.Size == 0 {
			continue
		}
		blocks = append(blocks, m)
		if alo < m.A && blo < m.B {
			queue = append(queue, [4]int{alo, m.A, blo, m.B})
		}
		if m.A+m.Size < ahi && m.B+m.Size < bhi {
			queue = append(queue, [4]int{m.A + m.Size, ahi, m.B + m.Size, bhi})
		}
	}
	sortBlocks(blocks)
	return blocks
}

func longestMatch(a, b []rune, alo, ahi, blo, bhi int) Block {
	b2j := map[rune][]int{}
	for i := blo; i < bhi; i++ {
		b2j[b[i]] = append(b2j[b[i]], i)
	}
	best := Block{A: alo, B: blo}
	j2len := map[int]int{}
	for i := alo; i < ahi; i++ {
		newj2len := map[int]int{}
		for _, j := range b2j[a[i]] {
			k := j2len[j-1] + 1
			newj2len[j] = k
			if k > best.Size {
				best = Block{A: i - k + 1, B: j - k + 1, Size: k}
			}
		}
		j2len = newj2len
	}
	return best
}

func sortBlocks(blocks []Block) {
	for i := 1; i < len(blocks); i++ {
		for j := i; j > 0 && blocks[j].A < blocks[j-1].A; j-- {
			blocks[j], blocks[j-1] = blocks[j-1], blocks[j]
		}
	}
}

// SimilarityRatio is the difflib ratio: 2*M / (len(a)+len(b)) over matching
// block sizes.
func SimilarityRatio(a, b string) float64 {
	total := len([]rune(a)) + len([]rune(b))
	if total == 0 {
		return 1
	}
	matched := 0
	for _, blk := range MatchingBlocks(a, b) {
		matched += blk.Size
	}
	return 2 * float64(matched) / float64(total)
}
