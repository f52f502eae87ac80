package reminder

import (
	"sort"
	"time"
)

// DefaultOffsets за сколько дней до продления отправляются напоминания.
var DefaultOffsets = []int{7, 5, 2, 1}

// Plan упорядоченный по убыванию набор смещений в днях.
type Plan struct {
	offsets []int
}

// NewPlan нормализует смещения: только положительные, без повторов,
// по убыванию. Пустой набор заменяется DefaultOffsets.
func NewPlan(offsets []int) Plan {
	return Plan{offsets: NormalizeOffsets(offsets)}
}

// NormalizeOffsets приводит смещения к строго убывающему положительному виду.
func NormalizeOffsets(offsets []int) []int {
	seen := make(map[int]struct{}, len(offsets))
	out := make([]int, 0, len(offsets))
	for _, o := range offsets {
		if o <= 0 {
			continue
		}
		if _, ok := seen[o]; ok {
			continue
		}
		seen[o] = struct{}{}
		out = append(out, o)
	}
	if len(out) == 0 {
		out = append(out, DefaultOffsets...)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(out)))
	return out
}

// Offsets копия смещений плана.
func (p Plan) Offsets() []int {
	if len(p.offsets) == 0 {
		return append([]int(nil), DefaultOffsets...)
	}
	return append([]int(nil), p.offsets...)
}

// At момент отправки напоминания за offset дней до renewal.
func At(renewal time.Time, offset int) time.Time {
	return renewal.AddDate(0, 0, -offset)
}

// Pending смещения, напоминания по которым ещё впереди относительно now.
// Уже наступившие, но не отправленные напоминания отправляются сразу
// и в этот список не входят.
func (p Plan) Pending(renewal, now time.Time) []int {
	if !renewal.After(now) {
		return nil
	}
	var pending []int
	for _, o := range p.Offsets() {
		if At(renewal, o).After(now) {
			pending = append(pending, o)
		}
	}
	return pending
}
