package enums

import "slices"

// lifecycle lists the states each state may move to. A state with no entry
// is terminal.
type lifecycle[T comparable] map[T][]T

func (l lifecycle[T]) allows(from, to T) bool {
	return slices.Contains(l[from], to)
}

func (l lifecycle[T]) terminal(s T) bool {
	return len(l[s]) == 0
}
