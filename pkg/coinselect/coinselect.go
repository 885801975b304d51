// Package coinselect selects the unspents used to fund one side of a trade.
package coinselect

import (
	"errors"
	"sort"
)

// maxCombinationSize bounds the exhaustive search. Bigger sets are selected
// greedily, largest first.
const maxCombinationSize = 16

// ErrInsufficientFunds is returned when the given coins don't cover the target.
var ErrInsufficientFunds = errors.New(
	"error on target amount: total utxo amount does not cover target amount",
)

// Coin is anything that carries a spendable value.
type Coin interface {
	GetValue() uint64
}

// SelectCoins returns a subset of coins covering targetAmount and the
// resulting change. The strategy selects as few coins as possible, preferring
// combinations whose total does not exceed 10 times the target.
func SelectCoins[T Coin](coins []T, targetAmount uint64) ([]T, uint64, error) {
	if targetAmount == 0 {
		return nil, 0, errors.New("target amount must be greater than zero")
	}

	sorted := make([]T, len(coins))
	copy(sorted, coins)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].GetValue() > sorted[j].GetValue()
	})

	var indexes []int
	if len(sorted) <= maxCombinationSize {
		indexes = bestCombination(sorted, targetAmount)
	} else {
		indexes = largestFirst(sorted, targetAmount)
	}
	if len(indexes) <= 0 {
		return nil, 0, ErrInsufficientFunds
	}

	selected := make([]T, 0, len(indexes))
	total := uint64(0)
	for _, i := range indexes {
		selected = append(selected, sorted[i])
		total += sorted[i].GetValue()
	}
	return selected, total - targetAmount, nil
}

// bestCombination implements the strategy of selecting as less as possible
// coins so that their sum is equal or greater than target, with 10x ratio:
// 1. set size = 1
// 2. enumerate all combinations of size elements
// 3. return the first combination meeting the requirements
// 4. if none matches, size++ and go to step 2.
// If no combination meets the ratio, the first one covering the target is
// returned.
func bestCombination[T Coin](coins []T, target uint64) []int {
	var fallback []int
	for size := 1; size <= len(coins); size++ {
		for _, combination := range combinations(len(coins), size) {
			total := sum(coins, combination)
			if total < target {
				continue
			}
			if total <= target*10 {
				return combination
			}
			if fallback == nil {
				fallback = combination
			}
		}
	}
	return fallback
}

func largestFirst[T Coin](coins []T, target uint64) []int {
	indexes := make([]int, 0)
	total := uint64(0)
	for i, c := range coins {
		indexes = append(indexes, i)
		total += c.GetValue()
		if total >= target {
			return indexes
		}
	}
	return nil
}

// combinations returns all the index combinations of the given size out of
// n elements, in lexicographic order.
func combinations(n, size int) [][]int {
	result := make([][]int, 0)
	current := make([]int, 0, size)

	var walk func(offset int)
	walk = func(offset int) {
		if len(current) == size {
			c := make([]int, size)
			copy(c, current)
			result = append(result, c)
			return
		}
		for i := offset; i <= n-(size-len(current)); i++ {
			current = append(current, i)
			walk(i + 1)
			current = current[:len(current)-1]
		}
	}
	walk(0)
	return result
}

func sum[T Coin](coins []T, indexes []int) uint64 {
	var total uint64
	for _, i := range indexes {
		total += coins[i].GetValue()
	}
	return total
}
