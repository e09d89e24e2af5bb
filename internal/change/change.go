// Package change подбирает сдачу из имеющихся в кассе номиналов.
package change

import (
	"errors"
	"sort"

	"github.com/mmeshcher/billing-system/internal/model"
)

var (
	// ErrInsufficientDenominations возвращается, если из имеющихся купюр нельзя собрать сдачу.
	ErrInsufficientDenominations = errors.New("insufficient denominations")
	// ErrNegativeAmount возвращается при отрицательной сумме сдачи.
	ErrNegativeAmount = errors.New("negative change amount")
)

// Make жадно подбирает сдачу: от крупных номиналов к мелким берёт
// min(остаток / номинал, количество в кассе). Без перебора, поэтому может
// отказать там, где полный перебор нашёл бы решение.
// available не изменяется. В результат попадают только использованные номиналы,
// по убыванию.
func Make(amountDue int64, available map[int64]int64) ([]model.ChangeEntry, error) {
	if amountDue < 0 {
		return nil, ErrNegativeAmount
	}

	faces := make([]int64, 0, len(available))
	for face := range available {
		if face > 0 {
			faces = append(faces, face)
		}
	}
	sort.Slice(faces, func(i, j int) bool { return faces[i] > faces[j] })

	remaining := amountDue
	result := make([]model.ChangeEntry, 0, len(faces))

	for _, face := range faces {
		if remaining == 0 {
			break
		}

		count := remaining / face
		if onHand := available[face]; count > onHand {
			count = onHand
		}
		if count <= 0 {
			continue
		}

		result = append(result, model.ChangeEntry{FaceValue: face, Count: count})
		remaining -= face * count
	}

	if remaining > 0 {
		return nil, ErrInsufficientDenominations
	}

	return result, nil
}

// Sum возвращает сумму выданной сдачи.
func Sum(entries []model.ChangeEntry) int64 {
	var total int64
	for _, e := range entries {
		total += e.FaceValue * e.Count
	}
	return total
}
