package runs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/simon020286/go-promptchain/models"
)

// DefaultGroupGap is the idle time that separates two time buckets
const DefaultGroupGap = 5 * time.Minute

// GroupByTime splits consecutive items into buckets, starting a new bucket
// when two neighbours are more than gap apart. Items without a timestamp
// share buckets only with each other.
func GroupByTime(items []*models.Run, gap time.Duration) [][]*models.Run {
	if gap <= 0 {
		gap = DefaultGroupGap
	}

	return groupBy(items, func(prev, cur *models.Run) bool {
		if prev.Timestamp.IsZero() || cur.Timestamp.IsZero() {
			return prev.Timestamp.IsZero() && cur.Timestamp.IsZero()
		}
		d := cur.Timestamp.Sub(prev.Timestamp)
		if d < 0 {
			d = -d
		}
		return d <= gap
	})
}

// GroupByRow splits consecutive items into buckets of the same input row
func GroupByRow(items []*models.Run, index RowIndex) [][]*models.Run {
	return groupBy(items, func(prev, cur *models.Run) bool {
		return index.Row(prev) == index.Row(cur)
	})
}

func groupBy(items []*models.Run, same func(prev, cur *models.Run) bool) [][]*models.Run {
	var buckets [][]*models.Run
	for i, item := range items {
		if i == 0 || !same(items[i-1], item) {
			buckets = append(buckets, []*models.Run{item})
			continue
		}
		buckets[len(buckets)-1] = append(buckets[len(buckets)-1], item)
	}
	return buckets
}

// RowIndex maps the canonical hash of an input row to its row number
type RowIndex map[string]int

// NewRowIndex indexes rows by position. Duplicate rows keep the first index.
func NewRowIndex(rows []models.InputRow) RowIndex {
	idx := make(RowIndex, len(rows))
	for i, row := range rows {
		key := InputsKey(row)
		if _, exists := idx[key]; !exists {
			idx[key] = i
		}
	}
	return idx
}

// Row returns the row number of a run's inputs, or -1 when unknown
func (idx RowIndex) Row(run *models.Run) int {
	if i, ok := idx[InputsKey(run.Inputs)]; ok {
		return i
	}
	return -1
}

// InputsKey hashes inputs independently of key order
func InputsKey(inputs map[string]string) string {
	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([][2]string, len(keys))
	for i, k := range keys {
		pairs[i] = [2]string{k, inputs[k]}
	}

	b, _ := json.Marshal(pairs)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
