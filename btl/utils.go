package btl

import (
	"log"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

//HandleError aborts on any unrecoverable error.
func HandleError(err error) {
	if err != nil {
		log.Panic(err)
	}
}

//Height returns the number of rows of a dense matrix.
func Height(m *mat.Dense) int {
	h, _ := m.Dims()
	return h
}

//columnArgsort returns a stable argsort of one column of a matrix.
func columnArgsort(m *mat.Dense, col int) []int {
	h, _ := m.Dims()
	order := make([]int, h)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return m.At(order[a], col) < m.At(order[b], col)
	})
	return order
}

//Rmse computes the root mean squared error between a target vector and a prediction vector.
func Rmse(target, prediction []float64) float64 {
	if len(target) != len(prediction) {
		log.Panic("target and prediction have different lengths")
	}
	s := 0.0
	for i := range target {
		d := target[i] - prediction[i]
		s += d * d
	}
	return math.Sqrt(s / float64(len(target)))
}
