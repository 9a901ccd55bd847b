package services

// CronbachAlpha estimates internal consistency of a [respondents][questions]
// matrix using population variance throughout, so perfectly correlated
// columns give 1. Fewer than two columns, ragged rows or zero total variance
// give 0. The result is clamped to [0, 1].
func CronbachAlpha(matrix [][]float64) float64 {
	n := len(matrix)
	if n == 0 {
		return 0
	}
	k := len(matrix[0])
	if k < 2 {
		return 0
	}
	columns := make([][]float64, k)
	totals := make([]float64, n)
	for i, row := range matrix {
		if len(row) != k {
			return 0
		}
		for j, v := range row {
			columns[j] = append(columns[j], v)
			totals[i] += v
		}
	}
	totalVar := variance(totals)
	if totalVar == 0 {
		return 0
	}
	var sumVar float64
	for _, col := range columns {
		sumVar += variance(col)
	}
	kf := float64(k)
	alpha := kf / (kf - 1) * (1 - sumVar/totalVar)
	switch {
	case alpha < 0:
		return 0
	case alpha > 1:
		return 1
	}
	return alpha
}

func variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var sum float64
	for _, x := range xs {
		d := x - mean
		sum += d * d
	}
	return sum / float64(len(xs))
}
