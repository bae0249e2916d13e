package domain

import (
	"errors"
	"fmt"
)

// SparseVector is a hashed bag-of-words vector. Indices are strictly
// increasing and unique; values align one-to-one with indices. Encoding the
// same text twice must produce identical vectors.
type SparseVector struct {
	Indices []uint32  `json:"indices"`
	Values  []float64 `json:"values"`
}

func (v *SparseVector) Len() int {
	if v == nil {
		return 0
	}
	return len(v.Indices)
}

func (v *SparseVector) Validate() error {
	if v == nil {
		return nil
	}
	if len(v.Indices) != len(v.Values) {
		return fmt.Errorf("sparse vector length mismatch: %d indices, %d values", len(v.Indices), len(v.Values))
	}
	for i := 1; i < len(v.Indices); i++ {
		if v.Indices[i] <= v.Indices[i-1] {
			return errors.New("sparse vector indices not strictly increasing")
		}
	}
	return nil
}
