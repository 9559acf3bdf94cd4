package types

import "fmt"

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int64   `json:"shape"`
	Data  []float32 `json:"data"`
}

func NewTensor(data []float32, shape ...int64) (*Tensor, error) {
	size := int64(1)
	for _, d := range shape {
		size *= d
	}
	if size != int64(len(data)) {
		return nil, fmt.Errorf("tensor shape %v requires %d elements, got %d", shape, size, len(data))
	}
	return &Tensor{Shape: shape, Data: data}, nil
}

// Row returns the innermost vector at the given leading indices.
func (t *Tensor) Row(indices ...int) []float32 {
	if len(indices) != len(t.Shape)-1 {
		panic(fmt.Sprintf("tensor of rank %d indexed with %d indices", len(t.Shape), len(indices)))
	}
	inner := int(t.Shape[len(t.Shape)-1])
	offset := 0
	stride := inner
	for i := len(indices) - 1; i >= 0; i-- {
		offset += indices[i] * stride
		stride *= int(t.Shape[i])
	}
	return t.Data[offset : offset+inner]
}
