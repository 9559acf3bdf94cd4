package types

// IgnoreIndex marks label positions excluded from the loss.
const IgnoreIndex = -100

// Inputs is a padded batch of encoded sequences.
type Inputs struct {
	InputIDs      [][]int64
	AttentionMask [][]int64
	TokenTypeIDs  [][]int64
	// Labels holds a class id per token, IgnoreIndex for positions that do
	// not contribute to the loss. Nil disables the loss.
	Labels [][]int64

	OutputHiddenStates bool
	OutputAttentions   bool
}

func (in *Inputs) BatchSize() int {
	return len(in.InputIDs)
}

func (in *Inputs) SeqLen() int {
	if len(in.InputIDs) == 0 {
		return 0
	}
	return len(in.InputIDs[0])
}

// TokenClassifierOutput is what a token classification backbone returns.
type TokenClassifierOutput struct {
	Loss         *float32
	Logits       *Tensor
	HiddenStates []*Tensor
	Attentions   []*Tensor
}

// AttentionTokenClassificationOutput is the result of the Veco token
// classification model.
type AttentionTokenClassificationOutput struct {
	Loss         *float32  `json:"loss,omitempty"`
	Logits       *Tensor   `json:"logits"`
	HiddenStates []*Tensor `json:"hidden_states,omitempty"`
	Attentions   []*Tensor `json:"attentions,omitempty"`
}
