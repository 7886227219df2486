package models

// InputRow binds variable names to values for one execution of a chain
type InputRow map[string]string

// Clone returns a copy the caller may mutate
func (r InputRow) Clone() InputRow {
	out := make(InputRow, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
