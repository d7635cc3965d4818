package viphost

// Validator collects the first error found while validating a frame's fields
// against its buffer. Frames report into it through their Validate methods.
// The zero value is ready to use.
type Validator struct {
	err error
}

// HasError reports whether an error was added.
func (v *Validator) HasError() bool {
	return v.err != nil
}

// Err returns the first error added, or nil if there is none.
func (v *Validator) Err() error {
	return v.err
}

// AddError records err unless an earlier error was already recorded.
func (v *Validator) AddError(err error) {
	if err == nil {
		panic("error argument to AddError cannot be nil")
	} else if v.err != nil {
		return
	}
	v.err = err
}
