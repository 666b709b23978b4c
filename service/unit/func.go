package unit

// StepFunc does one step of work and returns the value it produced.
type StepFunc func(deadline Deadline) (value float64, err error)

// Func is a continuous unit backed by a plain function.
type Func struct {
	*Base

	fn StepFunc
}

// NewFunc returns a continuous unit that calls fn on every step.
func NewFunc(id string, singleton bool, fn StepFunc) *Func {
	return &Func{
		Base: NewBase(id, singleton),
		fn:   fn,
	}
}

// Step calls the function and records the value it produced.
// A failed step produces no value.
func (f *Func) Step(deadline Deadline) error {
	value, err := f.fn(deadline)
	if err != nil {
		return err
	}
	f.AddValue(value)
	return nil
}
