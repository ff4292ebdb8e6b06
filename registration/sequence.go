package registration

import "gonum.org/v1/gonum/mat"

// TransformSequence lazily yields the transform estimates of an InstanceRegistration: the estimate
// it started from, then one per step. It cannot be restarted and the consumer may stop calling
// Next at any time.
//
//	seq := reg.Sequence(100)
//	for seq.Next() {
//		publish(seq.Transform())
//	}
//	if err := seq.Err(); err != nil {
//		...
//	}
type TransformSequence struct {
	reg       *InstanceRegistration
	remaining int
	started   bool
	done      bool
	current   *mat.Dense
	err       error
}

// Next advances the sequence, stepping the registration for every element after the first. It
// returns false once the budget is spent or a step failed.
func (s *TransformSequence) Next() bool {
	if s.done {
		return false
	}
	if !s.started {
		s.started = true
		s.current = s.reg.Transform()
		return true
	}
	if s.remaining <= 0 {
		s.done = true
		return false
	}
	s.remaining--
	if err := s.reg.Step(); err != nil {
		s.err = err
		s.done = true
		return false
	}
	s.current = s.reg.Transform()
	return true
}

// Transform returns the element Next moved to.
func (s *TransformSequence) Transform() *mat.Dense {
	return s.current
}

// Err returns the step error that ended the sequence, if any.
func (s *TransformSequence) Err() error {
	return s.err
}
