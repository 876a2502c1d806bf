package device

import "fmt"

// linkTo builds a reference setter for a slot holding a concrete type.
func linkTo[T Entity](owner, slot string, dst *T) LinkFunc {
	return func(target Entity) error {
		t, ok := target.(T)
		if !ok {
			var zero T
			return fmt.Errorf("%w: %s.%s wants %T, got %s (%s)",
				ErrInvalidLink, owner, slot, zero, target.Name(), target.Kind())
		}
		*dst = t
		return nil
	}
}

// linkMeter builds a reference setter for a meter that must carry c.
func linkMeter(owner, slot string, dst **Meter, c Commodity) LinkFunc {
	return func(target Entity) error {
		m, ok := target.(*Meter)
		if !ok {
			return fmt.Errorf("%w: %s.%s wants a meter, got %s (%s)",
				ErrInvalidLink, owner, slot, target.Name(), target.Kind())
		}
		if !m.Carries(c) {
			return fmt.Errorf("%w: %s.%s: meter %s does not carry %s",
				ErrInvalidLink, owner, slot, m.Name(), c)
		}
		*dst = m
		return nil
	}
}

func unitInterval(v any) error {
	f, _ := v.(float64)
	if f < 0 || f > 1 {
		return fmt.Errorf("%v outside [0, 1]", v)
	}
	return nil
}
