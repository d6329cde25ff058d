package booking

import "time"

// State is the per-call booking slot-fill. Fields are set once; Fill* never
// overwrites a non-empty value.
type State struct {
	Service   string
	When      *time.Time
	Name      string
	Phone     string
	Confirmed bool
	BookingID string

	// Accepted holds a provider booking whose local record could not be
	// saved. The next attempt saves it without asking the provider again.
	Accepted *Accepted
}

// Accepted is a provider's yes for one booking request.
type Accepted struct {
	Provider string
	Context  Context
	Result   Result
}

func (s *State) FillService(v string) bool {
	if s.Service != "" || v == "" {
		return false
	}
	s.Service = v
	return true
}

func (s *State) FillWhen(v *time.Time) bool {
	if s.When != nil || v == nil {
		return false
	}
	t := *v
	s.When = &t
	return true
}

func (s *State) FillName(v string) bool {
	if s.Name != "" || v == "" {
		return false
	}
	s.Name = v
	return true
}

func (s *State) FillPhone(v string) bool {
	if s.Phone != "" || v == "" {
		return false
	}
	s.Phone = v
	return true
}

// Confirm records the created booking. It is a no-op after the first call.
func (s *State) Confirm(bookingID string) {
	if s.Confirmed {
		return
	}
	s.Confirmed = true
	s.BookingID = bookingID
}
