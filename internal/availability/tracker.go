// Package availability tracks whether the speech services can be used.
package availability

// ServiceKind identifies one of the speech services.
type ServiceKind int

const (
	ServiceListen ServiceKind = iota
	ServiceSay
)

// String returns the service name.
func (k ServiceKind) String() string {
	switch k {
	case ServiceListen:
		return "listen"
	case ServiceSay:
		return "say"
	default:
		return "unknown"
	}
}

// Tracker combines the listen and say availability reports into one verdict.
// Once both services are usable the verdict is permanent; once either is
// reported unusable the tracker stays unusable.
type Tracker struct {
	usable   [2]bool
	unusable [2]bool
	ready    bool
}

// NewTracker creates a tracker with no reports.
func NewTracker() *Tracker {
	return &Tracker{}
}

// MarkUsable records that kind reported itself usable.
func (t *Tracker) MarkUsable(kind ServiceKind) {
	if !valid(kind) || t.ready {
		return
	}
	t.usable[kind] = true
	t.ready = t.usable[ServiceListen] && t.usable[ServiceSay] && !t.Unusable()
}

// MarkUnusable records that kind reported itself unusable.
func (t *Tracker) MarkUnusable(kind ServiceKind) {
	if !valid(kind) {
		return
	}
	t.unusable[kind] = true
}

// FullyUsable reports whether both services are usable and neither has been
// reported unusable.
func (t *Tracker) FullyUsable() bool {
	return t.ready && !t.Unusable()
}

// Unusable reports whether any service was reported unusable.
func (t *Tracker) Unusable() bool {
	return t.unusable[ServiceListen] || t.unusable[ServiceSay]
}

// UnusableServices lists the services reported unusable.
func (t *Tracker) UnusableServices() []ServiceKind {
	var out []ServiceKind
	for _, k := range []ServiceKind{ServiceListen, ServiceSay} {
		if t.unusable[k] {
			out = append(out, k)
		}
	}
	return out
}

// Pending lists the services that have not reported usable yet.
func (t *Tracker) Pending() []ServiceKind {
	var out []ServiceKind
	for _, k := range []ServiceKind{ServiceListen, ServiceSay} {
		if !t.usable[k] {
			out = append(out, k)
		}
	}
	return out
}

func valid(kind ServiceKind) bool {
	return kind == ServiceListen || kind == ServiceSay
}
