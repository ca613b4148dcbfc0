package policy

// Gate answers permission questions about an owner. It is consulted before
// a request reaches the switch coordinator.
type Gate interface {
	CanCreate(ownerID, name string) bool
	// MaxProfiles returns the profile limit; negative means unlimited.
	MaxProfiles(ownerID string) int
	CanBypassCombat(ownerID string) bool
	CanBypassWarmup(ownerID string) bool
}

const DefaultMaxProfiles = 1

// StaticGate applies one limit to everyone. Admins may bypass combat and
// warmup and are not limited.
type StaticGate struct {
	Limit  int
	Admins map[string]bool
}

func NewStaticGate(limit int, admins ...string) *StaticGate {
	g := &StaticGate{Limit: limit, Admins: make(map[string]bool, len(admins))}
	for _, id := range admins {
		g.Admins[id] = true
	}
	return g
}

func (g *StaticGate) CanCreate(string, string) bool { return true }

func (g *StaticGate) MaxProfiles(ownerID string) int {
	if g.Admins[ownerID] {
		return -1
	}
	return g.Limit
}

func (g *StaticGate) CanBypassCombat(ownerID string) bool { return g.Admins[ownerID] }

func (g *StaticGate) CanBypassWarmup(ownerID string) bool { return g.Admins[ownerID] }

// LimitReached reports whether an owner holding count profiles may not
// create another.
func LimitReached(limit, count int) bool {
	return limit >= 0 && count >= limit
}
