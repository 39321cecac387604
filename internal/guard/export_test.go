package guard

import "time"

// SetNowFunc overrides the timestamp source.
func (g *Guard) SetNowFunc(now func() time.Time) { g.now = now }
