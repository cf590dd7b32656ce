package webhook

// immediateEvents are the balance-mutating flows that should land as soon as
// the message is consumed.
var immediateEvents = map[string]struct{}{
	EventNameDeposit:          {},
	EventNameWithdrawal:       {},
	EventNameFundsAllocated:   {},
	EventNamePositionCreated:  {},
	EventNamePositionRedeemed: {},
	EventNameEarlyExit:        {},
	EventNamePoolAnnounced:    {},
}

// Classify maps an event name to its processing lane. Unknown names go to
// the delayed lane rather than being dropped, so contract upgrades that add
// events degrade gracefully instead of silently losing data.
func Classify(eventName string) Priority {
	if _, ok := immediateEvents[eventName]; ok {
		return PriorityImmediate
	}
	return PriorityDelayed
}

// Subject returns the stream subject for a priority lane
func (p Priority) Subject() string {
	return "pool.events." + string(p)
}
