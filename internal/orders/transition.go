package orders

// effect is the inventory side effect attached to a status edge.
type effect int

const (
	effectNone effect = iota
	effectReserve
	effectRelease
	effectConsume
	// effectReserveConsume completes an order that never held a reservation:
	// stock leaves sellable quantity exactly as if it had been accepted first.
	effectReserveConsume
)

func (e effect) String() string {
	switch e {
	case effectReserve:
		return "reserve"
	case effectRelease:
		return "release"
	case effectConsume:
		return "consume"
	case effectReserveConsume:
		return "reserve+consume"
	default:
		return "none"
	}
}

type edge struct {
	from Status
	to   Status
}

// transitions is the complete set of admin-driven status edges. Any pair not
// listed here is rejected. AWAITING_PAYMENT only leaves through ConfirmPayment.
var transitions = map[edge]effect{
	{StatusPending, StatusAccepted}:               effectReserve,
	{StatusPending, StatusDeclined}:               effectNone,
	{StatusPending, StatusCompleted}:              effectReserveConsume,
	{StatusAccepted, StatusDeclined}:              effectRelease,
	{StatusAccepted, StatusCancelled}:             effectRelease,
	{StatusAccepted, StatusPendingDelivery}:       effectNone,
	{StatusAccepted, StatusCompleted}:             effectConsume,
	{StatusPendingDelivery, StatusOutForDelivery}: effectNone,
	{StatusPendingDelivery, StatusCompleted}:      effectConsume,
	{StatusOutForDelivery, StatusCompleted}:       effectConsume,
}

func lookupTransition(from, to Status) (effect, bool) {
	eff, ok := transitions[edge{from: from, to: to}]
	return eff, ok
}

// CanTransition reports whether an admin may move an order from one status to another.
func CanTransition(from, to Status) bool {
	_, ok := lookupTransition(from, to)
	return ok
}
