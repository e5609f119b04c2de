package events

import "strings"

const StatsQueue = "paperflow.stats"

// QueueFor returns the dedicated queue bound to kind.
func QueueFor(k Kind) string {
	return "paperflow." + strings.ToLower(string(k))
}

// Binding ties a queue to one routing key on the event exchange.
type Binding struct {
	Queue      string
	RoutingKey string
}

// Topology is the full set of queue bindings on the direct exchange: one queue
// per kind, plus the stats queue bound to every kind.
func Topology() []Binding {
	out := make([]Binding, 0, len(AllKinds)*2)
	for _, k := range AllKinds {
		out = append(out, Binding{Queue: QueueFor(k), RoutingKey: k.RoutingKey()})
	}
	for _, k := range AllKinds {
		out = append(out, Binding{Queue: StatsQueue, RoutingKey: k.RoutingKey()})
	}
	return out
}

// Queues returns the distinct queue names in Topology order.
func Queues() []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(AllKinds)+1)
	for _, b := range Topology() {
		if seen[b.Queue] {
			continue
		}
		seen[b.Queue] = true
		out = append(out, b.Queue)
	}
	return out
}
