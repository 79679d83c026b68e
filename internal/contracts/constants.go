package contracts

// Exchanges
const (
	ExchangeLocationFanout = "location_fanout"
)

// Queues
const (
	QueueLocationHistory = "location_updates_history"
	QueueBusArrivals     = "bus_arrivals"
)

// Producer identifies this service in mirrored AMQP messages.
const Producer = "tracker-service"
