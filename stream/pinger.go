package stream

import (
	"time"

	"tickflow/logger"
	"tickflow/subscription"
	"tickflow/ws"
)

// SchedulePings emits exchange-specific application-level pings on a fixed
// interval, feeding the same outbound queue the transformer uses. Only spawned
// for connectors that declare a custom ping policy; protocol-level pings are
// the transport's concern.
//
// The payload is generated at tick time, not precomputed, so payloads carrying
// timestamps stay fresh. The task terminates once the stream shuts down.
func SchedulePings(exchange subscription.ExchangeID, outbound chan<- ws.Message, p PingInterval, stop <-chan struct{}) {
	log := logger.GetLogger().WithComponent("pinger").WithFields(logger.Fields{"exchange": string(exchange)})

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			msg := p.Ping()
			select {
			case outbound <- msg:
				log.Debug("scheduled application-level ping")
			case <-stop:
				return
			}
		}
	}
}
