package stream

import (
	"tickflow/logger"
	"tickflow/metrics"
	"tickflow/subscription"
	"tickflow/ws"
)

// Distribute drains outbound control messages (custom pongs, resubscribes,
// scheduled pings) into the connection's send half. It runs as a background
// task for the lifetime of the connection.
//
// A send error against a detectably closed connection terminates the task
// silently. A transient error on an open connection drops that one message,
// logs it and keeps the loop alive.
func Distribute(exchange subscription.ExchangeID, conn ws.Conn, outbound <-chan ws.Message, stop <-chan struct{}) {
	log := logger.GetLogger().WithComponent("distributor").WithFields(logger.Fields{"exchange": string(exchange)})

	for {
		select {
		case <-stop:
			return
		case msg := <-outbound:
			if err := conn.WriteMessage(msg.Type, msg.Data); err != nil {
				if ws.IsDisconnect(err) {
					return
				}
				metrics.OutboundDroppedTotal.WithLabelValues(string(exchange)).Inc()
				log.WithError(err).Warn("failed to send outbound message, dropping")
			}
		}
	}
}
