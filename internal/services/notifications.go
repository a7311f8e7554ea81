package services

import "netguard-console/internal/models"

// Broadcaster receives console updates for presentation (e.g. WebSocket fan-out).
// Implemented by handlers.WebSocketHandler to avoid package cycles.
//
// Methods are called on the event loop and must not block.
type Broadcaster interface {
	SendAlert(alert models.Alert)
	SendAcknowledgement(id models.AlertID)
	SendStatistics(stats models.Statistics)
	SendConnectionState(state models.ConnectionState)
}
