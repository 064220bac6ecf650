package session

import "time"

// DefaultCodeTTL is how long a session code stays usable after creation.
const DefaultCodeTTL = 10 * time.Minute

// Status is the lifecycle state of a session code.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusMatched Status = "matched"
	StatusExpired Status = "expired"
)

// Code is a snapshot of a session code entry.
type Code struct {
	Code           string    `json:"sessionCode"`
	ProducerConnID string    `json:"producerId"`
	GameID         string    `json:"gameId"`
	SensorConnID   string    `json:"sensorId,omitempty"`
	DeviceID       string    `json:"deviceId,omitempty"`
	SessionID      string    `json:"sessionId,omitempty"`
	Status         Status    `json:"status"`
	CreatedAt      time.Time `json:"createdAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	LastActivity   time.Time `json:"lastActivity"`
}

// Session is the result of a successful match.
type Session struct {
	ID             string    `json:"sessionId"`
	Code           string    `json:"sessionCode"`
	ProducerConnID string    `json:"producerId"`
	SensorConnID   string    `json:"sensorId"`
	DeviceID       string    `json:"deviceId"`
	GameID         string    `json:"gameId"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivity   time.Time `json:"lastActivity"`
}

// Peer returns the connection on the other side of connID.
func (s Session) Peer(connID string) string {
	if connID == s.ProducerConnID {
		return s.SensorConnID
	}
	return s.ProducerConnID
}
