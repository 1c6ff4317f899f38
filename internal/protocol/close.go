package protocol

// WebSocket close codes sent to clients. 4xxx codes are application
// specific so clients can tell authentication from authorization failures.
const (
	CloseGoingAway        = 1001
	CloseSlowConsumer     = 1008
	CloseInternal         = 1011
	CloseKicked           = 4000
	CloseBadRoom          = 4400
	CloseUnauthenticated  = 4401
	CloseForbidden        = 4403
	CloseDuplicateSession = 4409
)
