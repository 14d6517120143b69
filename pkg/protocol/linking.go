package protocol

// Linking modes accepted by POST /api/pairing.
const (
	ModePairing = "pairing"
	ModeQR      = "qr"
)

// Status values returned by linking responses.
const (
	StatusOK        = "ok"
	StatusConnected = "connected"
)
