package collab

// Identity is the resolved user behind a connection. The verifier resolves
// it once at handshake time and it stays immutable for the lifetime of the
// connection.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}
