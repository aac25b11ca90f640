package interfaces

// ConnectionRegistry is the process-wide participant -> live connection map
// that sessions register themselves in.
type ConnectionRegistry interface {
	// Register installs conn as the live connection for id, superseding any
	// previous one.
	Register(id int64, conn Connection) error

	// Unregister removes id only while it still points at conn.
	Unregister(id int64, conn Connection) bool

	// SendTo writes payload to id's live connection and reports whether the
	// write was accepted. It never fails the caller.
	SendTo(id int64, payload any) bool
}
