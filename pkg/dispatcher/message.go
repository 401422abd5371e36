package dispatcher

import (
	"github.com/Manzoomeh/BasisCore.Server.Edge-sub001/pkg/di"
)

// Message is the uniform envelope a listener hands to the dispatcher. The
// factory materializes the concrete context inside the scope the
// dispatcher creates for the message.
type Message struct {
	// SessionID identifies the originating connection or delivery
	SessionID string
	// Type is the context type the factory will produce
	Type ContextType
	// New builds a ready-to-process context within the given scope
	New func(scope *di.Provider) (Context, error)
}
