package contextwindow

import (
	"time"

	"github.com/google/uuid"
)

func nowNano() int64 {
	return time.Now().UnixNano()
}

// uuidGenerator is the default IDGenerator, used when a Window is built
// without an injected one. Tests should inject a deterministic IDGenerator
// instead, per spec Design Notes.
type uuidGenerator struct{}

func (uuidGenerator) NewID() string {
	return uuid.New().String()
}
