// Package signal defines the unit of work that flows through the routing
// fabric: a Signal moving forward (stimulus) or backward (gradient) between
// neurons.
package signal

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Direction is the propagation direction of a Signal.
type Direction string

const (
	Forward  Direction = "forward"
	Backward Direction = "backward"
)

// HopMetadataKey is the metadata key the router uses to track hop depth for
// cycle protection.
const HopMetadataKey = "hop"

// Signal is the message passed between neurons by the router.
type Signal struct {
	ID        string
	BatchID   string
	FromUnit  string
	ToUnit    string
	Layer     string
	Direction Direction
	Content   string
	// Gradient carries the backward-signal payload; empty for forward signals.
	Gradient string
	Metadata map[string]string
	EmittedAt time.Time
}

// New builds a forward Signal with a fresh ID and the current timestamp.
func New(fromUnit, toUnit, layer, content string) Signal {
	return Signal{
		ID:        uuid.NewString(),
		FromUnit:  fromUnit,
		ToUnit:    toUnit,
		Layer:     layer,
		Direction: Forward,
		Content:   content,
		Metadata:  map[string]string{},
		EmittedAt: time.Now(),
	}
}

// Hops returns the current hop count recorded in Metadata, defaulting to 0.
func (s Signal) Hops() int {
	v, ok := s.Metadata[HopMetadataKey]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

// WithIncrementedHop returns a copy of s with its hop counter bumped by one.
func (s Signal) WithIncrementedHop() Signal {
	next := s
	next.Metadata = make(map[string]string, len(s.Metadata)+1)
	for k, v := range s.Metadata {
		next.Metadata[k] = v
	}
	next.Metadata[HopMetadataKey] = strconv.Itoa(s.Hops() + 1)
	return next
}
