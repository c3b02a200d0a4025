package gateway

import (
	"context"
	"sync"

	"github.com/haasonsaas/loom/internal/session"
)

// AgentFactory builds the session agent for a conversation id.
type AgentFactory func(conversationID string) *session.Agent

// Registry maps conversation ids to their live session agents, creating
// them on first use. One agent exists per conversation; all connections
// attached to the same conversation share it.
type Registry struct {
	mu       sync.Mutex
	agents   map[string]*session.Agent
	newAgent AgentFactory
}

// NewRegistry creates a registry backed by the given factory.
func NewRegistry(newAgent AgentFactory) *Registry {
	return &Registry{
		agents:   make(map[string]*session.Agent),
		newAgent: newAgent,
	}
}

// Get returns the agent for the conversation, creating it if needed.
func (r *Registry) Get(conversationID string) *session.Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.agents[conversationID]
	if !ok {
		agent = r.newAgent(conversationID)
		r.agents[conversationID] = agent
	}
	return agent
}

// Shutdown cancels every in-flight run and waits for cleanup, bounded by
// ctx. The first error is returned but every agent is still shut down.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	agents := make([]*session.Agent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, a)
	}
	r.mu.Unlock()

	var first error
	for _, a := range agents {
		if err := a.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}
