package chat

import (
	"log/slog"
	"sync"
)

// ViewManager tracks mounted views per screen. A screen holds at most one
// view per conversation.
type ViewManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*View
	logger *slog.Logger
}

// NewViewManager creates an empty manager.
func NewViewManager(logger *slog.Logger) *ViewManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ViewManager{
		active: make(map[string]map[string]*View),
		logger: logger,
	}
}

// Get returns the view registered for a screen and conversation.
func (m *ViewManager) Get(screenID, conversationID string) *View {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if views, ok := m.active[screenID]; ok {
		return views[conversationID]
	}
	return nil
}

// Register adds v, unmounting any other view already registered for the
// same screen and conversation.
func (m *ViewManager) Register(screenID, conversationID string, v *View) {
	m.mu.Lock()
	if _, exists := m.active[screenID]; !exists {
		m.active[screenID] = make(map[string]*View)
	}
	existing := m.active[screenID][conversationID]
	m.active[screenID][conversationID] = v
	m.mu.Unlock()

	if existing != nil && existing != v {
		existing.Unmount()
		m.logger.Info("Conversation view replaced", "screen_id", screenID, "conversation_id", conversationID)
	}
	m.logger.Info("Conversation view registered", "screen_id", screenID, "conversation_id", conversationID)
}

// Unregister removes v if it is still the registered view.
func (m *ViewManager) Unregister(screenID, conversationID string, v *View) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if views, ok := m.active[screenID]; ok {
		if current, exists := views[conversationID]; exists && current == v {
			delete(views, conversationID)
			if len(views) == 0 {
				delete(m.active, screenID)
			}
			m.logger.Info("Conversation view unregistered", "screen_id", screenID, "conversation_id", conversationID)
		}
	}
}

// CloseScreen unmounts every view of a screen.
func (m *ViewManager) CloseScreen(screenID string) {
	m.mu.Lock()
	views := m.active[screenID]
	delete(m.active, screenID)
	m.mu.Unlock()

	for id, v := range views {
		v.Unmount()
		m.logger.Info("Conversation view closed", "screen_id", screenID, "conversation_id", id)
	}
}

// CloseAll unmounts every view, e.g. on sign-out.
func (m *ViewManager) CloseAll() {
	m.mu.Lock()
	all := m.active
	m.active = make(map[string]map[string]*View)
	m.mu.Unlock()

	for _, views := range all {
		for _, v := range views {
			v.Unmount()
		}
	}
}

// Count returns the number of registered views.
func (m *ViewManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, views := range m.active {
		n += len(views)
	}
	return n
}
