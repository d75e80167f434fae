package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lysyi3m/event-comb/app/database"
	"github.com/lysyi3m/event-comb/app/images"
)

// memoryEvents is an in-memory EventRepository with the same uniqueness and
// image guards as the SQL implementation.
type memoryEvents struct {
	mu     sync.Mutex
	events map[string]*database.Event
	order  []string
}

func newMemoryEvents() *memoryEvents {
	return &memoryEvents{events: make(map[string]*database.Event)}
}

func (m *memoryEvents) sorted() []*database.Event {
	out := make([]*database.Event, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.events[id])
	}
	return out
}

func (m *memoryEvents) GetEventByContentKey(ctx context.Context, contentKey string) (*database.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.ContentKey == contentKey {
			copied := *e
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memoryEvents) GetEventByURL(ctx context.Context, url string) (*database.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.sorted() {
		if e.URL == url {
			copied := *e
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memoryEvents) GetEventsByDay(ctx context.Context, day string) ([]database.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []database.Event
	for _, e := range m.sorted() {
		if e.EventDay == day {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *memoryEvents) GetEventCount(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events), nil
}

func (m *memoryEvents) GetSourceEventCount(ctx context.Context, sourceID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, e := range m.events {
		if e.SourceID == sourceID {
			count++
		}
	}
	return count, nil
}

func (m *memoryEvents) InsertEventIfAbsent(ctx context.Context, event *database.Event) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.ContentKey == event.ContentKey {
			return false, nil
		}
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.CreatedAt = time.Now()
	event.UpdatedAt = event.CreatedAt
	copied := *event
	m.events[event.ID] = &copied
	m.order = append(m.order, event.ID)
	return true, nil
}

func (m *memoryEvents) UpdateEventSchedule(ctx context.Context, id string, schedule database.Schedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for otherID, e := range m.events {
		if otherID != id && e.ContentKey == schedule.ContentKey {
			return database.ErrContentKeyConflict
		}
	}
	if e, ok := m.events[id]; ok {
		e.EventDate = schedule.EventDate
		e.StartDate = schedule.StartDate
		e.EndDate = schedule.EndDate
		e.EventDay = schedule.EventDay
		e.ContentKey = schedule.ContentKey
	}
	return nil
}

func (m *memoryEvents) UpdateEventImage(ctx context.Context, id string, image string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[id]
	if !ok || images.IsLocal(e.Image) {
		return false, nil
	}
	e.Image = image
	return true, nil
}

func (m *memoryEvents) all() []database.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []database.Event
	for _, e := range m.sorted() {
		out = append(out, *e)
	}
	return out
}
