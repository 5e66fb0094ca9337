package eligibility

import (
	"sync"
	"time"

	"github.com/LeventeLantos/promo-dispatch/internal/model"
	"github.com/LeventeLantos/promo-dispatch/internal/timezone"
)

// Locator picks the local zone of a subscriber: the stored zone, else the
// zone of the phone's area code, else the fallback.
type Locator struct {
	resolver *timezone.Resolver
	fallback *time.Location

	mu    sync.RWMutex
	cache map[string]*time.Location
}

func NewLocator(resolver *timezone.Resolver, fallback string) (*Locator, error) {
	loc, err := time.LoadLocation(fallback)
	if err != nil {
		return nil, err
	}
	return &Locator{
		resolver: resolver,
		fallback: loc,
		cache:    map[string]*time.Location{fallback: loc},
	}, nil
}

func (l *Locator) For(s *model.Subscriber) *time.Location {
	zone := s.Timezone
	if zone == "" {
		zone = l.resolver.Resolve(s.Phone)
	}
	if zone == timezone.Unknown {
		return l.fallback
	}
	return l.load(zone)
}

func (l *Locator) Fallback() *time.Location { return l.fallback }

func (l *Locator) load(zone string) *time.Location {
	l.mu.RLock()
	loc, ok := l.cache[zone]
	l.mu.RUnlock()
	if ok {
		return loc
	}

	loc, err := time.LoadLocation(zone)
	if err != nil {
		loc = l.fallback
	}

	l.mu.Lock()
	l.cache[zone] = loc
	l.mu.Unlock()
	return loc
}
