package unitsource

import (
	"fmt"
	"strings"
	"sync"

	"harvester/pkg/ledger"
	"harvester/pkg/logger"
	"harvester/pkg/models"
)

// QueueOptions configures a KeywordQueue
type QueueOptions struct {
	// Seeds populate the todo ledger the first time it is created
	Seeds []string
	// Generators refill the queue when the todo ledger runs dry, in order
	Generators []Generator
	// MaxRefills bounds generator rounds per run
	MaxRefills int
}

// KeywordQueue is a Source over two disjoint keyword ledgers, todo and done.
//
// Next leases the head of todo without removing it. Complete appends the
// keyword to done and only then rewrites todo without it, so a crash between
// the two writes leaves the keyword in both files; Open resolves that by
// dropping done keywords from todo.
type KeywordQueue struct {
	mu         sync.Mutex
	todo       *ledger.List
	done       *ledger.Set
	items      []string
	origins    map[string]models.Origin
	leased     map[string]struct{}
	generators []Generator
	maxRefills int
	refills    int
	logger     logger.Logger
}

// OpenKeywordQueue loads the todo and done ledgers, seeding todo when it does not exist yet
func OpenKeywordQueue(todoPath, donePath string, opts QueueOptions, log logger.Logger) (*KeywordQueue, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	done, err := ledger.Open(donePath)
	if err != nil {
		return nil, err
	}

	q := &KeywordQueue{
		todo:       ledger.NewList(todoPath),
		done:       done,
		origins:    make(map[string]models.Origin),
		leased:     make(map[string]struct{}),
		generators: opts.Generators,
		maxRefills: opts.MaxRefills,
		logger:     log.WithField("component", "keyword_queue"),
	}

	stored, exists, err := q.todo.Load()
	if err != nil {
		done.Close()
		return nil, err
	}

	origin := models.OriginExplicit
	if !exists {
		stored = opts.Seeds
		q.logger.InfoWithFields("Seeding keyword queue", map[string]interface{}{
			"seeds": len(opts.Seeds),
		})
	}

	seen := make(map[string]struct{}, len(stored))
	for _, raw := range stored {
		kw := cleanKeyword(raw)
		if kw == "" || done.Contains(kw) {
			continue
		}
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		q.items = append(q.items, kw)
		q.origins[kw] = origin
	}

	if !exists || len(q.items) != len(stored) {
		if err := q.todo.Rewrite(q.items); err != nil {
			done.Close()
			return nil, err
		}
		if exists {
			q.logger.InfoWithFields("Removed duplicate and completed keywords", map[string]interface{}{
				"before": len(stored),
				"after":  len(q.items),
			})
		}
	}

	q.logger.InfoWithFields("Keyword queue loaded", map[string]interface{}{
		"todo": len(q.items),
		"done": done.Len(),
	})
	return q, nil
}

// Next leases the first todo keyword not already leased
func (q *KeywordQueue) Next() (models.Unit, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		for _, kw := range q.items {
			if _, ok := q.leased[kw]; ok {
				continue
			}
			q.leased[kw] = struct{}{}
			return models.KeywordUnit(kw, q.originOf(kw)), true
		}
		if !q.refillLocked() {
			return models.Unit{}, false
		}
	}
}

// refillLocked asks the generators for new keywords. The first generator
// that yields anything wins the round.
func (q *KeywordQueue) refillLocked() bool {
	if len(q.generators) == 0 || q.refills >= q.maxRefills {
		return false
	}
	q.refills++

	for _, g := range q.generators {
		keywords, err := g.Generate(q.knownLocked)
		if err != nil {
			q.logger.WithError(err).WarnWithFields("Keyword generator failed", map[string]interface{}{
				"generator": g.Name(),
			})
			continue
		}
		added, err := q.addLocked(keywords, models.OriginGenerated)
		if err != nil {
			q.logger.WithError(err).Error("Failed to persist generated keywords")
			return false
		}
		if added > 0 {
			q.logger.InfoWithFields("Keyword queue refilled", map[string]interface{}{
				"generator": g.Name(),
				"added":     added,
				"round":     q.refills,
			})
			return true
		}
	}

	q.logger.InfoWithFields("Keyword generators produced nothing new", map[string]interface{}{
		"round": q.refills,
	})
	return false
}

// Complete moves a keyword from todo to done
func (q *KeywordQueue) Complete(u models.Unit) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	kw := cleanKeyword(u.Value)
	delete(q.leased, kw)

	if _, err := q.done.Add(kw); err != nil {
		return fmt.Errorf("failed to mark keyword %q done: %w", kw, err)
	}

	idx := q.indexLocked(kw)
	if idx < 0 {
		return nil
	}
	q.items = append(q.items[:idx:idx], q.items[idx+1:]...)
	delete(q.origins, kw)

	if err := q.todo.Rewrite(q.items); err != nil {
		return fmt.Errorf("failed to rewrite todo after completing %q: %w", kw, err)
	}
	return nil
}

// Release returns a leased keyword to the queue
func (q *KeywordQueue) Release(u models.Unit) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.leased, cleanKeyword(u.Value))
}

// Remaining returns the number of todo keywords not currently leased
func (q *KeywordQueue) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - len(q.leased)
}

// AddMany appends keywords that are in neither ledger and returns how many were added
func (q *KeywordQueue) AddMany(keywords []string, origin models.Origin) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.addLocked(keywords, origin)
}

func (q *KeywordQueue) addLocked(keywords []string, origin models.Origin) (int, error) {
	added := 0
	for _, raw := range keywords {
		kw := cleanKeyword(raw)
		if kw == "" || q.knownLocked(kw) {
			continue
		}
		q.items = append(q.items, kw)
		q.origins[kw] = origin
		added++
	}
	if added == 0 {
		return 0, nil
	}
	if err := q.todo.Rewrite(q.items); err != nil {
		q.items = q.items[:len(q.items)-added]
		return 0, err
	}
	return added, nil
}

// Requeue moves done keywords back to todo.
// Todo is written before done is rewritten so a keyword is never in neither ledger.
func (q *KeywordQueue) Requeue(keywords []string) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var moved []string
	for _, raw := range keywords {
		kw := cleanKeyword(raw)
		if kw == "" || !q.done.Contains(kw) || q.indexLocked(kw) >= 0 {
			continue
		}
		q.items = append(q.items, kw)
		q.origins[kw] = models.OriginExplicit
		moved = append(moved, kw)
	}
	if len(moved) == 0 {
		return 0, nil
	}

	if err := q.todo.Rewrite(q.items); err != nil {
		q.items = q.items[:len(q.items)-len(moved)]
		return 0, err
	}
	if err := q.done.Remove(moved...); err != nil {
		return 0, fmt.Errorf("requeued keywords are still listed as done: %w", err)
	}
	return len(moved), nil
}

// Todo returns the pending keywords in order
func (q *KeywordQueue) Todo() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.items...)
}

// Done returns the completed keywords in completion order
func (q *KeywordQueue) Done() []string {
	return q.done.Items()
}

// Close releases the done ledger
func (q *KeywordQueue) Close() error {
	return q.done.Close()
}

func (q *KeywordQueue) knownLocked(kw string) bool {
	return q.done.Contains(kw) || q.indexLocked(kw) >= 0
}

func (q *KeywordQueue) indexLocked(kw string) int {
	if _, ok := q.origins[kw]; !ok {
		return -1
	}
	for i, item := range q.items {
		if item == kw {
			return i
		}
	}
	return -1
}

func (q *KeywordQueue) originOf(kw string) models.Origin {
	if origin, ok := q.origins[kw]; ok {
		return origin
	}
	return models.OriginExplicit
}

func cleanKeyword(kw string) string {
	return strings.Join(strings.Fields(kw), " ")
}
