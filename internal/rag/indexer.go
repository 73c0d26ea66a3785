// Package rag provides the context-document indexer consumed at connect
// time. Indexing is asynchronous: handing documents over never blocks the
// connect path, and searches against a partially built index simply see
// fewer documents.
package rag

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Document is one context document handed to the indexer.
type Document struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Result is a scored document reference.
type Result struct {
	ID    string
	Name  string
	Score int
}

// Indexer accepts documents and answers term queries.
type Indexer interface {
	Index(docs []Document)
	Search(query string, limit int) []Result
	Ready() bool
}

// Memory is an in-memory inverted-index implementation of Indexer.
type Memory struct {
	logger *zap.Logger

	mu      sync.RWMutex
	byTerm  map[string]map[string]int
	names   map[string]string
	pending sync.WaitGroup
	ready   bool
}

// NewMemory creates an empty in-memory indexer.
func NewMemory(logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{
		logger: logger,
		byTerm: make(map[string]map[string]int),
		names:  make(map[string]string),
	}
}

// Index ingests docs in the background and returns immediately.
func (m *Memory) Index(docs []Document) {
	if len(docs) == 0 {
		m.mu.Lock()
		m.ready = true
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	m.ready = false
	m.mu.Unlock()

	m.pending.Add(1)
	go func() {
		defer m.pending.Done()
		for _, doc := range docs {
			m.ingest(doc)
		}
		m.mu.Lock()
		m.ready = true
		m.mu.Unlock()
		m.logger.Debug("context documents indexed", zap.Int("count", len(docs)))
	}()
}

// Ready reports whether all handed-over documents have been ingested.
func (m *Memory) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

// Wait blocks until in-flight ingestion completes. Test helper.
func (m *Memory) Wait() {
	m.pending.Wait()
}

// Search returns up to limit documents matching the query terms, best first.
func (m *Memory) Search(query string, limit int) []Result {
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil
	}
	if limit <= 0 {
		limit = 5
	}

	m.mu.RLock()
	scores := make(map[string]int)
	for _, term := range terms {
		for id, count := range m.byTerm[term] {
			scores[id] += count
		}
	}
	results := make([]Result, 0, len(scores))
	for id, score := range scores {
		results = append(results, Result{ID: id, Name: m.names[id], Score: score})
	}
	m.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func (m *Memory) ingest(doc Document) {
	terms := tokenize(doc.Content + " " + doc.Name)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names[doc.ID] = doc.Name
	for _, term := range terms {
		postings, ok := m.byTerm[term]
		if !ok {
			postings = make(map[string]int)
			m.byTerm[term] = postings
		}
		postings[doc.ID]++
	}
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	terms := fields[:0]
	for _, field := range fields {
		if len(field) >= 2 {
			terms = append(terms, field)
		}
	}
	return terms
}
