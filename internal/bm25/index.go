// Package bm25 provides per-user Okapi BM25 retrieval over the chunk
// corpus. The index is process-local; corpora are swapped wholesale under a
// writer lock while reads keep serving the previous snapshot.
package bm25

import (
	"math"
	"sort"
	"sync"
	"time"
)

const (
	k1 = 1.5
	b  = 0.75
)

// Document is one indexed chunk
type Document struct {
	FileID     string
	FileName   string
	ChunkIndex int
	Text       string
}

// Result is a scored document returned by Search
type Result struct {
	Document
	Score float64
}

type posting struct {
	doc int
	tf  int
}

// userCorpus is an immutable per-user snapshot; replaced, never mutated
type userCorpus struct {
	docs     []Document
	docLens  []int
	avgdl    float64
	postings map[string][]posting
	loadedAt time.Time
}

// Index holds one corpus snapshot per user
type Index struct {
	mu    sync.RWMutex
	users map[string]*userCorpus
}

// New creates an empty index
func New() *Index {
	return &Index{users: make(map[string]*userCorpus)}
}

// ReplaceUser rebuilds the user's corpus from docs and swaps it in.
// Building happens outside the lock; only the pointer swap is guarded.
func (ix *Index) ReplaceUser(userID string, docs []Document) {
	corpus := buildCorpus(docs)

	ix.mu.Lock()
	ix.users[userID] = corpus
	ix.mu.Unlock()
}

// DropUser removes the user's corpus
func (ix *Index) DropUser(userID string) {
	ix.mu.Lock()
	delete(ix.users, userID)
	ix.mu.Unlock()
}

// LoadedAt reports when the user's corpus was last replaced
func (ix *Index) LoadedAt(userID string) (time.Time, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	corpus, ok := ix.users[userID]
	if !ok {
		return time.Time{}, false
	}
	return corpus.loadedAt, true
}

// Search returns the top-limit documents for the query, ordered by
// descending BM25 score. An empty or missing corpus returns nil.
func (ix *Index) Search(userID, query string, limit int) []Result {
	ix.mu.RLock()
	corpus := ix.users[userID]
	ix.mu.RUnlock()

	if corpus == nil || len(corpus.docs) == 0 || limit <= 0 {
		return nil
	}

	terms := Tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	n := float64(len(corpus.docs))
	scores := make(map[int]float64)

	for _, term := range terms {
		plist := corpus.postings[term]
		if len(plist) == 0 {
			continue
		}
		df := float64(len(plist))
		idf := math.Log((n-df+0.5)/(df+0.5) + 1)

		for _, p := range plist {
			tf := float64(p.tf)
			norm := 1 - b + b*float64(corpus.docLens[p.doc])/corpus.avgdl
			scores[p.doc] += idf * tf * (k1 + 1) / (tf + k1*norm)
		}
	}

	if len(scores) == 0 {
		return nil
	}

	results := make([]Result, 0, len(scores))
	for doc, score := range scores {
		results = append(results, Result{Document: corpus.docs[doc], Score: score})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].FileName != results[j].FileName {
			return results[i].FileName < results[j].FileName
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

func buildCorpus(docs []Document) *userCorpus {
	corpus := &userCorpus{
		docs:     docs,
		docLens:  make([]int, len(docs)),
		postings: make(map[string][]posting),
		loadedAt: time.Now(),
	}

	var total int
	for i, doc := range docs {
		tokens := Tokenize(doc.Text)
		corpus.docLens[i] = len(tokens)
		total += len(tokens)

		counts := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			counts[tok]++
		}
		for term, tf := range counts {
			corpus.postings[term] = append(corpus.postings[term], posting{doc: i, tf: tf})
		}
	}

	if len(docs) > 0 {
		corpus.avgdl = float64(total) / float64(len(docs))
	}
	if corpus.avgdl == 0 {
		// All-stopword corpus; avoid division by zero in scoring
		corpus.avgdl = 1
	}
	return corpus
}
