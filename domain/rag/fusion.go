package rag

import (
	"math"
	"sort"
)

// rrfK dampens the contribution of lower ranks in reciprocal rank fusion
const rrfK = 60

// diversityDecay is the per-duplicate-file multiplier applied after fusion
const diversityDecay = 0.9

type chunkKey struct {
	fileID     string
	chunkIndex int
}

// fuseRRF merges a BM25 ranking and a vector ranking with reciprocal rank
// fusion: each chunk scores 1/(K+rank) per list it appears in, identity is
// (fileId, chunkIndex). The result is ordered by descending rrfScore with
// fusionRank assigned from that order; ties break by fusionRank then file
// name.
func fuseRRF(bm25Results, vectorResults []RetrievalResult) []RetrievalResult {
	merged := make(map[chunkKey]*RetrievalResult)
	order := make([]chunkKey, 0, len(bm25Results)+len(vectorResults))

	add := func(r RetrievalResult, rank int, label string) {
		key := chunkKey{r.FileID, r.ChunkIndex}
		entry, ok := merged[key]
		if !ok {
			copied := r
			copied.Score = 0
			copied.Source = "hybrid"
			merged[key] = &copied
			order = append(order, key)
			entry = &copied
		}
		entry.RRFScore += 1 / float64(rrfK+rank)
		entry.Sources = append(entry.Sources, label)
		switch label {
		case SourceBM25:
			entry.BM25Score = r.Score
		case SourceVector:
			entry.VectorScore = r.Score
		}
	}

	for i, r := range bm25Results {
		add(r, i+1, SourceBM25)
	}
	for i, r := range vectorResults {
		add(r, i+1, SourceVector)
	}

	fused := make([]RetrievalResult, 0, len(order))
	for _, key := range order {
		fused = append(fused, *merged[key])
	}

	sort.SliceStable(fused, func(i, j int) bool {
		if fused[i].RRFScore != fused[j].RRFScore {
			return fused[i].RRFScore > fused[j].RRFScore
		}
		return fused[i].FileName < fused[j].FileName
	})

	for i := range fused {
		fused[i].FusionRank = i + 1
		fused[i].Score = fused[i].RRFScore
	}
	return fused
}

// applyDiversityPenalty discounts each result's rrfScore by 0.9^n where n
// counts earlier results from the same file, then re-sorts stably. Strong
// same-file follow-ups survive; weak ones yield to other files.
func applyDiversityPenalty(results []RetrievalResult) []RetrievalResult {
	seen := make(map[string]int)
	for i := range results {
		n := seen[results[i].FileID]
		results[i].Score = results[i].RRFScore * math.Pow(diversityDecay, float64(n))
		seen[results[i].FileID]++
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}

// truncate caps the result list at topK
func truncate(results []RetrievalResult, topK int) []RetrievalResult {
	if len(results) > topK {
		return results[:topK]
	}
	return results
}
