package resolve

import (
	"sort"
	"strings"

	"github.com/agext/levenshtein"
	"github.com/google/uuid"

	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/common"
	"github.com/christianrvillarrealt/financial-knowledge-graph-builder-and-explorer/pkg/logger"
)

// DefaultThreshold is the pairwise similarity above which mentions
// merge into one canonical entity.
const DefaultThreshold = 0.85

// Resolver canonicalizes candidate mentions into entities and
// relationships. It keeps the resolved canon across calls, so a new
// batch merges into existing clusters without renumbering ids.
type Resolver struct {
	threshold float64
	params    *levenshtein.Params

	entities    map[string]*common.CanonicalEntity
	entityOrder []string
	byBlock     map[string][]string
	byName      map[string]string // normalized surface form -> entity id

	relationships map[string]*common.CanonicalRelationship
	relOrder      []string
}

func NewResolver(threshold float64) *Resolver {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Resolver{
		threshold:     threshold,
		params:        levenshtein.NewParams(),
		entities:      map[string]*common.CanonicalEntity{},
		byBlock:       map[string][]string{},
		byName:        map[string]string{},
		relationships: map[string]*common.CanonicalRelationship{},
	}
}

// Seed loads a previously resolved graph into the resolver so that
// subsequent batches merge into it.
func (r *Resolver) Seed(graph common.ResolvedGraph) {
	for i := range graph.Entities {
		entity := graph.Entities[i]
		r.entities[entity.ID] = &entity
		r.entityOrder = append(r.entityOrder, entity.ID)
		r.index(&entity)
	}
	for i := range graph.Relationships {
		rel := graph.Relationships[i]
		key := rel.SubjectID + "|" + rel.Type + "|" + rel.ObjectID
		r.relationships[key] = &rel
		r.relOrder = append(r.relOrder, key)
	}
}

func (r *Resolver) index(entity *common.CanonicalEntity) {
	// Aliases get their own block entries too: "AAPL" does not share a
	// block with "Apple Inc.", and fuzzy lookups scan by block.
	names := append([]string{entity.Name}, entity.Aliases...)
	for _, name := range names {
		key := normalizeName(name)
		if key == "" {
			continue
		}
		if _, taken := r.byName[key]; !taken {
			r.byName[key] = entity.ID
		}
		r.addToBlock(blockKey(name), entity.ID)
	}
}

func (r *Resolver) addToBlock(block, id string) {
	for _, existing := range r.byBlock[block] {
		if existing == id {
			return
		}
	}
	r.byBlock[block] = append(r.byBlock[block], id)
}

// Result is one Resolve invocation's output: the full canon so far
// plus the batch's data-quality counters.
type Result struct {
	Graph            common.ResolvedGraph
	DroppedMentions  int
	DroppedRelations int
}

// EntityID derives the stable canonical entity id from a name and
// type. The same pair always yields the same id, across runs.
func EntityID(name, entityType string) string {
	return uuid.NewSHA1(uuid.NameSpaceDNS, []byte(normalizeName(name)+"|"+entityType)).String()
}

// Resolve merges a batch of mentions and raw relations into the canon.
// Mentions with unusable names and relations with unresolvable
// endpoints are dropped and counted, never fatal.
func (r *Resolver) Resolve(mentions []common.CandidateMention, relations []common.CandidateRelation) Result {
	var result Result

	kept := make([]common.CandidateMention, 0, len(mentions))
	for _, mention := range mentions {
		if matchName(mention.Name) == "" {
			result.DroppedMentions++
			continue
		}
		kept = append(kept, mention)
	}
	// Mention ids are assigned in chunk order upstream; sorting makes
	// clustering independent of caller ordering.
	sort.Slice(kept, func(i, j int) bool { return kept[i].ID < kept[j].ID })

	clusters := r.cluster(kept)
	for _, cluster := range clusters {
		r.absorb(kept, cluster)
	}

	for _, relation := range relations {
		if !r.absorbRelation(relation) {
			result.DroppedRelations++
		}
	}

	result.Graph = r.Graph()
	logger.Debug("[Resolve] Batch resolved",
		"mentions", len(mentions), "entities", len(result.Graph.Entities),
		"relationships", len(result.Graph.Relationships),
		"dropped_mentions", result.DroppedMentions, "dropped_relations", result.DroppedRelations)
	return result
}

// Graph snapshots the current canon in deterministic order.
func (r *Resolver) Graph() common.ResolvedGraph {
	graph := common.ResolvedGraph{
		Entities:      make([]common.CanonicalEntity, 0, len(r.entityOrder)),
		Relationships: make([]common.CanonicalRelationship, 0, len(r.relOrder)),
	}
	for _, id := range r.entityOrder {
		graph.Entities = append(graph.Entities, *r.entities[id])
	}
	for _, key := range r.relOrder {
		graph.Relationships = append(graph.Relationships, *r.relationships[key])
	}
	return graph
}

// cluster runs blocking plus union-find over the batch and returns the
// member index lists, ordered by smallest member.
func (r *Resolver) cluster(mentions []common.CandidateMention) [][]int {
	uf := newUnionFind(len(mentions))

	blocks := map[string][]int{}
	for i, mention := range mentions {
		key := blockKey(mention.Name)
		blocks[key] = append(blocks[key], i)
	}

	for _, members := range blocks {
		for i := 0; i < len(members); i++ {
			for j := i + 1; j < len(members); j++ {
				a, b := mentions[members[i]], mentions[members[j]]
				if score(a.Name, a.Type, b.Name, b.Type, r.params) >= r.threshold {
					uf.union(members[i], members[j])
				}
			}
		}
	}

	grouped := uf.clusters()
	roots := make([]int, 0, len(grouped))
	for root := range grouped {
		roots = append(roots, root)
	}
	sort.Ints(roots)

	clusters := make([][]int, 0, len(roots))
	for _, root := range roots {
		clusters = append(clusters, grouped[root])
	}
	return clusters
}

// absorb folds one batch cluster into the canon, either merging it
// into an existing entity or minting a new one.
func (r *Resolver) absorb(mentions []common.CandidateMention, cluster []int) {
	name := canonicalName(mentions, cluster)
	entityType := canonicalType(mentions, cluster)

	target := r.match(name, entityType)
	if target == nil {
		id := EntityID(name, entityType)
		if existing, ok := r.entities[id]; ok {
			target = existing
		} else {
			target = &common.CanonicalEntity{ID: id, Name: name, Type: entityType}
			r.entities[id] = target
			r.entityOrder = append(r.entityOrder, id)
		}
	}

	for _, idx := range cluster {
		mention := mentions[idx]
		target.Mentions++
		if mention.Confidence > target.Confidence {
			target.Confidence = mention.Confidence
		}
		if mention.Name != target.Name && !containsString(target.Aliases, mention.Name) {
			target.Aliases = append(target.Aliases, mention.Name)
		}
		target.Provenance = append(target.Provenance, common.ProvenanceRecord{
			ArticleID: mention.ArticleID,
			ChunkID:   mention.ChunkID,
			MentionID: mention.ID,
		})
	}

	r.index(target)
}

// match looks for an existing canonical entity the cluster should
// merge into, scanning the block of the cluster's canonical name.
func (r *Resolver) match(name, entityType string) *common.CanonicalEntity {
	var best *common.CanonicalEntity
	bestScore := 0.0

	for _, id := range r.byBlock[blockKey(name)] {
		entity := r.entities[id]
		candidate := score(name, entityType, entity.Name, entity.Type, r.params)
		for _, alias := range entity.Aliases {
			if s := score(name, entityType, alias, entity.Type, r.params); s > candidate {
				candidate = s
			}
		}
		if candidate >= r.threshold && candidate > bestScore {
			best = entity
			bestScore = candidate
		}
	}
	return best
}

// canonicalName picks the most frequent surface form, breaking ties by
// the earliest mention in the cluster.
func canonicalName(mentions []common.CandidateMention, cluster []int) string {
	counts := map[string]int{}
	first := map[string]int{}
	for _, idx := range cluster {
		name := strings.TrimSpace(mentions[idx].Name)
		counts[name]++
		if _, seen := first[name]; !seen {
			first[name] = idx
		}
	}

	best := ""
	for name := range counts {
		if best == "" {
			best = name
			continue
		}
		if counts[name] > counts[best] ||
			(counts[name] == counts[best] && first[name] < first[best]) {
			best = name
		}
	}
	return best
}

// canonicalType picks the most frequent specific type; clusters with
// only generic mentions stay generic.
func canonicalType(mentions []common.CandidateMention, cluster []int) string {
	counts := map[string]int{}
	first := map[string]int{}
	for _, idx := range cluster {
		t := mentions[idx].Type
		if t == common.TypeEntity {
			continue
		}
		counts[t]++
		if _, seen := first[t]; !seen {
			first[t] = idx
		}
	}
	if len(counts) == 0 {
		return common.TypeEntity
	}

	best := ""
	for t := range counts {
		if best == "" {
			best = t
			continue
		}
		if counts[t] > counts[best] ||
			(counts[t] == counts[best] && first[t] < first[best]) {
			best = t
		}
	}
	return best
}

// absorbRelation canonicalizes a raw triple. Both endpoints must
// resolve to known entities.
func (r *Resolver) absorbRelation(relation common.CandidateRelation) bool {
	subject := r.lookup(relation.Subject)
	object := r.lookup(relation.Object)
	if subject == "" || object == "" || subject == object {
		return false
	}

	relType, inverted := normalizePredicate(relation.Predicate)
	if inverted {
		subject, object = object, subject
	}
	key := subject + "|" + relType + "|" + object

	rel, ok := r.relationships[key]
	if !ok {
		rel = &common.CanonicalRelationship{
			ID:        uuid.NewSHA1(uuid.NameSpaceDNS, []byte(key)).String(),
			SubjectID: subject,
			ObjectID:  object,
			Type:      relType,
		}
		r.relationships[key] = rel
		r.relOrder = append(r.relOrder, key)
	}

	// Mean confidence over all supports, recomputed on each merge.
	rel.Confidence = (rel.Confidence*float64(rel.Support) + relation.Confidence) / float64(rel.Support+1)
	rel.Support++
	rel.Provenance = append(rel.Provenance, common.ProvenanceRecord{
		ArticleID: relation.ArticleID,
		ChunkID:   relation.ChunkID,
	})
	return true
}

// lookup resolves a surface form to an entity id, by exact normalized
// name first and fuzzy block scan second.
func (r *Resolver) lookup(surface string) string {
	key := normalizeName(surface)
	if key == "" {
		return ""
	}
	if id, ok := r.byName[key]; ok {
		return id
	}

	bestID := ""
	bestScore := 0.0
	for _, id := range r.byBlock[blockKey(surface)] {
		entity := r.entities[id]
		candidate := score(surface, entity.Type, entity.Name, entity.Type, r.params)
		for _, alias := range entity.Aliases {
			if s := score(surface, entity.Type, alias, entity.Type, r.params); s > candidate {
				candidate = s
			}
		}
		if candidate >= r.threshold && candidate > bestScore {
			bestID = id
			bestScore = candidate
		}
	}
	return bestID
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
