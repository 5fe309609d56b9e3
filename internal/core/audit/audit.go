package audit

import (
	"context"
	"sort"
	"time"

	"github.com/agenthands/geargraph/internal/core/dedupe"
	"github.com/agenthands/geargraph/internal/core/family"
	"github.com/agenthands/geargraph/internal/core/model"
	"github.com/agenthands/geargraph/internal/core/persist"
	"github.com/agenthands/geargraph/internal/logger"
)

// Group is a connected set of likely duplicates. Members[0] is canonical.
type Group struct {
	Canonical string                `json:"canonical"`
	Members   []string              `json:"members"`
	Pairs     []model.DuplicatePair `json:"pairs"`
	AutoMerge bool                  `json:"auto_merge"` // every linking pair scored at least the high threshold
}

type Report struct {
	Compared int                `json:"compared"`
	Groups   []Group            `json:"groups"`
	Families []family.Candidate `json:"families,omitempty"`
	Issues   []Issue            `json:"issues,omitempty"`
}

// Scanner finds duplicate groups the per-candidate matcher missed because
// it ran against a stale snapshot of the graph.
type Scanner struct {
	matcher *dedupe.Matcher
	grouper *family.Grouper
}

func NewScanner(matcher *dedupe.Matcher, grouper *family.Grouper) *Scanner {
	return &Scanner{matcher: matcher, grouper: grouper}
}

type edge struct {
	a, b  string
	score float64
}

// Scan compares live entities pairwise within a brand and groups every
// pair scoring at least the floor into connected components.
func (s *Scanner) Scan(entities []*model.Equipment) Report {
	var report Report
	byID := map[string]*model.Equipment{}
	blocks := map[string][]*model.Equipment{}
	for _, e := range entities {
		if e == nil || e.Absorbed() {
			continue
		}
		byID[e.ID] = e
		blocks[e.Key.Brand] = append(blocks[e.Key.Brand], e)
	}

	var edges []edge
	for _, block := range blocks {
		sort.Slice(block, func(i, j int) bool { return block[i].ID < block[j].ID })
		for i := 0; i < len(block); i++ {
			for j := i + 1; j < len(block); j++ {
				a, b := block[i], block[j]
				report.Compared++
				if family.Siblings(a.Name, b.Name) {
					continue
				}
				if sc := s.matcher.Pairwise(a, b); sc >= s.matcher.Floor() {
					edges = append(edges, edge{a: a.ID, b: b.ID, score: sc})
				}
			}
		}
	}

	for _, members := range components(edges) {
		report.Groups = append(report.Groups, s.group(members, edges, byID))
	}
	sort.Slice(report.Groups, func(i, j int) bool { return report.Groups[i].Canonical < report.Groups[j].Canonical })

	if s.grouper != nil {
		report.Families = s.grouper.Detect(entities, 2)
	}
	report.Issues = brandIssues(entities)
	sortIssues(report.Issues)
	return report
}

func (s *Scanner) group(members []string, edges []edge, byID map[string]*model.Equipment) Group {
	sort.Slice(members, func(i, j int) bool {
		a, b := byID[members[i]], byID[members[j]]
		if a.Completeness != b.Completeness {
			return a.Completeness > b.Completeness
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	g := Group{Canonical: members[0], Members: members, AutoMerge: true}

	in := map[string]bool{}
	for _, m := range members {
		in[m] = true
	}
	best := map[string]float64{}
	for _, e := range edges {
		if !in[e.a] {
			continue
		}
		if e.score < s.matcher.High() {
			g.AutoMerge = false
		}
		for _, id := range []string{e.a, e.b} {
			if e.score > best[id] {
				best[id] = e.score
			}
		}
	}
	for _, m := range members[1:] {
		g.Pairs = append(g.Pairs, model.DuplicatePair{CanonicalID: g.Canonical, DuplicateID: m, Score: best[m]})
	}
	return g
}

// components returns connected components of size two or more, each sorted.
func components(edges []edge) [][]string {
	adj := map[string][]string{}
	for _, e := range edges {
		adj[e.a] = append(adj[e.a], e.b)
		adj[e.b] = append(adj[e.b], e.a)
	}
	nodes := make([]string, 0, len(adj))
	for n := range adj {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	visited := map[string]bool{}
	var out [][]string
	for _, n := range nodes {
		if visited[n] {
			continue
		}
		var comp []string
		dfs(n, adj, visited, &comp)
		if len(comp) >= 2 {
			sort.Strings(comp)
			out = append(out, comp)
		}
	}
	return out
}

func dfs(u string, adj map[string][]string, visited map[string]bool, comp *[]string) {
	visited[u] = true
	*comp = append(*comp, u)
	for _, v := range adj[u] {
		if !visited[v] {
			dfs(v, adj, visited, comp)
		}
	}
}

// Graph is what the auditor needs from the persistence gateway.
type Graph interface {
	Entities(ctx context.Context) ([]*model.Equipment, error)
	Absorb(ctx context.Context, canonicalID, duplicateID string) (persist.CommitResult, error)
	Orphans(ctx context.Context) ([]model.Orphan, error)
}

// Reviews receives groups that need a human decision.
type Reviews interface {
	Submit(item model.ReviewItem) (bool, error)
}

type Result struct {
	Report   Report   `json:"report"`
	Absorbed []string `json:"absorbed,omitempty"`
	Flagged  []string `json:"flagged,omitempty"` // review item IDs
}

type Auditor struct {
	scanner *Scanner
	graph   Graph
	reviews Reviews
	log     *logger.Logger
	now     func() time.Time
}

func NewAuditor(scanner *Scanner, graph Graph, reviews Reviews, log *logger.Logger) *Auditor {
	if log == nil {
		log = logger.Nop()
	}
	return &Auditor{scanner: scanner, graph: graph, reviews: reviews, log: log.With("component", "audit"), now: time.Now}
}

// Run scans the graph. With apply set, groups linked only by high-scoring
// pairs are absorbed into their canonical entity; every other group is
// queued for review. Hygiene issues are reported, never fixed.
func (a *Auditor) Run(ctx context.Context, apply bool) (Result, error) {
	entities, err := a.graph.Entities(ctx)
	if err != nil {
		return Result{}, err
	}
	res := Result{Report: a.scanner.Scan(entities)}

	for _, g := range res.Report.Groups {
		if apply && g.AutoMerge {
			for _, dup := range g.Members[1:] {
				if _, err := a.graph.Absorb(ctx, g.Canonical, dup); err != nil {
					return res, err
				}
				res.Absorbed = append(res.Absorbed, dup)
			}
			continue
		}
		if a.reviews == nil {
			continue
		}
		item := dedupe.DuplicateReview(g.Members, g.Pairs, a.now())
		if _, err := a.reviews.Submit(item); err != nil {
			return res, err
		}
		res.Flagged = append(res.Flagged, item.ID)
	}

	// absorbs above can strand brands, insights and families
	orphans, err := a.graph.Orphans(ctx)
	if err != nil {
		return res, err
	}
	res.Report.Issues = append(res.Report.Issues, orphanIssues(orphans)...)
	sortIssues(res.Report.Issues)

	a.log.Info("audit finished", "entities", len(entities), "compared", res.Report.Compared,
		"groups", len(res.Report.Groups), "absorbed", len(res.Absorbed), "flagged", len(res.Flagged),
		"issues", len(res.Report.Issues))
	return res, nil
}
