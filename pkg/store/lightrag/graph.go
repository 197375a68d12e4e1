package lightrag

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/OFFIS-RIT/talentgraph/backend/pkg/common"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/talentgraph/backend/pkg/store"

	"golang.org/x/sync/errgroup"
)

var (
	_ store.GraphStore    = (*Client)(nil)
	_ store.EntityLister  = (*Client)(nil)
	_ store.EntityRenamer = (*Client)(nil)
)

// ErrNoVectorAPI is returned by VectorSimilarity: the server only embeds
// entities for its own retrieval and exposes no scoring endpoint.
var ErrNoVectorAPI = fmt.Errorf("lightrag: vector similarity: %w", errors.ErrUnsupported)

type graphNode struct {
	ID         string         `json:"id"`
	Labels     []string       `json:"labels"`
	Properties map[string]any `json:"properties"`
}

type graphEdge struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Properties map[string]any `json:"properties"`
}

type knowledgeGraph struct {
	Nodes       []graphNode `json:"nodes"`
	Edges       []graphEdge `json:"edges"`
	IsTruncated bool        `json:"is_truncated"`
}

func (e graphEdge) relationship() common.Relationship {
	rel := common.Relationship{
		Source:      e.Source,
		Target:      e.Target,
		Relation:    stringProp(e.Properties, "keywords"),
		Description: stringProp(e.Properties, "description"),
		Weight:      floatProp(e.Properties, "weight"),
	}
	if rel.Relation == "" {
		rel.Relation = e.Type
	}
	return rel
}

func stringProp(props map[string]any, key string) string {
	v, _ := props[key].(string)
	return v
}

func floatProp(props map[string]any, key string) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	return 0
}

func (c *Client) subgraph(ctx context.Context, label string, depth int) (knowledgeGraph, error) {
	q := url.Values{}
	q.Set("label", label)
	q.Set("max_depth", strconv.Itoa(depth))
	q.Set("max_nodes", strconv.Itoa(c.maxNodes))
	var kg knowledgeGraph
	if err := c.do(ctx, http.MethodGet, "/graphs", q, nil, &kg); err != nil {
		return kg, classify(fmt.Sprintf("subgraph of %q", label), err)
	}
	if kg.IsTruncated {
		logger.Warn("[Store] LightRAG subgraph truncated", "label", label, "depth", depth, "max_nodes", c.maxNodes)
	}
	return kg, nil
}

func (c *Client) EntityExists(ctx context.Context, name string) (bool, error) {
	if err := store.ValidateName(name); err != nil {
		return false, err
	}
	var resp struct {
		Exists bool `json:"exists"`
	}
	q := url.Values{}
	q.Set("name", name)
	if err := c.do(ctx, http.MethodGet, "/graph/entity/exists", q, nil, &resp); err != nil {
		return false, classify(fmt.Sprintf("entity exists %q", name), err)
	}
	return resp.Exists, nil
}

func (c *Client) CreateEntity(ctx context.Context, name, description, entityType string) error {
	if err := store.ValidateName(name); err != nil {
		return err
	}
	req := map[string]any{
		"entity_name": name,
		"entity_data": map[string]any{
			"description": description,
			"entity_type": entityType,
		},
	}
	if err := c.do(ctx, http.MethodPost, "/graph/entity/create", nil, req, nil); err != nil {
		return classify(fmt.Sprintf("create entity %q", name), err)
	}
	return nil
}

// CreateRelationship creates missing endpoints on demand: the server refuses
// relations between unknown entities.
func (c *Client) CreateRelationship(ctx context.Context, rel common.Relationship) error {
	if err := store.ValidateName(rel.Source); err != nil {
		return err
	}
	if err := store.ValidateName(rel.Target); err != nil {
		return err
	}
	if rel.Relation == "" {
		return store.Validation("relationship %s -> %s has no relation", rel.Source, rel.Target)
	}
	weight := rel.Weight
	if weight == 0 {
		weight = 1
	}
	description := rel.Description
	if description == "" {
		description = fmt.Sprintf("%s %s %s", rel.Source, rel.Relation, rel.Target)
	}
	req := map[string]any{
		"source_entity": rel.Source,
		"target_entity": rel.Target,
		"relation_data": map[string]any{
			"description": description,
			"keywords":    rel.Relation,
			"weight":      weight,
		},
	}

	op := fmt.Sprintf("create relationship %s", rel.Triple())
	err := classify(op, c.do(ctx, http.MethodPost, "/graph/relation/create", nil, req, nil))
	if !store.IsNotFound(err) {
		return err
	}
	for _, name := range []string{rel.Source, rel.Target} {
		if err := c.CreateEntity(ctx, name, "", ""); err != nil && !store.IsConflict(err) {
			return err
		}
	}
	return classify(op, c.do(ctx, http.MethodPost, "/graph/relation/create", nil, req, nil))
}

// MergeEntities checks which variants still exist, derives the edge counts
// from their one-hop neighbourhood and then asks the server to merge. The
// server applies the rewrite atomically.
func (c *Client) MergeEntities(ctx context.Context, canonical string, variants []string) (store.MergeResult, error) {
	var res store.MergeResult
	if err := store.ValidateName(canonical); err != nil {
		return res, err
	}
	if len(variants) == 0 {
		return res, store.Validation("no variants to merge into %q", canonical)
	}
	for _, v := range variants {
		if err := store.ValidateName(v); err != nil {
			return res, err
		}
		if v == canonical {
			return res, store.Validation("variant %q equals canonical", v)
		}
	}

	present := make(map[string]struct{}, len(variants))
	for _, v := range variants {
		ok, err := c.EntityExists(ctx, v)
		if err != nil {
			return res, err
		}
		if ok {
			present[v] = struct{}{}
			res.VariantsMerged = append(res.VariantsMerged, v)
		} else {
			res.VariantsMissing = append(res.VariantsMissing, v)
		}
	}
	if len(present) == 0 {
		return res, fmt.Errorf("variants of %q: %w", canonical, store.ErrNotFound)
	}

	edges, err := c.neighbourhood(ctx, append([]string{canonical}, res.VariantsMerged...))
	if err != nil {
		return res, err
	}
	store.PlanEdgeMoves(canonical, present, edges, &res)

	req := map[string]any{
		"entities_to_change":    res.VariantsMerged,
		"entity_to_change_into": canonical,
	}
	if err := c.do(ctx, http.MethodPost, "/graph/entities/merge", nil, req, nil); err != nil {
		return store.MergeResult{}, classify(fmt.Sprintf("merge into %q", canonical), err)
	}
	sort.Strings(res.VariantsMerged)
	return res, nil
}

// neighbourhood collects the distinct one-hop edges of names. Missing names
// contribute nothing.
func (c *Client) neighbourhood(ctx context.Context, names []string) ([]common.Relationship, error) {
	seen := make(map[string]struct{})
	var out []common.Relationship
	for _, name := range names {
		kg, err := c.subgraph(ctx, name, 1)
		if store.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, e := range kg.Edges {
			if e.Source != name && e.Target != name {
				continue
			}
			key := e.ID
			if key == "" {
				key = e.Source + "\x00" + e.Target
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, e.relationship())
		}
	}
	return out, nil
}

func (c *Client) RenameEntity(ctx context.Context, name, newName, entityType string) error {
	if err := store.ValidateName(name); err != nil {
		return err
	}
	if err := store.ValidateName(newName); err != nil {
		return err
	}
	updated := map[string]any{"entity_name": newName}
	if entityType != "" {
		updated["entity_type"] = entityType
	}
	req := map[string]any{
		"entity_name":  name,
		"updated_data": updated,
		"allow_rename": true,
		"allow_merge":  false,
	}
	if err := c.do(ctx, http.MethodPost, "/graph/entity/edit", nil, req, nil); err != nil {
		return classify(fmt.Sprintf("rename %q to %q", name, newName), err)
	}
	return nil
}

func (c *Client) VectorSimilarity(ctx context.Context, target string, candidates []string) (map[string]float64, error) {
	return nil, ErrNoVectorAPI
}

// TraverseRelationships fetches the depth-bounded subgraph around start and
// assigns hop distances locally, since the server returns edges untagged.
func (c *Client) TraverseRelationships(ctx context.Context, start string, maxHops int) ([]common.TraversedEdge, error) {
	if maxHops <= 0 {
		return nil, nil
	}
	kg, err := c.subgraph(ctx, start, maxHops)
	if store.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	edges := make([]common.Relationship, 0, len(kg.Edges))
	for _, e := range kg.Edges {
		edges = append(edges, e.relationship())
	}
	return store.HopEdges(start, edges, maxHops), nil
}

// FindEntities filters the server's label list locally and then looks up
// type and degree for each match with bounded concurrency.
func (c *Client) FindEntities(ctx context.Context, filter store.ScopeFilter) ([]common.Entity, error) {
	var re *regexp.Regexp
	if filter.NamePattern != "" {
		var err error
		re, err = regexp.Compile("(?i)" + filter.NamePattern)
		if err != nil {
			return nil, store.Validation("invalid name pattern %q: %v", filter.NamePattern, err)
		}
	}

	var labels []string
	if err := c.do(ctx, http.MethodGet, "/graph/label/list", nil, nil, &labels); err != nil {
		return nil, classify("list labels", err)
	}
	var names []string
	for _, l := range labels {
		if re == nil || re.MatchString(l) {
			names = append(names, l)
		}
	}
	sort.Strings(names)

	types := make(map[string]struct{}, len(filter.EntityTypes))
	for _, t := range filter.EntityTypes {
		types[strings.ToLower(t)] = struct{}{}
	}

	var (
		mu  sync.Mutex
		out []common.Entity
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(c.concurrency, 1))
	for _, name := range names {
		g.Go(func() error {
			kg, err := c.subgraph(gctx, name, 1)
			if store.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return err
			}
			ent := common.Entity{Name: name}
			for _, n := range kg.Nodes {
				if n.ID == name {
					ent.Type = stringProp(n.Properties, "entity_type")
					ent.Description = stringProp(n.Properties, "description")
					break
				}
			}
			if len(types) > 0 {
				if _, ok := types[strings.ToLower(ent.Type)]; !ok {
					return nil
				}
			}
			for _, e := range kg.Edges {
				if e.Source == name || e.Target == name {
					ent.RelationshipCount++
				}
			}
			mu.Lock()
			out = append(out, ent)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	slices.SortFunc(out, func(a, b common.Entity) int { return strings.Compare(a.Name, b.Name) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}
