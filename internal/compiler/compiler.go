// Package compiler orchestrates the build pipeline. Stages run strictly in
// order, each one a function of earlier artifacts only; a stage fills
// exactly one slot of the Build and never touches the slots before it. The
// whole pipeline either completes or fails fast; there is no cancellation
// or partial output.
package compiler

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"foodcore/internal/catalog"
	"foodcore/internal/evidence/mapper"
	"foodcore/internal/evidence/rollup"
	"foodcore/internal/graph/applicability"
	"foodcore/internal/graph/closure"
	"foodcore/internal/graph/identity"
	"foodcore/internal/metrics"
	"foodcore/pkg/ontology"
	"foodcore/pkg/sourceapi"
)

// Stage names one pipeline stage.
type Stage string

// Pipeline stages in execution order.
const (
	StageLoad          Stage = "load"
	StageClosure       Stage = "closure"
	StageApplicability Stage = "applicability"
	StageIdentity      Stage = "identity"
	StageMapping       Stage = "mapping"
	StageRollup        Stage = "rollup"
)

// Stages returns the pipeline stages in execution order.
func Stages() []Stage {
	return []Stage{StageLoad, StageClosure, StageApplicability, StageIdentity, StageMapping, StageRollup}
}

// Params configures one pipeline.
type Params struct {
	// Root is the authored source tree.
	Root string
	// Adapters supplies bundled source descriptors and mapper hints.
	Adapters *sourceapi.Registry
	// Strict escalates loader warnings to blocking violations.
	Strict bool
	// Lenient demotes referential loader violations and drops the rows.
	Lenient bool
	// MinConfidence overrides the mapper's confidence floor when positive.
	MinConfidence float64
	// Rollup tunes the aggregation stage.
	Rollup rollup.Config
	// Workers bounds stage fan-out. Zero means GOMAXPROCS.
	Workers int
	// Logger receives stage progress. Nil uses slog.Default().
	Logger *slog.Logger
	// Metrics receives stage observations. Optional.
	Metrics *metrics.Metrics
}

// Build is the pipeline context. Each stage fills its own fields; everything
// filled by an earlier stage is read-only from then on.
type Build struct {
	Snapshot    *catalog.Snapshot
	Diagnostics ontology.Result

	Taxa  *closure.Table
	Parts *closure.Table

	Resolved *applicability.Resolved

	Canonicalizer *identity.Canonicalizer
	Nodes         *identity.Index

	Mapping mapper.Result
	Rollup  rollup.Result

	Manifest Manifest
}

// Pipeline runs the build stages over one source tree.
type Pipeline struct {
	params  Params
	workers int
	logger  *slog.Logger
}

// New validates the parameters and constructs a pipeline.
func New(params Params) (*Pipeline, error) {
	if params.Root == "" {
		return nil, fmt.Errorf("compiler: source root is required")
	}
	if params.Strict && params.Lenient {
		return nil, fmt.Errorf("compiler: strict and lenient are mutually exclusive")
	}
	workers := params.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{params: params, workers: workers, logger: logger}, nil
}

// Run executes every stage and returns the completed build.
func (p *Pipeline) Run() (*Build, error) {
	return p.RunThrough(StageRollup)
}

// RunThrough executes stages in order up to and including last. Artifacts
// for later stages stay zero.
func (p *Pipeline) RunThrough(last Stage) (*Build, error) {
	valid := false
	for _, stage := range Stages() {
		if stage == last {
			valid = true
			break
		}
	}
	if !valid {
		return nil, fmt.Errorf("compiler: unknown stage %q", last)
	}

	build := &Build{}
	build.Manifest.SchemaVersion = ManifestSchemaVersion
	build.Manifest.StartedAt = time.Now().UTC()

	for _, stage := range Stages() {
		started := time.Now()
		if err := p.runStage(stage, build); err != nil {
			return nil, fmt.Errorf("stage %s: %w", stage, err)
		}
		elapsed := time.Since(started)
		build.Manifest.Stages = append(build.Manifest.Stages, StageTiming{
			Stage:  stage,
			Millis: float64(elapsed.Microseconds()) / 1000,
		})
		if p.params.Metrics != nil {
			p.params.Metrics.ObserveStage(string(stage), elapsed)
		}
		p.logger.Info("stage complete", "stage", stage, "duration", elapsed)
		if stage == last {
			break
		}
	}

	p.finishManifest(build)
	return build, nil
}

func (p *Pipeline) runStage(stage Stage, build *Build) error {
	switch stage {
	case StageLoad:
		return p.runLoad(build)
	case StageClosure:
		return p.runClosure(build)
	case StageApplicability:
		return p.runApplicability(build)
	case StageIdentity:
		return p.runIdentity(build)
	case StageMapping:
		return p.runMapping(build)
	case StageRollup:
		return p.runRollup(build)
	}
	return fmt.Errorf("unknown stage %q", stage)
}

func (p *Pipeline) runLoad(build *Build) error {
	snap, diags, err := catalog.Load(catalog.Params{
		Root:     p.params.Root,
		Logger:   p.logger,
		Adapters: p.params.Adapters,
		Strict:   p.params.Strict,
		Lenient:  p.params.Lenient,
	})
	if err != nil {
		return err
	}
	build.Snapshot = snap
	build.Diagnostics = diags
	if p.params.Metrics != nil {
		p.params.Metrics.RecordCatalog(len(snap.Taxa), len(snap.Parts), len(snap.Transforms))
	}
	return nil
}

func (p *Pipeline) runClosure(build *Build) error {
	taxa := make([]closure.Node, 0, len(build.Snapshot.Taxa))
	for _, id := range build.Snapshot.TaxaOrder {
		t := build.Snapshot.Taxa[id]
		taxa = append(taxa, closure.Node{ID: t.ID, Parent: t.Parent})
	}
	taxaTable, err := closure.Build(taxa)
	if err != nil {
		return fmt.Errorf("taxon closure: %w", err)
	}

	parts := make([]closure.Node, 0, len(build.Snapshot.Parts))
	for _, id := range build.Snapshot.PartsOrder {
		part := build.Snapshot.Parts[id]
		parts = append(parts, closure.Node{ID: part.ID, Parent: part.ParentID})
	}
	partTable, err := closure.Build(parts)
	if err != nil {
		return fmt.Errorf("part closure: %w", err)
	}

	build.Taxa = taxaTable
	build.Parts = partTable
	return nil
}

func (p *Pipeline) runApplicability(build *Build) error {
	resolved, err := applicability.Resolve(build.Snapshot, build.Taxa)
	if err != nil {
		return err
	}
	build.Resolved = resolved
	return nil
}

// runIdentity mints the TP node for every materialized pairing. Workers
// write preallocated disjoint slots; interning happens afterwards in pair
// order so the index order is deterministic regardless of scheduling.
// MintPair only reads catalog tables, so workers share one canonicalizer.
func (p *Pipeline) runIdentity(build *Build) error {
	canon := identity.New(build.Snapshot, build.Resolved)
	pairs := build.Resolved.Pairs()

	nodes := make([]ontology.CanonicalNode, len(pairs))
	errs := make([]error, len(pairs))
	workers := p.workers
	if workers > len(pairs) {
		workers = len(pairs)
	}
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < len(pairs); i += workers {
				nodes[i], errs[i] = canon.MintPair(pairs[i].TaxonID, pairs[i].PartID)
			}
		}(w)
	}
	wg.Wait()

	index := identity.NewIndex()
	for i, node := range nodes {
		if errs[i] != nil {
			return fmt.Errorf("mint %s/%s: %w", pairs[i].TaxonID, pairs[i].PartID, errs[i])
		}
		index.Intern(node)
	}

	build.Canonicalizer = canon
	build.Nodes = index
	return nil
}

func (p *Pipeline) runMapping(build *Build) error {
	result, err := mapper.Run(mapper.Params{
		Snapshot:      build.Snapshot,
		Resolved:      build.Resolved,
		Canonicalizer: build.Canonicalizer,
		Nodes:         build.Nodes,
		Adapters:      p.params.Adapters,
		MinConfidence: p.params.MinConfidence,
		Logger:        p.logger,
	})
	if err != nil {
		return err
	}
	build.Mapping = result
	if m := p.params.Metrics; m != nil {
		for _, mapping := range result.Mappings {
			if mapping.Mapped() {
				m.RecordMapped(string(mapping.Method), 1)
			}
		}
		for reason, n := range result.Stats.Unmapped {
			m.RecordUnmapped(string(reason), n)
		}
	}
	return nil
}

func (p *Pipeline) runRollup(build *Build) error {
	result, err := rollup.Run(rollup.Params{
		Snapshot: build.Snapshot,
		Taxa:     build.Taxa,
		Nodes:    build.Nodes,
		Mappings: build.Mapping.Mappings,
		Config:   p.params.Rollup,
		Logger:   p.logger,
	})
	if err != nil {
		return err
	}
	build.Rollup = result
	if m := p.params.Metrics; m != nil {
		m.RecordProfiles("direct", result.Stats.Direct)
		m.RecordProfiles("blended", result.Stats.Blended)
		m.RecordProfiles("borrowed", result.Stats.Borrowed)
		for reason, n := range result.Stats.Excluded {
			m.RecordExcluded(string(reason), n)
		}
	}
	return nil
}

func (p *Pipeline) finishManifest(build *Build) {
	m := &build.Manifest
	m.Inputs = build.Snapshot.Fingerprints
	m.Fingerprint = buildFingerprint(build.Snapshot.Fingerprints)

	c := &m.Counters
	c.Taxa = len(build.Snapshot.Taxa)
	c.Parts = len(build.Snapshot.Parts)
	c.Transforms = len(build.Snapshot.Transforms)
	c.EvidenceRecords = len(build.Snapshot.Evidence)

	if build.Resolved != nil {
		c.MaterializedTaxa = len(build.Resolved.Materialized())
		c.Pairings = len(build.Resolved.Pairs())
	}
	if build.Nodes != nil {
		for _, node := range build.Nodes.Nodes() {
			switch node.Kind {
			case ontology.NodeTP:
				c.TPNodes++
			case ontology.NodeTPT:
				c.TPTNodes++
			}
		}
	}
	c.FoodEntries = build.Mapping.Stats.Entries
	c.Mapped = build.Mapping.Stats.Mapped
	c.Carried = build.Mapping.Stats.Carried
	c.Stale = build.Mapping.Stats.Stale
	for _, n := range build.Mapping.Stats.Unmapped {
		c.Unmapped += n
	}
	c.Profiles = len(build.Rollup.Profiles)
	c.ProfilesDirect = build.Rollup.Stats.Direct
	c.ProfilesBlended = build.Rollup.Stats.Blended
	c.ProfilesBorrowed = build.Rollup.Stats.Borrowed
	c.PairsSkipped = build.Rollup.Stats.Skipped

	if mm := p.params.Metrics; mm != nil {
		if build.Resolved != nil && build.Nodes != nil {
			mm.RecordGraph(c.Pairings, c.TPNodes, c.TPTNodes)
		}
		mm.RecordBuild(m.Fingerprint)
	}
}
