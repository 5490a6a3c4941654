// Package report assembles a full analysis: differential expression, gene
// selection, collaborator enrichment, history and PDF export.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MaartenRingburg/Pathoscope-V5/internal/deg"
	"github.com/MaartenRingburg/Pathoscope-V5/internal/expression"
	"github.com/MaartenRingburg/Pathoscope-V5/internal/history"
	"github.com/MaartenRingburg/Pathoscope-V5/internal/sources"
)

// Gene source labels.
const (
	GenesFromExpression = "expression"
	GenesFromKEGG       = "kegg"
	GenesNone           = "none"
)

const (
	maxDiseaseGenes = 10
	maxPathwayGenes = 10
	maxPathways     = 5
	maxTerms        = 10
	maxDrugs        = 5

	// Lookups behind the per-disease API endpoints.
	maxLookupGenes = 20
	maxLookupTerms = 20
)

var (
	// ErrEmptyRequest means neither a disease nor a dataset was given.
	ErrEmptyRequest = errors.New("a disease name or an expression dataset is required")
	// ErrNoGenes means KEGG returned no genes for the disease.
	ErrNoGenes = errors.New("no genes found for disease")
)

// Request describes one analysis run.
type Request struct {
	Disease string
	Dataset *expression.Dataset
	Options deg.Options
	// Persist appends the finished report to history.
	Persist bool
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.Disease) == "" && r.Dataset == nil {
		return ErrEmptyRequest
	}
	if r.Options.Thresholds == (deg.Thresholds{}) {
		return nil
	}
	return r.Options.Thresholds.Validate()
}

// Report is the assembled result of a run. Collaborator sections are
// accompanied by an entry in Sources saying whether they hold real data.
type Report struct {
	ID            string                          `json:"id,omitempty"`
	CreatedAt     time.Time                       `json:"created_at"`
	Disease       string                          `json:"disease,omitempty"`
	Dataset       string                          `json:"dataset,omitempty"`
	GeneSource    string                          `json:"gene_source"`
	Genes         []string                        `json:"genes"`
	Analysis      *deg.Results                    `json:"analysis,omitempty"`
	Counts        *deg.Counts                     `json:"counts,omitempty"`
	Pathways      []sources.Pathway               `json:"pathways"`
	Enrichment    []sources.Term                  `json:"enrichment"`
	Network       sources.Network                 `json:"network"`
	NetworkReport NetworkReport                   `json:"network_report"`
	Elements      []Element                       `json:"cytoscape_elements"`
	Explanation   string                          `json:"explanation,omitempty"`
	Drugs         []sources.DrugTarget            `json:"drugs"`
	Sources       map[string]sources.Availability `json:"sources"`
}

// Subject names the report in history listings.
func (r *Report) Subject() string {
	switch {
	case r.Disease != "" && r.Dataset != "":
		return r.Disease + " (" + r.Dataset + ")"
	case r.Disease != "":
		return r.Disease
	default:
		return r.Dataset
	}
}

// Collaborators are the external capabilities a pipeline draws on.
type Collaborators struct {
	Pathways   sources.PathwaySource
	Network    sources.NetworkSource
	Enrichment sources.EnrichmentSource
	Explainer  sources.Explainer
	Drugs      sources.DrugTargetSource
}

type Pipeline struct {
	c      Collaborators
	store  history.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewPipeline wires a pipeline. store may be nil, in which case nothing is
// persisted.
func NewPipeline(c Collaborators, store history.Store, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{c: c, store: store, logger: logger, now: time.Now}
}

// Run executes the analysis. Only request and expression-analysis errors
// abort; every collaborator degrades on its own.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Report, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	rep := &Report{
		CreatedAt:  p.now().UTC(),
		Disease:    strings.TrimSpace(req.Disease),
		GeneSource: GenesNone,
		Genes:      []string{},
		Sources:    make(map[string]sources.Availability),
	}

	if req.Dataset != nil {
		res, err := deg.Analyze(req.Dataset, req.Options)
		if err != nil {
			return nil, err
		}
		counts := res.Counts()
		rep.Dataset = res.Dataset
		rep.Analysis = res
		rep.Counts = &counts
		if sig := res.Significant(); len(sig) > 0 {
			rep.Genes = sig
			rep.GeneSource = GenesFromExpression
		}
	}

	if rep.GeneSource == GenesNone && rep.Disease != "" {
		genes, err := p.c.Pathways.DiseaseGenes(ctx, rep.Disease, maxDiseaseGenes)
		rep.Sources[sources.SourceKEGG+"_genes"] = sources.Check(sources.SourceKEGG, err)
		if err == nil && len(genes) > 0 {
			rep.Genes = genes
			rep.GeneSource = GenesFromKEGG
		}
	}

	p.enrich(ctx, rep)

	if req.Persist {
		p.save(ctx, rep)
	}
	return rep, nil
}

// enrich fans out to the collaborators. Results are written to distinct
// fields, so no locking is needed beyond the errgroup barrier.
func (p *Pipeline) enrich(ctx context.Context, rep *Report) {
	rep.Pathways = []sources.Pathway{}
	rep.Enrichment = []sources.Term{}
	rep.Drugs = []sources.DrugTarget{}
	rep.Network = sources.Network{Nodes: []sources.Node{}, Edges: []sources.Edge{}}

	if len(rep.Genes) == 0 {
		for _, name := range []string{sources.SourceKEGG, sources.SourceGProfiler, sources.SourceSTRING, sources.SourceGemini, sources.SourceDGIdb} {
			rep.Sources[name] = sources.Availability{Source: name, Status: sources.StatusNoResults, Reason: "no genes to analyze"}
		}
		rep.NetworkReport = AnalyzeNetwork(rep.Network, nil)
		rep.Elements = []Element{}
		return
	}

	var (
		pathwaysAv, enrichAv, networkAv, explainAv, drugsAv sources.Availability
	)

	g, gctx := errgroup.WithContext(ctx)

	// Pathways feed the explanation prompt.
	g.Go(func() error {
		pw, err := p.c.Pathways.GenePathways(gctx, head(rep.Genes, maxPathwayGenes), maxPathways)
		pathwaysAv = p.check(gctx, sources.SourceKEGG, err)
		if err == nil {
			rep.Pathways = pw
		}

		names := make([]string, 0, len(rep.Pathways))
		for _, pw := range rep.Pathways {
			names = append(names, pw.Title())
		}
		text, err := p.c.Explainer.Explain(gctx, p.subjectForPrompt(rep), rep.Genes, names)
		explainAv = p.check(gctx, sources.SourceGemini, err)
		if err == nil {
			rep.Explanation = text
		}
		return nil
	})

	g.Go(func() error {
		terms, err := p.c.Enrichment.Enrich(gctx, rep.Genes, maxTerms)
		enrichAv = p.check(gctx, sources.SourceGProfiler, err)
		if err == nil {
			rep.Enrichment = terms
		}
		return nil
	})

	g.Go(func() error {
		n, err := p.c.Network.Network(gctx, rep.Genes)
		networkAv = p.check(gctx, sources.SourceSTRING, err)
		if err == nil {
			rep.Network = n
		}
		return nil
	})

	g.Go(func() error {
		drugs, err := p.c.Drugs.DrugTargets(gctx, rep.Genes, maxDrugs)
		drugsAv = p.check(gctx, sources.SourceDGIdb, err)
		if err == nil {
			rep.Drugs = drugs
		}
		return nil
	})

	_ = g.Wait()

	rep.Sources[sources.SourceKEGG] = pathwaysAv
	rep.Sources[sources.SourceGProfiler] = enrichAv
	rep.Sources[sources.SourceSTRING] = networkAv
	rep.Sources[sources.SourceGemini] = explainAv
	rep.Sources[sources.SourceDGIdb] = drugsAv

	rep.NetworkReport = AnalyzeNetwork(rep.Network, rep.Genes)
	rep.Elements = CytoscapeElements(rep.Network)
}

func (p *Pipeline) check(ctx context.Context, source string, err error) sources.Availability {
	a := sources.Check(source, err)
	if a.Status == sources.StatusUnavailable {
		p.logger.WarnContext(ctx, "collaborator unavailable",
			slog.String("source", source),
			slog.String("reason", a.Reason))
	}
	return a
}

func (p *Pipeline) subjectForPrompt(rep *Report) string {
	if rep.Disease != "" {
		return rep.Disease
	}
	return rep.Dataset
}

// save appends the report to history. Failures are logged, not returned.
func (p *Pipeline) save(ctx context.Context, rep *Report) {
	if p.store == nil {
		return
	}
	payload, err := json.Marshal(rep)
	if err != nil {
		p.logger.ErrorContext(ctx, "encode report for history", slog.String("error", err.Error()))
		return
	}
	rec, err := p.store.Append(ctx, history.Record{
		Subject:   rep.Subject(),
		CreatedAt: rep.CreatedAt,
		Payload:   payload,
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "append history", slog.String("error", err.Error()))
		return
	}
	rep.ID = rec.ID
}

// DiseaseGenes looks up at most 20 genes for a disease.
func (p *Pipeline) DiseaseGenes(ctx context.Context, disease string) ([]string, error) {
	genes, err := p.c.Pathways.DiseaseGenes(ctx, disease, maxLookupGenes)
	if errors.Is(err, sources.ErrNoResults) || (err == nil && len(genes) == 0) {
		return nil, ErrNoGenes
	}
	return genes, err
}

// DiseaseNetwork is the interaction network around a disease's genes.
type DiseaseNetwork struct {
	Disease      string               `json:"disease"`
	Genes        []string             `json:"genes"`
	Network      sources.Network      `json:"network"`
	Report       NetworkReport        `json:"network_report"`
	Elements     []Element            `json:"cytoscape_elements"`
	Availability sources.Availability `json:"availability"`
}

func (p *Pipeline) DiseaseNetwork(ctx context.Context, disease string) (*DiseaseNetwork, error) {
	genes, err := p.DiseaseGenes(ctx, disease)
	if err != nil {
		return nil, err
	}
	n, err := p.c.Network.Network(ctx, genes)
	av := p.check(ctx, sources.SourceSTRING, err)
	if err != nil {
		n = sources.Network{Nodes: []sources.Node{}, Edges: []sources.Edge{}}
	}
	return &DiseaseNetwork{
		Disease:      disease,
		Genes:        genes,
		Network:      n,
		Report:       AnalyzeNetwork(n, genes),
		Elements:     CytoscapeElements(n),
		Availability: av,
	}, nil
}

// DiseaseEnrichment is the functional enrichment of a disease's genes.
type DiseaseEnrichment struct {
	Disease      string               `json:"disease"`
	Genes        []string             `json:"genes"`
	Terms        []sources.Term       `json:"enrichment"`
	Availability sources.Availability `json:"availability"`
}

func (p *Pipeline) DiseaseEnrichment(ctx context.Context, disease string) (*DiseaseEnrichment, error) {
	genes, err := p.DiseaseGenes(ctx, disease)
	if err != nil {
		return nil, err
	}
	terms, err := p.c.Enrichment.Enrich(ctx, genes, maxLookupTerms)
	av := p.check(ctx, sources.SourceGProfiler, err)
	if err != nil {
		terms = []sources.Term{}
	}
	return &DiseaseEnrichment{Disease: disease, Genes: genes, Terms: terms, Availability: av}, nil
}

func head(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
