package sources

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

const (
	SourceKEGG = "kegg"

	DefaultKEGGURL = "https://rest.kegg.jp"
	keggOrganism   = "hsa"
	// KEGG answers at most 10 entries per /list request.
	keggListBatch = 10
)

// Pathway is a KEGG pathway map.
type Pathway struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	ImageURL string `json:"image_url"`
}

// Title is the pathway name, or its id when the name is unknown.
func (p Pathway) Title() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// PathwaySource resolves disease genes and gene pathways.
type PathwaySource interface {
	DiseaseGenes(ctx context.Context, disease string, max int) ([]string, error)
	GenePathways(ctx context.Context, genes []string, max int) ([]Pathway, error)
	PathwayImageURL(id string) string
}

// KEGG is the KEGG REST client.
type KEGG struct {
	f    *Fetcher
	base string
}

var _ PathwaySource = (*KEGG)(nil)

func NewKEGG(f *Fetcher, baseURL string) *KEGG {
	if baseURL == "" {
		baseURL = DefaultKEGGURL
	}
	return &KEGG{f: f, base: strings.TrimRight(baseURL, "/")}
}

// DiseaseGenes searches KEGG DISEASE for the name and returns the gene
// symbols linked to the first entry that has any, at most max of them.
func (k *KEGG) DiseaseGenes(ctx context.Context, disease string, max int) ([]string, error) {
	term := normalizeDisease(disease)
	if term == "" {
		return nil, fmt.Errorf("kegg: empty disease name: %w", ErrNoResults)
	}

	body, err := k.get(ctx, "/find/disease/"+url.PathEscape(term))
	if err != nil {
		return nil, err
	}
	entries := firstColumn(body)
	if len(entries) > 3 {
		entries = entries[:3]
	}

	for _, entry := range entries {
		body, err := k.get(ctx, "/link/"+keggOrganism+"/"+entry)
		if err != nil {
			return nil, err
		}
		ids := secondColumn(body)
		if len(ids) == 0 {
			continue
		}
		if max > 0 && len(ids) > max {
			ids = ids[:max]
		}
		return k.symbols(ctx, ids)
	}
	return nil, fmt.Errorf("kegg: disease %q: %w", disease, ErrNoResults)
}

// GenePathways returns the pathways linked to the genes, de-duplicated in
// first-seen order. Genes may be symbols or KEGG/Entrez ids.
func (k *KEGG) GenePathways(ctx context.Context, genes []string, max int) ([]Pathway, error) {
	ids := make([]string, 0, len(genes))
	for _, g := range genes {
		id, err := k.geneID(ctx, g)
		if err != nil {
			return nil, err
		}
		if id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("kegg: no KEGG genes among %d: %w", len(genes), ErrNoResults)
	}

	body, err := k.get(ctx, "/link/pathway/"+strings.Join(ids, "+"))
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []Pathway
	for _, p := range secondColumn(body) {
		id := strings.TrimPrefix(p, "path:")
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, Pathway{ID: id, ImageURL: k.PathwayImageURL(id)})
		if max > 0 && len(out) == max {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("kegg: no pathways: %w", ErrNoResults)
	}

	// Names are cosmetic; a failed lookup leaves them blank.
	if names, err := k.names(ctx, out); err == nil {
		for i := range out {
			out[i].Name = names[out[i].ID]
		}
	}
	return out, nil
}

func (k *KEGG) PathwayImageURL(id string) string {
	return k.base + "/get/" + url.PathEscape(id) + "/image"
}

// geneID maps a symbol to its hsa: entry via /find. Numeric input is taken
// as an Entrez id.
func (k *KEGG) geneID(ctx context.Context, gene string) (string, error) {
	gene = strings.TrimSpace(gene)
	switch {
	case gene == "":
		return "", nil
	case strings.HasPrefix(gene, keggOrganism+":"):
		return gene, nil
	case isDigits(gene):
		return keggOrganism + ":" + gene, nil
	}

	body, err := k.get(ctx, "/find/"+keggOrganism+"/"+url.PathEscape(gene))
	if err != nil {
		return "", err
	}
	for _, line := range lines(body) {
		id, desc, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		if strings.EqualFold(symbolOf(desc), gene) {
			return id, nil
		}
	}
	return "", nil
}

// symbols resolves hsa: entries to their primary gene symbols, keeping order.
func (k *KEGG) symbols(ctx context.Context, ids []string) ([]string, error) {
	bySymbol := make(map[string]string, len(ids))
	for start := 0; start < len(ids); start += keggListBatch {
		end := min(start+keggListBatch, len(ids))
		body, err := k.get(ctx, "/list/"+strings.Join(ids[start:end], "+"))
		if err != nil {
			return nil, err
		}
		for _, line := range lines(body) {
			id, desc, ok := strings.Cut(line, "\t")
			if !ok {
				continue
			}
			if sym := symbolOf(desc); sym != "" {
				bySymbol[id] = sym
			}
		}
	}

	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if sym, ok := bySymbol[id]; ok {
			out = append(out, sym)
		} else {
			out = append(out, strings.TrimPrefix(id, keggOrganism+":"))
		}
	}
	return out, nil
}

func (k *KEGG) names(ctx context.Context, pathways []Pathway) (map[string]string, error) {
	names := make(map[string]string, len(pathways))
	for start := 0; start < len(pathways); start += keggListBatch {
		end := min(start+keggListBatch, len(pathways))
		ids := make([]string, 0, end-start)
		for _, p := range pathways[start:end] {
			ids = append(ids, p.ID)
		}
		body, err := k.get(ctx, "/list/"+strings.Join(ids, "+"))
		if err != nil {
			return nil, err
		}
		for _, line := range lines(body) {
			id, name, ok := strings.Cut(line, "\t")
			if !ok {
				continue
			}
			name, _, _ = strings.Cut(name, " - Homo sapiens")
			names[strings.TrimPrefix(id, "path:")] = name
		}
	}
	return names, nil
}

func (k *KEGG) get(ctx context.Context, path string) ([]byte, error) {
	return k.f.do(ctx, request{source: SourceKEGG, method: http.MethodGet, url: k.base + path})
}

// normalizeDisease lowercases the name and drops possessives, so
// "Alzheimer's Disease" searches as "alzheimer disease".
func normalizeDisease(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "'s", "")
	name = strings.ReplaceAll(name, "'", "")
	return strings.Join(strings.Fields(name), " ")
}

// symbolOf extracts the first symbol from a KEGG gene description such as
// "CDS\t21:complement(...)\tAPP, AAA, ABETA; amyloid beta precursor protein".
func symbolOf(desc string) string {
	if i := strings.LastIndexByte(desc, '\t'); i >= 0 {
		desc = desc[i+1:]
	}
	names, _, _ := strings.Cut(desc, ";")
	first, _, _ := strings.Cut(names, ",")
	return strings.TrimSpace(first)
}

func lines(body []byte) []string {
	var out []string
	for _, l := range strings.Split(string(body), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func firstColumn(body []byte) []string {
	var out []string
	for _, l := range lines(body) {
		id, _, _ := strings.Cut(l, "\t")
		out = append(out, strings.TrimPrefix(id, "ds:"))
	}
	return out
}

func secondColumn(body []byte) []string {
	var out []string
	for _, l := range lines(body) {
		if _, v, ok := strings.Cut(l, "\t"); ok {
			out = append(out, strings.TrimSpace(v))
		}
	}
	return out
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
