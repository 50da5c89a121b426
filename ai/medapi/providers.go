package medapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// FactSource is the lookup surface handlers fan out to. *Client and *CachedSource
// implement it.
type FactSource interface {
	DrugLabel(ctx context.Context, name string) (*DrugLabel, error)
	DrugInteractions(ctx context.Context, name string) (*DrugInteractions, error)
	RxNorm(ctx context.Context, name string) (*RxNormResult, error)
	SearchLiterature(ctx context.Context, query string, limit int) ([]Article, error)
	ICD10(ctx context.Context, term string) ([]ICD10Code, error)
	Nutrition(ctx context.Context, food string) (*Nutrition, error)
}

// DrugLabel is the first matching OpenFDA label.
type DrugLabel struct {
	BrandName        string `json:"brand_name"`
	GenericName      string `json:"generic_name"`
	Purpose          string `json:"purpose,omitempty"`
	Warnings         string `json:"warnings,omitempty"`
	ActiveIngredient string `json:"active_ingredient,omitempty"`
	Dosage           string `json:"dosage_and_administration,omitempty"`
	AdverseReactions string `json:"adverse_reactions,omitempty"`
}

// DrugInteractions is the interaction section of an OpenFDA label.
type DrugInteractions struct {
	DrugName     string `json:"drug_name"`
	Interactions string `json:"interactions"`
}

// RxConcept is one RxNorm concept.
type RxConcept struct {
	RxCUI   string `json:"rxcui"`
	Name    string `json:"name"`
	Synonym string `json:"synonym,omitempty"`
	TTY     string `json:"tty"`
}

// RxNormResult holds the top RxNorm concepts for a drug name.
type RxNormResult struct {
	DrugName string      `json:"drug_name"`
	Concepts []RxConcept `json:"concepts"`
}

// Article is a PubMed summary.
type Article struct {
	PMID    string   `json:"pmid"`
	Title   string   `json:"title"`
	Authors []string `json:"authors,omitempty"`
	Source  string   `json:"source"`
	PubDate string   `json:"pubdate"`
	URL     string   `json:"url"`
}

// ICD10Code is one ICD-10-CM match.
type ICD10Code struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Nutrition is the first USDA FoodData match.
type Nutrition struct {
	FoodName    string            `json:"food_name"`
	Brand       string            `json:"brand"`
	Nutrients   map[string]string `json:"nutrients"`
	ServingSize float64           `json:"serving_size,omitempty"`
	ServingUnit string            `json:"serving_unit,omitempty"`
}

type openFDALabel struct {
	OpenFDA struct {
		BrandName   []string `json:"brand_name"`
		GenericName []string `json:"generic_name"`
	} `json:"openfda"`
	Purpose          []string `json:"purpose"`
	Warnings         []string `json:"warnings"`
	ActiveIngredient []string `json:"active_ingredient"`
	Dosage           []string `json:"dosage_and_administration"`
	AdverseReactions []string `json:"adverse_reactions"`
	DrugInteractions []string `json:"drug_interactions"`
}

func first(vals []string, fallback string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return fallback
}

func (c *Client) searchLabel(ctx context.Context, search string) (*openFDALabel, error) {
	var body struct {
		Results []openFDALabel `json:"results"`
	}
	params := url.Values{"search": {search}, "limit": {"1"}}
	if err := c.getJSON(ctx, "openfda", c.endpoints.OpenFDA, "/drug/label.json", params, &body); err != nil {
		return nil, err
	}
	if len(body.Results) == 0 {
		return nil, ErrNotFound
	}
	return &body.Results[0], nil
}

// DrugLabel looks a drug up by brand or generic name.
func (c *Client) DrugLabel(ctx context.Context, name string) (*DrugLabel, error) {
	l, err := c.searchLabel(ctx, fmt.Sprintf(`openfda.brand_name:"%s" OR openfda.generic_name:"%s"`, name, name))
	if err != nil {
		return nil, err
	}
	return &DrugLabel{
		BrandName:        first(l.OpenFDA.BrandName, "Unknown"),
		GenericName:      first(l.OpenFDA.GenericName, "Unknown"),
		Purpose:          first(l.Purpose, "No purpose information"),
		Warnings:         first(l.Warnings, "No warnings available"),
		ActiveIngredient: first(l.ActiveIngredient, "Unknown"),
		Dosage:           first(l.Dosage, "No dosage information"),
		AdverseReactions: first(l.AdverseReactions, "No adverse reaction information"),
	}, nil
}

// DrugInteractions returns the interaction section of the drug's label.
func (c *Client) DrugInteractions(ctx context.Context, name string) (*DrugInteractions, error) {
	l, err := c.searchLabel(ctx, fmt.Sprintf(`openfda.brand_name:"%s" AND _exists_:drug_interactions`, name))
	if err != nil {
		return nil, err
	}
	return &DrugInteractions{
		DrugName:     name,
		Interactions: first(l.DrugInteractions, "No interaction information available"),
	}, nil
}

// RxNorm returns at most five RxNorm concepts for a drug name.
func (c *Client) RxNorm(ctx context.Context, name string) (*RxNormResult, error) {
	var body struct {
		DrugGroup struct {
			ConceptGroup []struct {
				ConceptProperties []RxConcept `json:"conceptProperties"`
			} `json:"conceptGroup"`
		} `json:"drugGroup"`
	}
	if err := c.getJSON(ctx, "rxnorm", c.endpoints.RxNav, "/REST/drugs.json", url.Values{"name": {name}}, &body); err != nil {
		return nil, err
	}

	res := &RxNormResult{DrugName: name}
	for _, g := range body.DrugGroup.ConceptGroup {
		for _, cp := range g.ConceptProperties {
			if len(res.Concepts) == 5 {
				return res, nil
			}
			res.Concepts = append(res.Concepts, cp)
		}
	}
	if len(res.Concepts) == 0 {
		return nil, ErrNotFound
	}
	return res, nil
}

// SearchLiterature runs a PubMed esearch followed by esummary. No hits is not an error.
func (c *Client) SearchLiterature(ctx context.Context, query string, limit int) ([]Article, error) {
	if limit <= 0 {
		limit = 5
	}
	var search struct {
		Result struct {
			IDList []string `json:"idlist"`
		} `json:"esearchresult"`
	}
	params := url.Values{
		"db":      {"pubmed"},
		"term":    {query},
		"retmax":  {strconv.Itoa(limit)},
		"retmode": {"json"},
	}
	if err := c.getJSON(ctx, "pubmed", c.endpoints.EUtils, "/entrez/eutils/esearch.fcgi", params, &search); err != nil {
		return nil, err
	}
	ids := search.Result.IDList
	if len(ids) == 0 {
		return []Article{}, nil
	}

	var summary struct {
		Result map[string]any `json:"result"`
	}
	params = url.Values{"db": {"pubmed"}, "id": {strings.Join(ids, ",")}, "retmode": {"json"}}
	if err := c.getJSON(ctx, "pubmed", c.endpoints.EUtils, "/entrez/eutils/esummary.fcgi", params, &summary); err != nil {
		return nil, err
	}

	articles := make([]Article, 0, len(ids))
	for _, id := range ids {
		info, _ := summary.Result[id].(map[string]any)
		a := Article{
			PMID:    id,
			Title:   stringField(info, "title", "No title"),
			Source:  stringField(info, "source", "Unknown"),
			PubDate: stringField(info, "pubdate", "Unknown"),
			URL:     "https://pubmed.ncbi.nlm.nih.gov/" + id + "/",
		}
		if authors, ok := info["authors"].([]any); ok {
			for _, au := range authors {
				if m, ok := au.(map[string]any); ok {
					if n, ok := m["name"].(string); ok {
						a.Authors = append(a.Authors, n)
					}
				}
			}
		}
		articles = append(articles, a)
	}
	return articles, nil
}

func stringField(m map[string]any, key, fallback string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

// ICD10 searches ICD-10-CM codes by term.
func (c *Client) ICD10(ctx context.Context, term string) ([]ICD10Code, error) {
	// [total, codes, extra, [[code, name], ...]]
	var body []json.RawMessage
	params := url.Values{"sf": {"code,name"}, "terms": {term}, "maxList": {"5"}}
	if err := c.getJSON(ctx, "icd10", c.endpoints.ClinicalTables, "/api/icd10cm/v3/search", params, &body); err != nil {
		return nil, err
	}
	if len(body) < 4 {
		return nil, ErrNotFound
	}
	var rows [][]string
	if err := json.Unmarshal(body[3], &rows); err != nil {
		return nil, fmt.Errorf("medapi: decode icd10 rows: %w", err)
	}
	codes := make([]ICD10Code, 0, len(rows))
	for _, r := range rows {
		if len(r) >= 2 {
			codes = append(codes, ICD10Code{Code: r[0], Description: r[1]})
		}
	}
	if len(codes) == 0 {
		return nil, ErrNotFound
	}
	return codes, nil
}

// Nutrition looks a food up in USDA FoodData Central. It needs an API key.
func (c *Client) Nutrition(ctx context.Context, food string) (*Nutrition, error) {
	if c.usdaKey == "" {
		return nil, ErrNotConfigured
	}
	var body struct {
		Foods []struct {
			Description     string  `json:"description"`
			BrandOwner      string  `json:"brandOwner"`
			ServingSize     float64 `json:"servingSize"`
			ServingSizeUnit string  `json:"servingSizeUnit"`
			FoodNutrients   []struct {
				NutrientName string  `json:"nutrientName"`
				Value        float64 `json:"value"`
				UnitName     string  `json:"unitName"`
			} `json:"foodNutrients"`
		} `json:"foods"`
	}
	params := url.Values{"api_key": {c.usdaKey}, "query": {food}, "pageSize": {"1"}}
	if err := c.getJSON(ctx, "usda", c.endpoints.USDA, "/fdc/v1/foods/search", params, &body); err != nil {
		return nil, err
	}
	if len(body.Foods) == 0 {
		return nil, ErrNotFound
	}
	f := body.Foods[0]
	n := &Nutrition{
		FoodName:    f.Description,
		Brand:       f.BrandOwner,
		Nutrients:   make(map[string]string, len(f.FoodNutrients)),
		ServingSize: f.ServingSize,
		ServingUnit: f.ServingSizeUnit,
	}
	if n.Brand == "" {
		n.Brand = "Generic"
	}
	for _, nu := range f.FoodNutrients {
		if nu.NutrientName != "" && nu.Value != 0 {
			n.Nutrients[nu.NutrientName] = strconv.FormatFloat(nu.Value, 'f', -1, 64) + " " + nu.UnitName
		}
	}
	return n, nil
}
