package intent

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Profile is one configured issue scenario, e.g. "Blocked Drains".
type Profile struct {
	ID                  string   `yaml:"id,omitempty"`
	Workflow            string   `yaml:"workflow"`
	Purpose             string   `yaml:"purpose,omitempty"`
	CustomerIntent      string   `yaml:"customer_intent,omitempty"`
	TrainingUtterances  []string `yaml:"training_utterances,omitempty"`
	CommonPhrases       []string `yaml:"common_phrases,omitempty"`
	JobsCovered         []string `yaml:"jobs_covered,omitempty"`
	ClarifyingQuestions []string `yaml:"clarifying_questions,omitempty"`
	RoutingLogic        string   `yaml:"routing_logic,omitempty"`
	AutomationActions   string   `yaml:"automation_actions,omitempty"`
}

// Profiles is an immutable set of issue profiles.
type Profiles struct {
	list []Profile
}

// NewProfiles normalizes ids and drops rows without a workflow name.
func NewProfiles(list []Profile) *Profiles {
	out := make([]Profile, 0, len(list))
	for _, p := range list {
		p.Workflow = strings.TrimSpace(p.Workflow)
		if p.Workflow == "" {
			continue
		}
		if p.ID == "" {
			p.ID = Slugify(p.Workflow)
		}
		out = append(out, p)
	}
	return &Profiles{list: out}
}

// All returns a copy of the profiles.
func (p *Profiles) All() []Profile {
	if p == nil {
		return nil
	}
	return append([]Profile(nil), p.list...)
}

// Len reports the number of profiles.
func (p *Profiles) Len() int {
	if p == nil {
		return 0
	}
	return len(p.list)
}

// Get looks a profile up by id (slugified).
func (p *Profiles) Get(id string) (*Profile, bool) {
	if p == nil {
		return nil, false
	}
	slug := Slugify(id)
	for i := range p.list {
		if p.list[i].ID == slug {
			return &p.list[i], true
		}
	}
	return nil, false
}

var tokenSplit = regexp.MustCompile(`\W+`)

// Match scores text against every profile: three points per contained
// phrase of at least four characters, one per workflow-name token. The
// confidence is score/10 clamped to [0.1, 1].
func (p *Profiles) Match(text string) (*Profile, float64) {
	if p == nil {
		return nil, 0
	}
	lower := strings.ToLower(text)
	if strings.TrimSpace(lower) == "" {
		return nil, 0
	}

	var best *Profile
	bestScore := 0.0
	for i := range p.list {
		prof := &p.list[i]
		score := 0.0
		for _, phrases := range [][]string{prof.TrainingUtterances, prof.CommonPhrases} {
			for _, phrase := range phrases {
				ph := strings.ToLower(strings.TrimSpace(phrase))
				if len(ph) < 4 {
					continue
				}
				if strings.Contains(lower, ph) {
					score += 3
				}
			}
		}
		for _, tok := range tokenSplit.Split(strings.ToLower(prof.Workflow), -1) {
			if tok != "" && strings.Contains(lower, tok) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = prof, score
		}
	}
	if best == nil {
		return nil, 0
	}
	return best, min(1, max(0.1, bestScore/10))
}

var (
	slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)
	spaceRun    = regexp.MustCompile(`\s+`)
)

// Slugify turns a workflow name into a stable id.
func Slugify(s string) string {
	slug := strings.Trim(slugInvalid.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "_"), "_")
	if slug == "" {
		return "unknown"
	}
	return slug
}

// LoadProfiles reads a .csv or .yaml/.yml profile file.
func LoadProfiles(path string) (*Profiles, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open profiles: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return ParseCSV(f)
	case ".yaml", ".yml":
		return ParseYAML(f)
	default:
		return nil, fmt.Errorf("profiles: unsupported file type %q", filepath.Ext(path))
	}
}

// CSV column headers.
const (
	colWorkflow            = "Workflow"
	colPurpose             = "Purpose"
	colCustomerIntent      = "Customer Intent"
	colTrainingUtterances  = "Training Utterances"
	colCommonPhrases       = "Common Phrases"
	colJobsCovered         = "Jobs Covered"
	colClarifyingQuestions = "Clarifying Questions"
	colRoutingLogic        = "Routing Logic"
	colAutomationActions   = "Automation Actions"
)

// ParseCSV reads the intent-mapping sheet. List columns separate entries with
// semicolons.
func ParseCSV(r io.Reader) (*Profiles, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return NewProfiles(nil), nil
		}
		return nil, fmt.Errorf("read profiles header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	if _, ok := index[colWorkflow]; !ok {
		return nil, fmt.Errorf("profiles: missing %q column", colWorkflow)
	}

	var list []Profile
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read profiles row: %w", err)
		}
		field := func(name string) string {
			i, ok := index[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}
		list = append(list, Profile{
			Workflow:            field(colWorkflow),
			Purpose:             field(colPurpose),
			CustomerIntent:      field(colCustomerIntent),
			TrainingUtterances:  splitList(field(colTrainingUtterances)),
			CommonPhrases:       splitList(field(colCommonPhrases)),
			JobsCovered:         splitList(field(colJobsCovered)),
			ClarifyingQuestions: splitList(field(colClarifyingQuestions)),
			RoutingLogic:        field(colRoutingLogic),
			AutomationActions:   field(colAutomationActions),
		})
	}
	return NewProfiles(list), nil
}

// ParseYAML reads profiles from a document of the form
//
//	profiles:
//	  - workflow: Blocked Drains
//	    common_phrases: [blocked drain, slow drain]
func ParseYAML(r io.Reader) (*Profiles, error) {
	var doc struct {
		Profiles []Profile `yaml:"profiles"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return NewProfiles(nil), nil
		}
		return nil, fmt.Errorf("decode profiles: %w", err)
	}
	return NewProfiles(doc.Profiles), nil
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ";") {
		part = strings.Trim(strings.TrimSpace(part), `"'`)
		part = spaceRun.ReplaceAllString(part, " ")
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
