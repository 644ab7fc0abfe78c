// Package distribution turns raw per-bucket values into percentage snapshots
// whose buckets always sum to exactly 100.
package distribution

import (
	"fmt"
	"strings"
)

type Kind string

const (
	KindAge       Kind = "age"
	KindEducation Kind = "education"
	KindSkill     Kind = "skill"
)

// Spec declares the ordered bucket labels of one distribution kind.
type Spec struct {
	Kind   Kind
	Labels []string
}

func (s Spec) Has(label string) bool {
	for _, l := range s.Labels {
		if l == label {
			return true
		}
	}
	return false
}

type Catalog struct {
	specs []Spec
	index map[Kind]Spec
}

func NewCatalog(specs ...Spec) (*Catalog, error) {
	c := &Catalog{index: make(map[Kind]Spec, len(specs))}
	for _, s := range specs {
		if s.Kind == "" {
			return nil, fmt.Errorf("distribution kind is empty")
		}
		if _, dup := c.index[s.Kind]; dup {
			return nil, fmt.Errorf("distribution kind %q declared twice", s.Kind)
		}
		if len(s.Labels) == 0 {
			return nil, fmt.Errorf("distribution kind %q has no buckets", s.Kind)
		}
		seen := make(map[string]struct{}, len(s.Labels))
		for _, l := range s.Labels {
			if strings.TrimSpace(l) == "" {
				return nil, fmt.Errorf("distribution kind %q has a blank bucket label", s.Kind)
			}
			if _, ok := seen[l]; ok {
				return nil, fmt.Errorf("distribution kind %q repeats bucket %q", s.Kind, l)
			}
			seen[l] = struct{}{}
		}
		c.specs = append(c.specs, s)
		c.index[s.Kind] = s
	}
	return c, nil
}

func (c *Catalog) Spec(kind Kind) (Spec, bool) {
	s, ok := c.index[kind]
	return s, ok
}

func (c *Catalog) Specs() []Spec {
	return append([]Spec(nil), c.specs...)
}

// Labels returns every label across all kinds.
func (c *Catalog) Labels() []string {
	var out []string
	for _, s := range c.specs {
		out = append(out, s.Labels...)
	}
	return out
}

// DefaultCatalog is the set of breakdowns shown per unit on the dashboard.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		Spec{Kind: KindAge, Labels: []string{"35岁及以下", "36-45岁", "46-55岁", "56岁及以上"}},
		Spec{Kind: KindEducation, Labels: []string{"研究生", "大学本科", "大学专科", "中专及以下"}},
		Spec{Kind: KindSkill, Labels: []string{"高级技师", "技师", "高级工", "中级工", "初级工", "无等级"}},
	)
	if err != nil {
		panic(err)
	}
	return c
}

// AgeBucket places an age into the age kind's labels.
func AgeBucket(age int) string {
	switch {
	case age <= 35:
		return "35岁及以下"
	case age <= 45:
		return "36-45岁"
	case age <= 55:
		return "46-55岁"
	default:
		return "56岁及以上"
	}
}

// EducationBucket maps free-text education levels onto the education kind.
func EducationBucket(education string) string {
	e := strings.TrimSpace(education)
	switch {
	case strings.Contains(e, "博士"), strings.Contains(e, "硕士"), strings.Contains(e, "研究生"):
		return "研究生"
	case strings.Contains(e, "本科"), strings.Contains(e, "大学") && !strings.Contains(e, "专科"):
		return "大学本科"
	case strings.Contains(e, "专科"), strings.Contains(e, "大专"):
		return "大学专科"
	default:
		return "中专及以下"
	}
}

// SkillBucket keeps exact skill labels and folds the rest into "无等级".
func SkillBucket(skill string) string {
	s := strings.TrimSpace(skill)
	switch s {
	case "高级技师", "技师", "高级工", "中级工", "初级工":
		return s
	default:
		return "无等级"
	}
}
