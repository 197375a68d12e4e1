package rank

import (
	"context"
	"fmt"
	"strings"
)

// ProfileRequest is the typed form of a "best candidates for this profile"
// query.
type ProfileRequest struct {
	ProfileName     string   `json:"profile_name" validate:"required"`
	ExperienceYears *int     `json:"experience_years,omitempty" validate:"omitempty,min=0,max=60"`
	TopK            int      `json:"top_k,omitempty" validate:"omitempty,min=1,max=20"`
	MaxHops         int      `json:"max_hops,omitempty" validate:"omitempty,min=1,max=5"`
	Alpha           *float64 `json:"alpha,omitempty" validate:"omitempty,min=0,max=1"`
	Candidates      []string `json:"candidates,omitempty"`
	CandidateType   string   `json:"candidate_type,omitempty"`
}

// ExperienceEntity names the experience-level entity for a minimum number of
// years.
func ExperienceEntity(years int) string {
	return fmt.Sprintf("%d+ years experience", years)
}

func (p ProfileRequest) Request() Request {
	req := Request{
		Target:        strings.TrimSpace(p.ProfileName),
		Candidates:    p.Candidates,
		CandidateType: p.CandidateType,
		MaxHops:       p.MaxHops,
		TopK:          p.TopK,
		Alpha:         p.Alpha,
	}
	if p.ExperienceYears != nil && *p.ExperienceYears > 0 {
		req.ExtraTargets = []string{ExperienceEntity(*p.ExperienceYears)}
	}
	return req
}

// RankProfile ranks candidates against a job profile, counting graph paths
// from the experience entity as well when a minimum is given.
func (e *Engine) RankProfile(ctx context.Context, p ProfileRequest, tracer Tracer) (*Result, error) {
	req := p.Request()
	req.Tracer = tracer
	return e.Rank(ctx, req)
}
