package importer

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"portaladmin/config"
	"portaladmin/model"
)

// Policy decides how roster rows become workers. The role and W9 tables differ
// between rosters, so they are data rather than code.
type Policy struct {
	SeedID           string
	ActiveSentinel   string
	Roles            map[string]model.Role
	DefaultRole      model.Role
	W9               map[string]model.W9Status
	DefaultW9        model.W9Status
	DefaultRate      decimal.Decimal
	DefaultLanguage  string
	DefaultAppAccess string
}

func DefaultPolicy() Policy {
	return Policy{
		SeedID:         "SG-001",
		ActiveSentinel: "Active",
		Roles: map[string]model.Role{
			"1":     model.RoleWorker,
			"2":     model.RoleLead,
			"3":     model.RoleSupervisor,
			"Admin": model.RoleAdmin,
		},
		DefaultRole: model.RoleWorker,
		W9: map[string]model.W9Status{
			"approved": model.W9Approved,
			"pending":  model.W9Pending,
			"none":     model.W9Pending,
		},
		DefaultW9:        model.W9Pending,
		DefaultRate:      decimal.RequireFromString("18.00"),
		DefaultLanguage:  "English",
		DefaultAppAccess: "Worker",
	}
}

// PolicyFromConfig builds a Policy from the import settings, starting from
// DefaultPolicy for anything the settings leave empty.
func PolicyFromConfig(c config.ImportConfig) (Policy, error) {
	p := DefaultPolicy()
	if c.SeedID != "" {
		p.SeedID = c.SeedID
	}
	if c.ActiveSentinel != "" {
		p.ActiveSentinel = c.ActiveSentinel
	}
	if c.DefaultLanguage != "" {
		p.DefaultLanguage = c.DefaultLanguage
	}
	if c.DefaultRate != "" {
		rate, err := decimal.NewFromString(c.DefaultRate)
		if err != nil {
			return Policy{}, fmt.Errorf("default rate %q: %w", c.DefaultRate, err)
		}
		p.DefaultRate = rate.Round(2)
	}
	if c.DefaultRole != "" {
		r := model.Role(c.DefaultRole)
		if !r.IsValid() {
			return Policy{}, fmt.Errorf("default role %q is not a portal role", c.DefaultRole)
		}
		p.DefaultRole = r
	}
	if c.RoleMap != "" {
		roles, err := c.Roles()
		if err != nil {
			return Policy{}, fmt.Errorf("role map: %w", err)
		}
		p.Roles = roles
	}
	if c.W9Map != "" {
		w9, err := c.W9Statuses()
		if err != nil {
			return Policy{}, fmt.Errorf("w9 map: %w", err)
		}
		p.W9 = w9
	}
	return p, nil
}

// FilterActive keeps the records whose Availability is exactly sentinel.
func FilterActive(records []SourceRecord, sentinel string) []SourceRecord {
	active := make([]SourceRecord, 0, len(records))
	for _, rec := range records {
		if rec.Get(AvailabilityHdr) == sentinel {
			active = append(active, rec)
		}
	}
	return active
}

// MapToCanonical turns a roster row into a Worker. It never fails: every field
// has a fallback, so a messy row still yields a well-formed worker.
func (p Policy) MapToCanonical(rec SourceRecord) model.Worker {
	w := model.Worker{
		ID:          rec.Get(WorkerIDHdr),
		DisplayName: rec.Get(DisplayNameHdr),
		Email:       strings.ToLower(rec.Get(EmailHdr)),
		Role:        p.role(rec.Get(RoleHdr)),
		HourlyRate:  p.rate(rec.Get(HourlyRateHdr)),
		Language:    rec.Get(PrimaryLanguageHdr),
		IsActive:    true,
		W9Status:    p.w9(rec.Get(W9StatusHdr)),
	}
	if phone := rec.Get(PhoneHdr); phone != "" {
		w.Phone = &phone
	}
	if w.Language == "" {
		w.Language = p.DefaultLanguage
	}
	access := rec.Get(AppAccessHdr)
	if access == "" {
		access = p.DefaultAppAccess
	}
	w.Notes = "App Access: " + access
	return w
}

func (p Policy) role(code string) model.Role {
	if r, ok := p.Roles[code]; ok {
		return r
	}
	return p.DefaultRole
}

func (p Policy) w9(status string) model.W9Status {
	if s, ok := p.W9[strings.ToLower(status)]; ok {
		return s
	}
	return p.DefaultW9
}

func (p Policy) rate(raw string) decimal.Decimal {
	raw = strings.TrimPrefix(raw, "$")
	if raw == "" {
		return p.DefaultRate
	}
	r, err := decimal.NewFromString(raw)
	if err != nil {
		return p.DefaultRate
	}
	return r.Round(2)
}
