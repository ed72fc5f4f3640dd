package access

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	masterdata "msm-monitoring/internal/masterdata/domain"
)

// LineRef names a line by its shop and position.
type LineRef struct {
	Shop string              `yaml:"shop"`
	Line masterdata.LineType `yaml:"line"`
}

// RoleGrant is the scope a job title receives.
type RoleGrant struct {
	Scope ScopeType `yaml:"scope"`
	Shops []string  `yaml:"shops,omitempty"`
	Lines []LineRef `yaml:"lines,omitempty"`
}

// RoleTable maps job titles to grants. Titles absent from the table resolve to NONE.
type RoleTable struct {
	Roles map[string]RoleGrant `yaml:"roles"`
}

const (
	shopSinter = "Агломерационный цех"
	shopESPC   = "Электросталеплавильный цех"
)

// DefaultRoleTable returns the plant's built-in title grants.
func DefaultRoleTable() RoleTable {
	return RoleTable{Roles: map[string]RoleGrant{
		"Директор":                        {Scope: ScopeAll},
		"Главный аналитик":                {Scope: ScopeAll},
		"Начальник аглофабрики":           {Scope: ScopeShop, Shops: []string{shopSinter}},
		"Начальник ЭСПЦ":                  {Scope: ScopeShop, Shops: []string{shopESPC}},
		"Аналитик 1-ой линии аглофабрики": {Scope: ScopeLine, Lines: []LineRef{{Shop: shopSinter, Line: masterdata.LineFirst}}},
		"Аналитик 2-ой линии аглофабрики": {Scope: ScopeLine, Lines: []LineRef{{Shop: shopSinter, Line: masterdata.LineSecond}}},
		"Аналитик 1-ой линии ЭСПЦ":        {Scope: ScopeLine, Lines: []LineRef{{Shop: shopESPC, Line: masterdata.LineFirst}}},
		"Аналитик 2-ой линии ЭСПЦ":        {Scope: ScopeLine, Lines: []LineRef{{Shop: shopESPC, Line: masterdata.LineSecond}}},
	}}
}

// ParseRoleTable decodes and validates a YAML role table.
func ParseRoleTable(data []byte) (RoleTable, error) {
	var table RoleTable
	if err := yaml.Unmarshal(data, &table); err != nil {
		return RoleTable{}, fmt.Errorf("access: parse role table: %w", err)
	}
	if err := table.Validate(); err != nil {
		return RoleTable{}, err
	}
	return table, nil
}

// LoadRoleTable reads a YAML role table from disk.
func LoadRoleTable(path string) (RoleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RoleTable{}, err
	}
	return ParseRoleTable(data)
}

// Validate checks that every grant names the targets its scope needs.
func (t RoleTable) Validate() error {
	if len(t.Roles) == 0 {
		return errors.New("access: empty role table")
	}
	for title, grant := range t.Roles {
		switch grant.Scope {
		case ScopeAll, ScopeNone:
		case ScopeShop:
			if len(grant.Shops) == 0 {
				return fmt.Errorf("access: role %q: shop scope without shops", title)
			}
		case ScopeLine:
			if len(grant.Lines) == 0 {
				return fmt.Errorf("access: role %q: line scope without lines", title)
			}
			for _, ref := range grant.Lines {
				if ref.Shop == "" || !ref.Line.Valid() {
					return fmt.Errorf("access: role %q: invalid line reference", title)
				}
			}
		default:
			return fmt.Errorf("access: role %q: unknown scope %q", title, grant.Scope)
		}
	}
	return nil
}
