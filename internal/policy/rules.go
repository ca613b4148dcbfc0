package policy

import (
	"fmt"
	"os"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"
)

// RuleFile is the YAML form of a rule-driven gate:
//
//	admins: [alice]
//	can_create: 'name != "admin"'
//	bypass_combat: admin
//	bypass_warmup: 'admin || owner startsWith "vip_"'
//	default_max_profiles: 1
//	max_profiles:
//	  - when: admin
//	    limit: -1
//	  - when: 'owner startsWith "vip_"'
//	    limit: 5
type RuleFile struct {
	Admins             []string    `yaml:"admins"`
	CanCreate          string      `yaml:"can_create"`
	BypassCombat       string      `yaml:"bypass_combat"`
	BypassWarmup       string      `yaml:"bypass_warmup"`
	DefaultMaxProfiles *int        `yaml:"default_max_profiles"`
	MaxProfiles        []LimitRule `yaml:"max_profiles"`
}

type LimitRule struct {
	When  string `yaml:"when"`
	Limit int    `yaml:"limit"`
}

type limitProgram struct {
	when  *vm.Program
	limit int
}

// RuleGate evaluates compiled expr-lang rules. An empty rule allows creation
// and denies bypasses; an evaluation error denies.
type RuleGate struct {
	admins       map[string]bool
	canCreate    *vm.Program
	bypassCombat *vm.Program
	bypassWarmup *vm.Program
	defaultLimit int
	limits       []limitProgram
}

func LoadRuleFile(path string) (*RuleGate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParseRules(data)
}

func ParseRules(data []byte) (*RuleGate, error) {
	var rf RuleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	return CompileRules(rf)
}

func CompileRules(rf RuleFile) (*RuleGate, error) {
	g := &RuleGate{
		admins:       make(map[string]bool, len(rf.Admins)),
		defaultLimit: DefaultMaxProfiles,
	}
	for _, id := range rf.Admins {
		g.admins[strings.TrimSpace(id)] = true
	}
	if rf.DefaultMaxProfiles != nil {
		g.defaultLimit = *rf.DefaultMaxProfiles
	}

	var err error
	if g.canCreate, err = compileRule("can_create", rf.CanCreate); err != nil {
		return nil, err
	}
	if g.bypassCombat, err = compileRule("bypass_combat", rf.BypassCombat); err != nil {
		return nil, err
	}
	if g.bypassWarmup, err = compileRule("bypass_warmup", rf.BypassWarmup); err != nil {
		return nil, err
	}
	for i, rule := range rf.MaxProfiles {
		if strings.TrimSpace(rule.When) == "" {
			return nil, fmt.Errorf("max_profiles[%d]: when must not be empty", i)
		}
		p, err := compileRule(fmt.Sprintf("max_profiles[%d]", i), rule.When)
		if err != nil {
			return nil, err
		}
		g.limits = append(g.limits, limitProgram{when: p, limit: rule.Limit})
	}
	return g, nil
}

func compileRule(field, expression string) (*vm.Program, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, nil
	}
	p, err := expr.Compile(expression, expr.Env(ruleEnv("", "", false)), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile %s %q: %w", field, expression, err)
	}
	return p, nil
}

func ruleEnv(ownerID, name string, admin bool) map[string]any {
	return map[string]any{
		"owner": ownerID,
		"name":  name,
		"admin": admin,
	}
}

func (g *RuleGate) eval(p *vm.Program, ownerID, name string, fallback bool) bool {
	if p == nil {
		return fallback
	}
	out, err := expr.Run(p, ruleEnv(ownerID, name, g.admins[ownerID]))
	if err != nil {
		return false
	}
	ok, _ := out.(bool)
	return ok
}

func (g *RuleGate) CanCreate(ownerID, name string) bool {
	return g.eval(g.canCreate, ownerID, name, true)
}

// MaxProfiles returns the limit of the first matching rule.
func (g *RuleGate) MaxProfiles(ownerID string) int {
	for _, l := range g.limits {
		if g.eval(l.when, ownerID, "", false) {
			return l.limit
		}
	}
	return g.defaultLimit
}

func (g *RuleGate) CanBypassCombat(ownerID string) bool {
	return g.eval(g.bypassCombat, ownerID, "", false)
}

func (g *RuleGate) CanBypassWarmup(ownerID string) bool {
	return g.eval(g.bypassWarmup, ownerID, "", false)
}

var (
	_ Gate = (*RuleGate)(nil)
	_ Gate = (*StaticGate)(nil)
)
