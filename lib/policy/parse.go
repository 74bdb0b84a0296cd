// Copyright 2026 The polkit-no-script Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"
	"os"

	"gopkg.in/ini.v1"
)

// RuleFileSuffix is the file name suffix that marks a rule file.
// Directory entries without it are ignored by discovery.
const RuleFileSuffix = ".keyrules"

// DefaultPrivilegedGroup is substituted for the PrivilegedGroupToken
// when ParseOptions does not name a group.
const DefaultPrivilegedGroup = "wheel"

// PrivilegedGroupToken is the reserved InUnixGroups entry replaced at
// parse time with the host's administrative group, so shipped rule
// files work on systems that call the group "wheel", "sudo", or
// anything else.
const PrivilegedGroupToken = "%wheel%"

const (
	policySection = "Policy"
	rulesKey      = "Rules"
	adminRulesKey = "AdminRules"
	listSeparator = ";"
)

// ParseOptions adjust how rule files are interpreted.
type ParseOptions struct {
	// PrivilegedGroup replaces the PrivilegedGroupToken in
	// InUnixGroups entries. Empty means DefaultPrivilegedGroup.
	PrivilegedGroup string
}

// ParseFile reads and parses one rule file.
func ParseFile(path string, opts ParseOptions) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, data, opts)
}

// Parse parses rule file content. The path is only recorded on the
// returned RuleSet; errors do not embed it.
//
// Parsing is all-or-nothing: any malformed construct (bad keyfile
// syntax, missing [Policy] section, a Rules/AdminRules entry naming a
// section that does not exist, an unknown Result keyword, a malformed
// boolean) fails the whole file and no partial RuleSet is returned.
func Parse(path string, data []byte, opts ParseOptions) (*RuleSet, error) {
	file, err := ini.LoadSources(ini.LoadOptions{
		// Rule lists separate entries with ";" inside values, and the
		// keyfile format only has whole-line comments, so inline
		// comment splitting must be off.
		IgnoreInlineComment: true,
		KeyValueDelimiters:  "=",
	}, data)
	if err != nil {
		return nil, fmt.Errorf("load keyfile: %w", err)
	}

	top, err := file.GetSection(policySection)
	if err != nil {
		return nil, fmt.Errorf("missing [%s] section", policySection)
	}

	group := opts.PrivilegedGroup
	if group == "" {
		group = DefaultPrivilegedGroup
	}

	set := &RuleSet{Path: path}
	if top.HasKey(rulesKey) {
		for _, name := range top.Key(rulesKey).Strings(listSeparator) {
			rule, err := parseRule(file, name, group)
			if err != nil {
				return nil, err
			}
			set.Normal = append(set.Normal, rule)
		}
	}
	if top.HasKey(adminRulesKey) {
		for _, name := range top.Key(adminRulesKey).Strings(listSeparator) {
			rule, err := parseRule(file, name, group)
			if err != nil {
				return nil, err
			}
			set.Admin = append(set.Admin, rule)
		}
	}
	return set, nil
}

// parseRule reads one rule section. Every key is optional; a present
// key sets its constraint bit so evaluation can distinguish absent
// from empty.
func parseRule(file *ini.File, name, privilegedGroup string) (Rule, error) {
	if name == "" {
		return Rule{}, fmt.Errorf("[%s] lists an empty rule section name", policySection)
	}
	section, err := file.GetSection(name)
	if err != nil {
		return Rule{}, fmt.Errorf("rule section %q is not present in the file", name)
	}

	rule := Rule{ID: name}
	if section.HasKey("Actions") {
		rule.Constraints |= ConstraintActions
		rule.Actions = section.Key("Actions").Strings(listSeparator)
	}
	if section.HasKey("ActionContains") {
		rule.Constraints |= ConstraintActionContains
		rule.ActionContains = section.Key("ActionContains").Strings(listSeparator)
	}
	if section.HasKey("InUnixGroups") {
		rule.Constraints |= ConstraintUnixGroups
		groups := section.Key("InUnixGroups").Strings(listSeparator)
		for i, g := range groups {
			if g == PrivilegedGroupToken {
				groups[i] = privilegedGroup
			}
		}
		rule.UnixGroups = groups
	}
	if section.HasKey("InNetGroups") {
		rule.Constraints |= ConstraintNetGroups
		rule.NetGroups = section.Key("InNetGroups").Strings(listSeparator)
	}
	if section.HasKey("InUserNames") {
		rule.Constraints |= ConstraintUserNames
		rule.UserNames = section.Key("InUserNames").Strings(listSeparator)
	}
	if section.HasKey("Result") {
		verdict, err := ParseVerdict(section.Key("Result").String())
		if err != nil {
			return Rule{}, fmt.Errorf("rule section %q: Result: %w", name, err)
		}
		rule.Constraints |= ConstraintResult
		rule.Result = verdict
	}
	if section.HasKey("ResultInverse") {
		verdict, err := ParseVerdict(section.Key("ResultInverse").String())
		if err != nil {
			return Rule{}, fmt.Errorf("rule section %q: ResultInverse: %w", name, err)
		}
		rule.Constraints |= ConstraintResultInverse
		rule.ResultInverse = verdict
	}
	if section.HasKey("SubjectActive") {
		active, err := section.Key("SubjectActive").Bool()
		if err != nil {
			return Rule{}, fmt.Errorf("rule section %q: SubjectActive: %w", name, err)
		}
		rule.Constraints |= ConstraintSubjectActive
		rule.RequireActive = active
	}
	if section.HasKey("SubjectLocal") {
		local, err := section.Key("SubjectLocal").Bool()
		if err != nil {
			return Rule{}, fmt.Errorf("rule section %q: SubjectLocal: %w", name, err)
		}
		rule.Constraints |= ConstraintSubjectLocal
		rule.RequireLocal = local
	}
	return rule, nil
}
