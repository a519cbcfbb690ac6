// internal/merge/rules.go

// Package merge runs the rule-driven mail merge: for every recipient row and dispatch rule it
// fetches the rule's template, fills it, attaches payment QR codes, sends the message and writes
// the outcome back into the row.
package merge

import (
	"strings"

	apperrors "mailmerge-workers/internal/common/errors"
	"mailmerge-workers/internal/sheets"
)

// Rule table header names.
const (
	ColRuleTopic     = "Email Topic"
	ColRuleCondition = "Column Condition To Send"
	ColRuleStatus    = "Column Sent"
)

// Rule says which template to send when ConditionColumn triggers, and where to record the outcome.
type Rule struct {
	Topic           string
	ConditionColumn string
	StatusColumn    string

	conditionIdx int
	statusIdx    int
}

// LoadRules reads the rule table and resolves each rule's columns against the recipient header.
// Any unusable rule is a CONFIGURATION_ERROR.
func LoadRules(table *sheets.Table, recipients *sheets.Table) ([]Rule, error) {
	if err := table.Require(ColRuleTopic, ColRuleCondition, ColRuleStatus); err != nil {
		return nil, err
	}

	rules := make([]Rule, 0, len(table.Rows))
	statusOwners := make(map[string]string)
	for _, row := range table.Rows {
		r := Rule{
			Topic:           strings.TrimSpace(table.Get(row, ColRuleTopic)),
			ConditionColumn: strings.TrimSpace(table.Get(row, ColRuleCondition)),
			StatusColumn:    strings.TrimSpace(table.Get(row, ColRuleStatus)),
		}
		if r.Topic == "" || r.ConditionColumn == "" || r.StatusColumn == "" {
			return nil, apperrors.NewConfigurationErrorf("rule row %d: topic, condition column and status column are required", row.Number)
		}

		var err error
		if r.conditionIdx, err = recipients.Column(r.ConditionColumn); err != nil {
			return nil, apperrors.NewConfigurationErrorf("rule row %d: condition column %q not in %s", row.Number, r.ConditionColumn, recipients.Sheet)
		}
		if r.statusIdx, err = recipients.Column(r.StatusColumn); err != nil {
			return nil, apperrors.NewConfigurationErrorf("rule row %d: status column %q not in %s", row.Number, r.StatusColumn, recipients.Sheet)
		}
		if r.statusIdx == r.conditionIdx {
			return nil, apperrors.NewConfigurationErrorf("rule row %d: condition and status share column %q", row.Number, r.StatusColumn)
		}
		if owner, taken := statusOwners[r.StatusColumn]; taken {
			return nil, apperrors.NewConfigurationErrorf("rule row %d: status column %q already used by topic %q", row.Number, r.StatusColumn, owner)
		}
		statusOwners[r.StatusColumn] = r.Topic

		rules = append(rules, r)
	}
	return rules, nil
}
