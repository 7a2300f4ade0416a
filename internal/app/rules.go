package app

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"kpi-alerts/internal/rules"
)

// ErrNoRulesFile is returned when editing rules without rules_file configured.
var ErrNoRulesFile = errors.New("rules_file not configured; inline rules are read-only")

// RulesList prints the active rule set.
func (a *App) RulesList() error {
	set, err := a.loadRules()
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tType\tWindow\tDirection\tSeverity\tNotify\tLabel")
	for _, r := range set.Rules() {
		base := r.Common()
		fmt.Fprintf(writer, "%s\t%s\t%d\t%s\t%s\t%t\t%s\n",
			base.ID, r.Kind(), base.Window, base.Direction, base.Severity, base.Notify, rules.Label(r))
	}
	return writer.Flush()
}

// RulesAdd appends a rule to the rules file; an empty id gets the next free one.
func (a *App) RulesAdd(spec rules.Spec) (rules.Rule, error) {
	set, err := a.editableRules()
	if err != nil {
		return nil, err
	}

	if spec.ID == "" {
		spec.ID = set.NextID()
	}
	rule, err := spec.Rule()
	if err != nil {
		return nil, err
	}
	next, err := set.Add(rule)
	if err != nil {
		return nil, err
	}
	if err := rules.SaveFile(a.Config.RulesFile, next); err != nil {
		return nil, err
	}

	a.Logger.Info().Str("rule", spec.ID).Str("file", a.Config.RulesFile).Msg("rule added")
	return rule, nil
}

// RulesRemove deletes a rule from the rules file.
func (a *App) RulesRemove(id string) error {
	set, err := a.editableRules()
	if err != nil {
		return err
	}

	next, err := set.Remove(id)
	if err != nil {
		return err
	}
	if err := rules.SaveFile(a.Config.RulesFile, next); err != nil {
		return err
	}

	a.Logger.Info().Str("rule", id).Str("file", a.Config.RulesFile).Msg("rule removed")
	return nil
}

func (a *App) editableRules() (rules.Set, error) {
	if a.Config.RulesFile == "" {
		return rules.Set{}, ErrNoRulesFile
	}
	set, skipped, err := rules.LoadFile(a.Config.RulesFile)
	if err != nil {
		return rules.Set{}, err
	}
	if len(skipped) > 0 {
		// saving would silently drop the invalid entries
		return rules.Set{}, fmt.Errorf("rules file has %d invalid rule(s): %w", len(skipped), errors.Join(skipped...))
	}
	return set, nil
}
