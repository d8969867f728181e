package oco

import (
	"context"
	"sort"

	"cryptoexecutor/src/model"
)

// GroupIssue is a live group whose members are not exactly one stop-loss
// and one take-profit.
type GroupIssue struct {
	GroupID string   `json:"group_id"`
	Roles   []string `json:"roles"`
}

type AuditReport struct {
	Orphans    []string     `json:"orphans"`
	Incomplete []GroupIssue `json:"incomplete_groups"`
}

func (r AuditReport) OK() bool {
	return len(r.Orphans) == 0 && len(r.Incomplete) == 0
}

// Audit reports orphaned legs and incomplete groups. It never repairs.
func (e *Engine) Audit(ctx context.Context) (AuditReport, error) {
	rep := AuditReport{Orphans: []string{}, Incomplete: []GroupIssue{}}

	orphans, err := e.orders.ListOrphanedLegs(ctx)
	if err != nil {
		return rep, err
	}
	for _, o := range orphans {
		rep.Orphans = append(rep.Orphans, o.OrderID)
	}

	groups, err := e.orders.ListLiveGroupIDs(ctx)
	if err != nil {
		return rep, err
	}
	sort.Strings(groups)
	for _, g := range groups {
		members, err := e.orders.ListGroup(ctx, g)
		if err != nil {
			return rep, err
		}
		var roles []string
		sl, tp := 0, 0
		for _, m := range members {
			if !m.IsProtectiveLeg() || m.IsTerminal() {
				continue
			}
			roles = append(roles, m.Role())
			switch m.Role() {
			case model.OrderRoleStopLoss:
				sl++
			case model.OrderRoleTakeProfit:
				tp++
			}
		}
		if sl != 1 || tp != 1 {
			sort.Strings(roles)
			rep.Incomplete = append(rep.Incomplete, GroupIssue{GroupID: g, Roles: roles})
		}
	}
	return rep, nil
}
