package tools

import (
	"encoding/json"
	"fmt"

	"github.com/sirine-ai/sirine/internal/store"
)

type leadArgs struct {
	CustomerName       string `json:"customerName"`
	CustomerPhone      string `json:"customerPhone"`
	InterestedProducts string `json:"interestedProducts"`
	Summary            string `json:"summary"`
	Urgency            string `json:"urgency"`
}

func (d *Dispatcher) reportLead(raw json.RawMessage) string {
	var args leadArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		d.log.Warn("lead tool called with bad arguments", "err", err)
		return resultInvalidArgs
	}
	if args.CustomerName == "" || args.InterestedProducts == "" || args.Summary == "" {
		d.log.Warn("lead tool called with missing required fields", "customer", args.CustomerName)
		return resultInvalidArgs
	}

	priority := store.PriorityNormal
	if args.Urgency == string(store.PriorityUrgent) {
		priority = store.PriorityUrgent
	}

	d.store.AddLead(store.SalesLead{
		CustomerName:       args.CustomerName,
		CustomerPhone:      args.CustomerPhone,
		InterestedProducts: args.InterestedProducts,
		Summary:            args.Summary,
		Priority:           priority,
	})
	d.store.TriggerReportToast()
	d.store.AddLog(store.LogAI, fmt.Sprintf("Outil Ventes : Lead capturé (%s)", args.CustomerName))
	return "OK."
}
