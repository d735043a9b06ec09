package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"chat-agent/internal/domain"
	"chat-agent/internal/integrations/todoist"
)

const (
	AddToListName = "add_to_list"
	ListItemsName = "list_items"
)

type AddToListInput struct {
	Item string `json:"item" jsonschema_description:"The item to add, in the user's own words."`
	Due  string `json:"due,omitempty" jsonschema_description:"Optional due date in natural language, e.g. 'tomorrow 9am'."`
}

type ListItemsInput struct{}

var addToListSpec = domain.ToolSpec{
	Name:        AddToListName,
	Description: "Add an item to the user's shopping or to-do list.",
	Parameters:  GenerateSchema[AddToListInput](),
}

var listItemsSpec = domain.ToolSpec{
	Name:        ListItemsName,
	Description: "List the open items on the user's list.",
	Parameters:  GenerateSchema[ListItemsInput](),
}

// requestID derives a stable idempotency key from the tool call id so a
// redelivered event does not create the task twice.
func requestID(callID string) string {
	if callID == "" {
		return ""
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(AddToListName+":"+callID)).String()
}

func addToListArgs(call domain.ToolCall) (AddToListInput, error) {
	var in AddToListInput
	if err := decodeArgs(call, &in); err != nil {
		return in, err
	}
	in.Item = strings.TrimSpace(in.Item)
	if in.Item == "" {
		return in, &ValidationError{Tool: AddToListName, Reason: "item is required"}
	}
	return in, nil
}

func validateAddToList(call domain.ToolCall) error {
	_, err := addToListArgs(call)
	return err
}

func validateListItems(call domain.ToolCall) error {
	var in ListItemsInput
	return decodeArgs(call, &in)
}

func addToList(list TaskList) handlerFunc {
	return func(ctx context.Context, call domain.ToolCall) (string, error) {
		in, err := addToListArgs(call)
		if err != nil {
			return "", err
		}

		task, err := list.AddTask(ctx, todoist.NewTask{
			Content:   in.Item,
			DueString: in.Due,
			RequestID: requestID(call.ID),
		})
		if err != nil {
			return "", fmt.Errorf("tools: %s: %w", AddToListName, err)
		}
		if task.Due != nil && task.Due.String != "" {
			return fmt.Sprintf("Added %q to the list (due %s).", in.Item, task.Due.String), nil
		}
		return fmt.Sprintf("Added %q to the list.", in.Item), nil
	}
}

func listItems(list TaskList) handlerFunc {
	return func(ctx context.Context, call domain.ToolCall) (string, error) {
		if err := validateListItems(call); err != nil {
			return "", err
		}
		tasks, err := list.ListTasks(ctx)
		if err != nil {
			return "", fmt.Errorf("tools: %s: %w", ListItemsName, err)
		}
		if len(tasks) == 0 {
			return "The list is empty.", nil
		}

		var b strings.Builder
		b.WriteString("Open items:")
		for _, t := range tasks {
			b.WriteString("\n- ")
			b.WriteString(t.Content)
			if t.Due != nil && t.Due.String != "" {
				fmt.Fprintf(&b, " (due %s)", t.Due.String)
			}
		}
		return b.String(), nil
	}
}
