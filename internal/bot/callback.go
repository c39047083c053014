package bot

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	prefixCategory = "cat_"
	prefixShareYes = "share_yes_"
	prefixShareNo  = "share_no_"
	prefixCancel   = "cancel_"
)

type actionKind int

const (
	actionCategory actionKind = iota + 1
	actionShared
	actionSolo
	actionCancel
)

type action struct {
	kind          actionKind
	transactionID string
	index         int
}

func categoryData(txID string, index int) string {
	return prefixCategory + txID + "_" + strconv.Itoa(index)
}

func shareData(txID string, shared bool) string {
	if shared {
		return prefixShareYes + txID
	}
	return prefixShareNo + txID
}

func cancelData(txID string) string {
	return prefixCancel + txID
}

// parseCallback decodes the data attached to an inline button.
func parseCallback(data string) (action, error) {
	switch {
	case strings.HasPrefix(data, prefixCategory):
		rest := strings.TrimPrefix(data, prefixCategory)
		i := strings.LastIndex(rest, "_")
		if i <= 0 {
			return action{}, fmt.Errorf("parseCallback: malformed category data %q", data)
		}
		index, err := strconv.Atoi(rest[i+1:])
		if err != nil {
			return action{}, fmt.Errorf("parseCallback: category index in %q: %w", data, err)
		}
		return action{kind: actionCategory, transactionID: rest[:i], index: index}, nil
	case strings.HasPrefix(data, prefixShareYes):
		return withID(actionShared, data, prefixShareYes)
	case strings.HasPrefix(data, prefixShareNo):
		return withID(actionSolo, data, prefixShareNo)
	case strings.HasPrefix(data, prefixCancel):
		return withID(actionCancel, data, prefixCancel)
	default:
		return action{}, fmt.Errorf("parseCallback: unknown data %q", data)
	}
}

func withID(kind actionKind, data, prefix string) (action, error) {
	id := strings.TrimPrefix(data, prefix)
	if id == "" {
		return action{}, fmt.Errorf("parseCallback: missing transaction id in %q", data)
	}
	return action{kind: kind, transactionID: id}, nil
}

func categoryKeyboard(txID string) [][]Choice {
	var rows [][]Choice
	var row []Choice
	for i, name := range Categories {
		row = append(row, Choice{Text: name, Data: categoryData(txID, i)})
		if len(row) == categoriesPerRow || i == len(Categories)-1 {
			rows = append(rows, row)
			row = nil
		}
	}
	return append(rows, []Choice{{Text: btnCancel, Data: cancelData(txID)}})
}

func sharingKeyboard(txID string) [][]Choice {
	return [][]Choice{
		{
			{Text: btnShared, Data: shareData(txID, true)},
			{Text: btnSolo, Data: shareData(txID, false)},
		},
		{{Text: btnCancel, Data: cancelData(txID)}},
	}
}
