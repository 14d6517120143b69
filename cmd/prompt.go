package cmd

import (
	"github.com/charmbracelet/huh"
)

// pendingCodeOption is one row of the pairing-code picker.
type pendingCodeOption struct {
	Label string
	Code  string
}

func runForm(field huh.Field) error {
	return huh.NewForm(huh.NewGroup(field)).WithShowHelp(true).Run()
}

// askText reads one line of free text.
func askText(title, hint string) (string, error) {
	var text string
	err := runForm(huh.NewInput().Title(title).Description(hint).Value(&text))
	return text, err
}

// pickPendingCode lets the operator choose among pending codes. Long lists
// get type-to-filter.
func pickPendingCode(title string, rows []pendingCodeOption) (string, error) {
	opts := make([]huh.Option[string], len(rows))
	for i, row := range rows {
		opts[i] = huh.NewOption(row.Label, row.Code)
	}

	var code string
	sel := huh.NewSelect[string]().Title(title).Options(opts...).Value(&code)
	if len(rows) > 8 {
		sel = sel.Filtering(true)
	}
	if err := runForm(sel); err != nil {
		return "", err
	}
	return code, nil
}

// confirm asks a yes/no question, defaulting to yes.
func confirm(title string) (bool, error) {
	ok := true
	err := runForm(huh.NewConfirm().Title(title).Affirmative("Send").Negative("Cancel").Value(&ok))
	return ok, err
}
