package va

import (
	"strings"

	"github.com/MrWong99/dmva/pkg/vocab"
)

// ModelPrefixes lists the role prefixes a grammar model name must start with.
var ModelPrefixes = []string{"Administrator", "Physician", "Nurse"}

// The validators below are pure: they inspect arguments only and return
// either nil or a BadRequestError fault. Structural rules (presence, shape)
// are checked before format rules, and the first failure wins.

// ValidateOpen checks the arguments of [Controller.Open].
func ValidateOpen(model string, _ map[string]any) error {
	if strings.TrimSpace(model) == "" {
		return newFault(BadRequestError, "model must not be empty")
	}
	for _, p := range ModelPrefixes {
		if strings.HasPrefix(model, p) {
			return nil
		}
	}
	return newFault(BadRequestError, "model %q must start with one of %s", model, strings.Join(ModelPrefixes, ", "))
}

// ValidateText checks the argument of [Controller.SendText].
func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return newFault(BadRequestError, "text must not be empty")
	}
	return nil
}

// ValidateChoices checks the items of [Controller.PromptForChoice].
func ValidateChoices(items []vocab.Pair) error {
	if err := vocab.CheckPairs(items); err != nil {
		return &Fault{Code: BadRequestError, Message: "choices: " + err.Error()}
	}
	return nil
}

// ParseChoices decodes a JSON choice list for [Controller.PromptForChoiceJSON].
func ParseChoices(itemsJSON string) ([]vocab.Pair, error) {
	items, err := vocab.ParsePairs([]byte(itemsJSON))
	if err != nil {
		return nil, &Fault{Code: BadRequestError, Message: "choices", Err: err}
	}
	return items, nil
}

// ValidateEntities checks the entity list of [Controller.PromptForEntities].
func ValidateEntities(entities []string) error {
	if len(entities) == 0 {
		return newFault(BadRequestError, "at least one entity is required")
	}
	for i, e := range entities {
		if strings.TrimSpace(e) == "" {
			return newFault(BadRequestError, "entities[%d] must not be empty", i)
		}
	}
	for _, e := range entities {
		if !vocab.ValidName(e) {
			return newFault(BadRequestError, "invalid entity name %q", e)
		}
	}
	return nil
}

// ValidateValues checks a name and pair list for durable uploads and inline
// sets. Inline sets over [vocab.InlineSoftLimit] are still valid; see
// [InlineOverLimit].
func ValidateValues(name string, pairs []vocab.Pair) error {
	if strings.TrimSpace(name) == "" {
		return newFault(BadRequestError, "name must not be empty")
	}
	if err := vocab.CheckPairs(pairs); err != nil {
		return &Fault{Code: BadRequestError, Message: "values of " + name + ": " + err.Error()}
	}
	return validateName(name)
}

// ParseValues decodes and validates the JSON entries of a durable upload.
func ParseValues(name, valuesJSON string) ([]vocab.Pair, error) {
	if strings.TrimSpace(name) == "" {
		return nil, newFault(BadRequestError, "name must not be empty")
	}
	pairs, err := vocab.ParsePairs([]byte(valuesJSON))
	if err != nil {
		return nil, &Fault{Code: BadRequestError, Message: "values of " + name, Err: err}
	}
	if err := validateName(name); err != nil {
		return nil, err
	}
	return pairs, nil
}

// ValidateName checks a concept/entity name for clear operations.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return newFault(BadRequestError, "name must not be empty")
	}
	return validateName(name)
}

func validateName(name string) error {
	if !vocab.ValidName(name) {
		return newFault(BadRequestError, "invalid concept/entity name %q", name)
	}
	return nil
}

// InlineOverLimit reports whether an inline set exceeds the recommended size.
func InlineOverLimit(pairs []vocab.Pair) bool {
	return len(pairs) > vocab.InlineSoftLimit
}
