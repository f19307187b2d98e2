package cli

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/AlecAivazis/survey/v2"
)

// PromptForSymbol prompts the user to enter a stock ticker symbol
func PromptForSymbol() (string, error) {
	var symbol string
	prompt := &survey.Input{
		Message: "Enter the stock ticker symbol (e.g., AAPL, MSFT, GOOGL):",
		Help:    "The symbol strategies will be generated and backtested for",
	}

	err := survey.AskOne(prompt, &symbol, survey.WithValidator(func(val interface{}) error {
		str := strings.TrimSpace(strings.ToUpper(val.(string)))
		if len(str) == 0 {
			return fmt.Errorf("ticker symbol cannot be empty")
		}
		if len(str) > 10 {
			return fmt.Errorf("ticker symbol too long (max 10 characters)")
		}
		matched, _ := regexp.MatchString(`^[A-Z0-9.-]+$`, str)
		if !matched {
			return fmt.Errorf("invalid ticker format (use letters, numbers, dots, and hyphens only)")
		}
		return nil
	}))

	if err != nil {
		return "", err
	}

	return strings.TrimSpace(strings.ToUpper(symbol)), nil
}

// PromptForQuestion prompts for a free-form deliberation question
func PromptForQuestion() (string, error) {
	var question string
	prompt := &survey.Input{
		Message: "What should the agents deliberate on?",
		Help:    "A trading question, e.g. 'Should we enter AAPL this week?'",
	}

	err := survey.AskOne(prompt, &question, survey.WithValidator(survey.Required))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(question), nil
}

// PromptForAgents lets the user pick the debating agent personas
func PromptForAgents(available []string) ([]string, error) {
	var agents []string
	prompt := &survey.MultiSelect{
		Message: "Select the agents to debate:",
		Options: available,
		Default: available,
	}

	err := survey.AskOne(prompt, &agents, survey.WithValidator(survey.MinItems(1)))
	if err != nil {
		return nil, err
	}
	return agents, nil
}

// PromptForChoices asks for optional canonical answer choices
func PromptForChoices() ([]string, error) {
	var raw string
	prompt := &survey.Input{
		Message: "Canonical choices (comma separated, empty for free-form):",
		Help:    "E.g. BUY,SELL,HOLD. Positions get bucketed into these answers.",
	}

	if err := survey.AskOne(prompt, &raw); err != nil {
		return nil, err
	}

	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var choices []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			choices = append(choices, part)
		}
	}
	return choices, nil
}

// PromptForPreference collects one human preference sample
func PromptForPreference() (prompt, responseA, responseB string, preference int, reasoning string, err error) {
	questions := []*survey.Question{
		{
			Name:     "prompt",
			Prompt:   &survey.Input{Message: "Prompt the responses answered:"},
			Validate: survey.Required,
		},
		{
			Name:     "responseA",
			Prompt:   &survey.Multiline{Message: "Response A:"},
			Validate: survey.Required,
		},
		{
			Name:     "responseB",
			Prompt:   &survey.Multiline{Message: "Response B:"},
			Validate: survey.Required,
		},
	}

	answers := struct {
		Prompt    string
		ResponseA string
		ResponseB string
	}{}
	if err = survey.Ask(questions, &answers); err != nil {
		return
	}

	var choice string
	err = survey.AskOne(&survey.Select{
		Message: "Which response is better?",
		Options: []string{"Response A", "Response B", "Tie"},
	}, &choice)
	if err != nil {
		return
	}

	switch choice {
	case "Response A":
		preference = -1
	case "Response B":
		preference = 1
	default:
		preference = 0
	}

	if err = survey.AskOne(&survey.Input{Message: "Why? (optional):"}, &reasoning); err != nil {
		return
	}

	return answers.Prompt, answers.ResponseA, answers.ResponseB, preference, reasoning, nil
}
