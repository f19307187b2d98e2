package cli

import (
	"errors"
	"fmt"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"

	"github.com/quantmesh/QuorumGo/internal/config"
	"github.com/quantmesh/QuorumGo/internal/deliberation"
)

const (
	actionDeliberate = "Deliberate on a question"
	actionEvolve     = "Evolve strategies for a symbol"
	actionFeedback   = "Record preference feedback"
	actionTrain      = "Train the reward model"
	actionLessons    = "Show lessons learned"
	actionConfig     = "Show configuration"
	actionExit       = "Exit"
)

// runInteractiveMode drives the survey-based menu loop. Ctrl+C at any
// prompt returns to the menu; Exit leaves the loop.
func runInteractiveMode(cfg *config.Config) error {
	ClearScreen()
	DisplayWelcomeBanner()
	fmt.Println()

	for {
		var action string
		err := survey.AskOne(&survey.Select{
			Message: "What would you like to do?",
			Options: []string{
				actionDeliberate,
				actionEvolve,
				actionFeedback,
				actionTrain,
				actionLessons,
				actionConfig,
				actionExit,
			},
		}, &action)
		if err != nil {
			if errors.Is(err, terminal.InterruptErr) {
				fmt.Println("Goodbye!")
				return nil
			}
			return err
		}

		if action == actionExit {
			fmt.Println("Goodbye!")
			return nil
		}

		if err := runInteractiveAction(cfg, action); err != nil {
			if errors.Is(err, terminal.InterruptErr) {
				continue
			}
			fmt.Println(errorStyle.Render("Error: " + err.Error()))
		}
		fmt.Println()
	}
}

func runInteractiveAction(cfg *config.Config, action string) error {
	switch action {
	case actionDeliberate:
		question, err := PromptForQuestion()
		if err != nil {
			return err
		}
		agents, err := PromptForAgents(cfg.DeliberationAgents)
		if err != nil {
			return err
		}
		choices, err := PromptForChoices()
		if err != nil {
			return err
		}
		return runDeliberateCommand(cfg, question, agents, deliberation.VoteWeighted, choices)

	case actionEvolve:
		symbol, err := PromptForSymbol()
		if err != nil {
			return err
		}
		return runEvolveCommand(cfg, symbol)

	case actionFeedback:
		return runFeedbackCollect(cfg)

	case actionTrain:
		return runFeedbackTrain(cfg)

	case actionLessons:
		return runReflectCommand(cfg, "", 10)

	case actionConfig:
		showConfig(cfg)
		return nil
	}
	return nil
}
