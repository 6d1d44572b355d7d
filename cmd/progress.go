package cmd

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/brensch/lscollection/internal/app"
	"github.com/brensch/lscollection/internal/processor"
)

// runWithProgress runs work behind the progress view. Quitting the view
// cancels ctx for work and waits for it to return.
func runWithProgress(ctx context.Context, tag string, total int, work func(ctx context.Context, progress chan<- processor.ProcessProgress) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	task := func(progress chan<- processor.ProcessProgress) error {
		return work(ctx, progress)
	}
	model := app.NewAppModel(tag, int64(total), task, cancel)
	if _, err := tea.NewProgram(model).Run(); err != nil {
		return fmt.Errorf("progress view: %w", err)
	}
	return model.Wait()
}
