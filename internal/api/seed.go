package api

import (
	"context"
	"math/rand/v2"

	"github.com/rjsadow/dolist/internal/db"
)

// SampleTitles are the todos inserted into an empty store by Seed.
var SampleTitles = []string{"Buy milk", "Eat pizza", "Update tutorial", "Study Vue", "Go kayaking"}

// Seed fills an empty todo store with SampleTitles, each randomly completed.
// A store that already has todos is left alone.
func Seed(ctx context.Context, database *db.DB) error {
	todos := make([]db.Todo, 0, len(SampleTitles))
	for _, title := range SampleTitles {
		todos = append(todos, db.Todo{Title: title, Completed: rand.IntN(2) == 1})
	}
	return database.SeedTodos(ctx, todos)
}
