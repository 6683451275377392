package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artpar/docmap/adapters/memory"
	"github.com/artpar/docmap/bootstrap"
	"github.com/artpar/docmap/core/fieldpath"
	"github.com/artpar/docmap/document"
	"github.com/artpar/docmap/domain/docid"
	"github.com/artpar/docmap/example"
)

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Walk through the programming model in memory",
	Long: `Run a guided walkthrough of the document mapping layer against an
in-memory store: typed inserts, atomic field updates, version
conflicts, pointer dereferencing with ownership checks, and the
owner purge cascade. Nothing touches the configured store.

Examples:
  docmap demo`,
	RunE: runDemo,
}

func init() {
	rootCmd.AddCommand(demoCmd)
}

var (
	demoAlice = docid.ID("00000000000000000000a11c")
	demoBob   = docid.ID("00000000000000000000b0b1")
)

func runDemo(cmd *cobra.Command, args []string) error {
	app, err := bootstrap.New(bootstrap.Options{
		ConfigPath: cfgFile,
		Register:   example.Register,
		Store:      memory.NewStore(),
	})
	if err != nil {
		return err
	}
	defer app.Shutdown()

	ctx := cmd.Context()
	fmt.Println("Running the tracker walkthrough against an in-memory store.")
	fmt.Println()

	tasks, err := document.CollectionOf[example.Task](app.Service)
	if err != nil {
		return err
	}
	projects, err := document.CollectionOf[example.Project](app.Service)
	if err != nil {
		return err
	}

	// Typed inserts: ids, versions and defaults are assigned on the
	// way in.
	proj, err := projects.Insert(ctx, &example.Project{
		OwnedBy: document.OwnedBy{OwnerID: demoAlice},
		Name:    "release",
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s Inserted project %s (version %d, saves %d)\n",
		checkMark, proj.ID, proj.Version, proj.Saves)

	task, err := tasks.Insert(ctx, &example.Task{
		OwnedBy: document.OwnedBy{OwnerID: demoAlice},
		Project: proj.ID,
		Title:   "ship the release",
		Points:  5,
		Labels:  example.Labels{"area": "infra", "ci.stage": "deploy"},
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s Inserted task %s with default priority %q\n",
		checkMark, task.ID, task.Priority)

	if _, err := tasks.Insert(ctx, &example.Task{
		OwnedBy: document.OwnedBy{OwnerID: demoBob},
		Project: proj.ID,
		Title:   "review the notes",
	}); err != nil {
		return err
	}
	fmt.Printf("%s Inserted a second task owned by another account\n", checkMark)

	// Atomic single-field update: one field travels to the store, the
	// version advances.
	priorityPath, err := tasks.Path(fieldpath.Field("priority"))
	if err != nil {
		return err
	}
	before := task.Version
	if err := tasks.UpdateField(ctx, task, priorityPath, example.High); err != nil {
		return err
	}
	fmt.Printf("%s Updated %s atomically (version %d -> %d)\n",
		checkMark, priorityPath, before, task.Version)

	// Version conflict: a stale copy loses the race.
	stale := *task
	stale.Version = before
	err = tasks.UpdateField(ctx, &stale, priorityPath, example.Low)
	if errors.Is(err, document.ErrConflict) {
		fmt.Printf("%s Stale write refused: %v\n", checkMark, err)
	} else if err != nil {
		return err
	} else {
		fmt.Printf("%s Stale write unexpectedly succeeded\n", crossMark)
	}

	// Pointer access: owner reads pass, strangers are refused without
	// detail.
	pointsPath, err := tasks.Path(fieldpath.Field("points"))
	if err != nil {
		return err
	}
	ptr := fieldpath.Pointer{DocumentID: task.ID, Path: pointsPath}
	v, err := app.Service.Dereference(ctx, demoAlice, ptr)
	if err != nil {
		return err
	}
	fmt.Printf("%s Dereferenced %s as the owner: %v\n", checkMark, ptr, v)

	if _, err := app.Service.Dereference(ctx, demoBob, ptr); errors.Is(err, document.ErrUnauthorized) {
		fmt.Printf("%s Stranger dereference refused: %v\n", checkMark, err)
	} else {
		fmt.Printf("%s Stranger dereference should have been refused\n", crossMark)
	}

	// Counting is owner-filterable.
	n, err := tasks.Count(ctx, map[string]any{"owner_id": string(demoAlice)})
	if err != nil {
		return err
	}
	fmt.Printf("%s Count of tasks owned by the demo account: %d\n", checkMark, n)

	// Deletion hooks gate removal.
	archivedPath, err := projects.Path(fieldpath.Field("archived"))
	if err != nil {
		return err
	}
	if err := projects.UpdateField(ctx, proj, archivedPath, true); err != nil {
		return err
	}
	if err := projects.Delete(ctx, proj); errors.Is(err, document.ErrReferenced) {
		fmt.Printf("%s Archived project refused deletion: %v\n", checkMark, err)
	} else {
		fmt.Printf("%s Archived project should refuse deletion\n", crossMark)
	}

	// Account removal cascades across every document type.
	purged, err := app.Service.PurgeOwner(ctx, demoAlice)
	if err != nil {
		return err
	}
	fmt.Printf("%s Purged the demo account: %d documents removed\n", checkMark, purged)

	fmt.Println()
	fmt.Println("Done. Explore further with:")
	fmt.Println("  docmap collections")
	fmt.Println("  docmap dump task --flat")
	return nil
}
