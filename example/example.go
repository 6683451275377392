// Package example registers a small reference domain, a work tracker
// with projects and tasks. The CLI demo and the end-to-end tests run
// against it; applications register their own types instead.
package example

import (
	"context"
	"errors"
	"time"

	"github.com/artpar/docmap/core/registry"
	"github.com/artpar/docmap/core/schema"
	"github.com/artpar/docmap/document"
	"github.com/artpar/docmap/domain/docid"
	"github.com/artpar/docmap/domain/safetext"
)

// Priority grades how urgent a task is.
type Priority string

// Priority values, low to high.
const (
	Low    Priority = "low"
	Normal Priority = "normal"
	High   Priority = "high"
)

// Labels attaches free-form string labels to a task. Keys may contain
// periods; the store rendering escapes them.
type Labels map[string]string

// Comment is one remark on a task. Comments nest inside tasks rather
// than being stored on their own.
type Comment struct {
	Author docid.ID        `docmap:"author"`
	Text   safetext.String `docmap:"text"`
	At     time.Time       `docmap:"at"`
}

// Task is a unit of work inside a project.
type Task struct {
	document.Meta
	document.OwnedBy
	Project  docid.ID        `docmap:"project"`
	Title    safetext.String `docmap:"title,update"`
	Done     bool            `docmap:"done,update"`
	Priority Priority        `docmap:"priority,default normal,update"`
	Points   int64           `docmap:"points,update"`
	Due      *time.Time      `docmap:"due,update"`
	Labels   Labels          `docmap:"labels,update"`
	Comments []Comment       `docmap:"comments,update"`
	Extra    map[string]any  `docmap:",extra"`
}

// Validate rejects tasks whose title is blank.
func (t *Task) Validate() error {
	if t.Title == "" {
		return schema.Invalidf("task title must not be blank")
	}
	return nil
}

// Project groups tasks under a name.
type Project struct {
	document.Meta
	document.OwnedBy
	Name     safetext.String `docmap:"name,update"`
	Archived bool            `docmap:"archived,update"`
	Saves    int64           `docmap:"saves"`
}

// BeforeSave counts writes, whatever path they take.
func (p *Project) BeforeSave(m document.UpdateMethod) error {
	p.Saves++
	return nil
}

// BeforeDelete refuses to drop archived projects; unarchive first.
func (p *Project) BeforeDelete(ctx context.Context) error {
	if p.Archived {
		return errors.New("project is archived")
	}
	return nil
}

// Register declares the tracker types on a registry builder.
func Register(b *registry.Builder) error {
	if err := b.Pseudo("priority", Priority(""),
		schema.WithValues(Low, Normal, High)); err != nil {
		return err
	}
	if err := b.Dict("labels", Labels(nil)); err != nil {
		return err
	}
	if err := b.Record("comment", Comment{}); err != nil {
		return err
	}
	if err := b.Document("task", Task{}, "tasks",
		schema.WithUpdateValidate("points", func(ref schema.UpdateRef, v any) error {
			if n, ok := v.(int64); ok && n < 0 {
				return errors.New("points must not be negative")
			}
			return nil
		})); err != nil {
		return err
	}
	return b.Document("project", Project{}, "projects")
}
