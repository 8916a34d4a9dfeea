package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/taskfuse/taskfuse/internal/storage"
	"github.com/taskfuse/taskfuse/internal/todo"
	"github.com/taskfuse/taskfuse/internal/ui"
)

var (
	addProject  string
	addPriority int
	addTags     []string
	addDue      string
)

var addCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a task",
	Long: `Add a task to the local database.

Due dates accept natural language: --due "tomorrow at 5pm",
--due "next friday", --due "in 2 hours".`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp(nil)
		if err != nil {
			fatal(err)
		}
		defer a.close()

		t := &todo.Todo{
			Title:    strings.Join(args, " "),
			Project:  addProject,
			Priority: addPriority,
			Tags:     addTags,
		}

		if addDue != "" {
			w := when.New(nil)
			w.Add(en.All...)
			w.Add(common.All...)

			r, err := w.Parse(addDue, time.Now())
			if err != nil || r == nil {
				fatal(fmt.Errorf("could not understand due date %q", addDue))
			}
			due := r.Time.UTC()
			t.DueDate = &due
		}

		if err := a.todos.Add(context.Background(), t); err != nil {
			fatal(err)
		}

		fmt.Printf("%s Added task %d: %s\n", ui.RenderPass("✓"), t.ID, t.Title)
		if t.DueDate != nil {
			fmt.Printf("   due %s\n", t.DueDate.Local().Format("Mon Jan 2 15:04"))
		}
	},
}

var (
	listProject string
	listAll     bool
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp(nil)
		if err != nil {
			fatal(err)
		}
		defer a.close()

		todos, err := a.todos.List(context.Background(), storage.ListFilter{
			Project:          listProject,
			IncludeCompleted: listAll,
			IncludeArchived:  listAll,
		})
		if err != nil {
			fatal(err)
		}

		if len(todos) == 0 {
			fmt.Printf("%s No tasks\n", ui.RenderDim("·"))
			return
		}

		for _, t := range todos {
			mark := " "
			if t.Completed {
				mark = ui.RenderPass("✓")
			}
			line := fmt.Sprintf("[%s] %-4d %s", mark, t.ID, t.Title)
			if t.DueDate != nil {
				line += ui.RenderDim(fmt.Sprintf("  (due %s)", t.DueDate.Local().Format("Jan 2")))
			}
			if t.Priority >= todo.PriorityHigh {
				line += " " + ui.RenderWarn("!")
			}
			fmt.Println(line)
		}
	},
}

var doneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a task completed",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := openApp(nil)
		if err != nil {
			fatal(err)
		}
		defer a.close()

		var id int64
		if _, err := fmt.Sscanf(args[0], "%d", &id); err != nil {
			fatal(fmt.Errorf("invalid task id %q", args[0]))
		}

		ctx := context.Background()
		t, err := a.todos.Get(ctx, id)
		if err != nil {
			fatal(err)
		}
		if t == nil {
			fatal(fmt.Errorf("task %d not found", id))
		}

		t.Complete(time.Time{})
		if err := a.todos.Update(ctx, t); err != nil {
			fatal(err)
		}
		fmt.Printf("%s Completed: %s\n", ui.RenderPass("✓"), t.Title)
	},
}

func init() {
	addCmd.Flags().StringVarP(&addProject, "project", "P", "", "project name")
	addCmd.Flags().IntVar(&addPriority, "priority", 0, "priority 1-4 (1=low, 4=critical)")
	addCmd.Flags().StringSliceVarP(&addTags, "tag", "t", nil, "tags (repeatable)")
	addCmd.Flags().StringVarP(&addDue, "due", "d", "", "due date (natural language)")

	listCmd.Flags().StringVarP(&listProject, "project", "P", "", "filter by project")
	listCmd.Flags().BoolVarP(&listAll, "all", "a", false, "include completed and archived")

	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(doneCmd)
}
