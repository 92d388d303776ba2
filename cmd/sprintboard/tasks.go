package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"sprintboard/internal/app"
	"sprintboard/internal/config"
	"sprintboard/internal/domain"
	"sprintboard/internal/storage"
)

func roomCmd() *cobra.Command {
	room := &cobra.Command{Use: "room", Short: "Manage rooms"}
	room.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List rooms: remote rooms when signed in, local room codes otherwise",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if app.SelectMode(a.Config.Backend.Mode, a.Auth.State()) != config.ModeRemote {
					codes, err := a.Rooms().List(ctx)
					if err != nil {
						return err
					}
					return printJSONOrTable(codes)
				}
				svc, err := a.Remote(ctx)
				if err != nil {
					return err
				}
				rooms, err := svc.GetUserRooms(ctx)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(rooms)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Code", "Name", "ID", "Owner"})
				for _, r := range rooms {
					tw.AppendRow(table.Row{r.RoomCode, r.Name, r.ID, r.OwnerID})
				}
				tw.Render()
				return nil
			})
		},
	})

	var in domain.RoomInput
	var desc string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a remote room",
		RunE: func(cmd *cobra.Command, args []string) error {
			if desc != "" {
				in.Description = &desc
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				svc, err := a.Remote(ctx)
				if err != nil {
					return err
				}
				r, err := svc.CreateRoom(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
	create.Flags().StringVar(&in.Name, "name", "", "room name")
	create.Flags().StringVar(&desc, "description", "", "room description")
	create.Flags().StringVar(&in.RoomCode, "code", "", "room code (generated when empty)")
	create.Flags().BoolVar(&in.IsPublic, "public", false, "mark room public")
	room.AddCommand(create)

	room.AddCommand(&cobra.Command{
		Use:   "join CODE",
		Short: "Join a remote room by code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				svc, err := a.Remote(ctx)
				if err != nil {
					return err
				}
				r, err := svc.JoinRoom(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	})

	room.AddCommand(&cobra.Command{
		Use:   "members CODE",
		Short: "List members of a remote room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				svc, err := a.Remote(ctx)
				if err != nil {
					return err
				}
				if err := app.SelectRoom(ctx, svc, args[0]); err != nil {
					return err
				}
				members, err := svc.ListRoomMembers(ctx, svc.CurrentRoom())
				if err != nil {
					return err
				}
				return printJSONOrTable(members)
			})
		},
	})

	room.AddCommand(&cobra.Command{
		Use:   "delete CODE",
		Short: "Delete a remote room with its tasks, or clear a local room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if app.SelectMode(a.Config.Backend.Mode, a.Auth.State()) != config.ModeRemote {
					return a.Rooms().Clear(ctx, args[0])
				}
				svc, err := a.Remote(ctx)
				if err != nil {
					return err
				}
				if err := app.SelectRoom(ctx, svc, args[0]); err != nil {
					return err
				}
				return svc.DeleteRoom(ctx, svc.CurrentRoom())
			})
		},
	})
	return room
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks of the selected room (--room)"}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskDeleteCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var f domain.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, svc storage.DataService) error {
				tasks, err := svc.GetTasks(ctx, f)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Activity", "Status", "Priority", "Sprint", "Developer", "Estimate"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Activity, t.Status, t.Priority, t.Sprint, t.Developer, t.EstimateHours})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Priority, "priority", "", "priority filter")
	cmd.Flags().StringVar(&f.Sprint, "sprint", "", "sprint substring filter")
	cmd.Flags().StringVar(&f.Developer, "developer", "", "developer substring filter")
	cmd.Flags().StringVar(&f.Epic, "epic", "", "epic substring filter")
	cmd.Flags().StringVar(&f.CreatedAfter, "created-after", "", "created strictly after (RFC 3339)")
	cmd.Flags().StringVar(&f.CreatedBefore, "created-before", "", "created strictly before (RFC 3339)")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "page size")
	cmd.Flags().IntVar(&f.Offset, "offset", 0, "page offset")
	return cmd
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, svc storage.DataService) error {
				t, err := svc.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				if t == nil {
					return storage.TaskNotFound(args[0])
				}
				return printJSONOrTable(t)
			})
		},
	}
}

// taskFlags registers the editable task fields; only flags the user set are applied.
func taskFlags(fs *pflag.FlagSet) {
	fs.String("activity", "", "activity")
	fs.String("epic", "", "epic")
	fs.String("story", "", "user story")
	fs.String("sprint", "", "sprint")
	fs.String("developer", "", "developer")
	fs.String("priority", "", "priority (Baixa, Média, Alta, Crítica)")
	fs.String("status", "", "status (Backlog, Priorizado, Doing, Done)")
	fs.Float64("estimate", 0, "estimate in hours")
	fs.Float64("spent", 0, "time spent in hours")
	fs.Float64("error-rate", 0, "error rate")
	fs.Bool("spent-validated", false, "time spent validated")
	fs.String("error-reason", "", "error reason")
}

func fieldsFromFlags(fs *pflag.FlagSet) domain.TaskFields {
	var f domain.TaskFields
	str := func(name string, dst **string) {
		if fs.Changed(name) {
			val, _ := fs.GetString(name)
			*dst = &val
		}
	}
	num := func(name string, dst **float64) {
		if fs.Changed(name) {
			val, _ := fs.GetFloat64(name)
			*dst = &val
		}
	}
	str("activity", &f.Activity)
	str("epic", &f.Epic)
	str("story", &f.UserStory)
	str("sprint", &f.Sprint)
	str("developer", &f.Developer)
	str("priority", &f.Priority)
	str("status", &f.Status)
	str("error-reason", &f.ErrorReason)
	num("estimate", &f.EstimateHours)
	num("spent", &f.TimeSpent)
	num("error-rate", &f.ErrorRate)
	if fs.Changed("spent-validated") {
		val, _ := fs.GetBool("spent-validated")
		f.TimeSpentValidated = &val
	}
	return f
}

func taskCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := fieldsFromFlags(cmd.Flags())
			return withBackend(cmd.Context(), func(ctx context.Context, svc storage.DataService) error {
				t, err := svc.CreateTask(ctx, fields)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	taskFlags(cmd.Flags())
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Update fields of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fields := fieldsFromFlags(cmd.Flags())
			return withBackend(cmd.Context(), func(ctx context.Context, svc storage.DataService) error {
				t, err := svc.UpdateTask(ctx, args[0], fields)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	taskFlags(cmd.Flags())
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID...",
		Short: "Delete tasks",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, svc storage.DataService) error {
				if len(args) == 1 {
					t, err := svc.DeleteTask(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSONOrTable(t)
				}
				res, err := svc.BulkDeleteTasks(ctx, args)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
}

func statsCmd() *cobra.Command {
	var sprint, developer string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Task counts per status, or sprint/developer statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, svc storage.DataService) error {
				switch {
				case sprint != "":
					s, err := svc.GetSprintStatistics(ctx, sprint)
					if err != nil {
						return err
					}
					return printJSONOrTable(s)
				case developer != "":
					s, err := svc.GetDeveloperStatistics(ctx, developer)
					if err != nil {
						return err
					}
					return printJSONOrTable(s)
				}
				counts, err := svc.GetTasksByStatusCount(ctx)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(counts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Status", "Tasks"})
				for _, s := range domain.Statuses {
					tw.AppendRow(table.Row{s, counts[s]})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&sprint, "sprint", "", "sprint statistics")
	cmd.Flags().StringVar(&developer, "developer", "", "developer statistics")
	return cmd
}

func settingCmd() *cobra.Command {
	s := &cobra.Command{Use: "setting", Short: "Room settings (key/JSON value)"}
	s.AddCommand(&cobra.Command{
		Use:   "get KEY",
		Short: "Read a setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, svc storage.DataService) error {
				raw, err := svc.GetConfig(ctx, args[0])
				if err != nil {
					return err
				}
				if raw == nil {
					return fmt.Errorf("setting %s: %w", args[0], storage.ErrNotFound)
				}
				fmt.Println(string(raw))
				return nil
			})
		},
	})
	s.AddCommand(&cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Write a setting; VALUE is JSON, or a plain string",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var value any
			if err := json.Unmarshal([]byte(args[1]), &value); err != nil {
				value = args[1]
			}
			return withBackend(cmd.Context(), func(ctx context.Context, svc storage.DataService) error {
				return svc.SetConfig(ctx, args[0], value)
			})
		},
	})
	s.AddCommand(&cobra.Command{
		Use:   "unset KEY",
		Short: "Remove a setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, svc storage.DataService) error {
				return svc.DeleteConfig(ctx, args[0])
			})
		},
	})
	return s
}

func exportCmd() *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export tasks as json or csv",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := storage.ParseFormat(format)
			if err != nil {
				return err
			}
			return withBackend(cmd.Context(), func(ctx context.Context, svc storage.DataService) error {
				data, err := svc.ExportData(ctx, f)
				if err != nil {
					return err
				}
				if out == "" || out == "-" {
					_, err = os.Stdout.Write(data)
					return err
				}
				return os.WriteFile(out, data, 0o644)
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "json or csv")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (stdout when empty)")
	return cmd
}

func importCmd() *cobra.Command {
	var merge bool
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a JSON export or task array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			return withBackend(cmd.Context(), func(ctx context.Context, svc storage.DataService) error {
				res, err := svc.ImportData(ctx, data, storage.ImportOptions{Merge: merge})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().BoolVar(&merge, "merge", false, "keep existing tasks and replace only matching ids")
	return cmd
}

func backupCmd() *cobra.Command {
	b := &cobra.Command{Use: "backup", Short: "Snapshots of the selected room"}
	b.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Take a snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, svc storage.DataService) error {
				info, err := svc.CreateBackup(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(info)
			})
		},
	})
	b.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List snapshots, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, svc storage.DataService) error {
				items, err := svc.ListBackups(ctx)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Created", "Tasks"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.CreatedAt, it.Tasks})
				}
				tw.Render()
				return nil
			})
		},
	})
	b.AddCommand(&cobra.Command{
		Use:   "restore ID",
		Short: "Replace tasks and settings with a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd.Context(), func(ctx context.Context, svc storage.DataService) error {
				return svc.RestoreBackup(ctx, strings.TrimSpace(args[0]))
			})
		},
	})
	return b
}
