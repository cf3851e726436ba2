package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/openmined/drivesync/internal/remote"
	"github.com/openmined/drivesync/internal/utils"
	"github.com/spf13/cobra"
)

var listBindings = flagBindings{
	"remote": "remote.backend",
}

func newListFilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list-files",
		Short: "List the objects stored on the remote",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := outputFormat(cmd)
			if err != nil {
				return err
			}

			orderBy, _ := cmd.Flags().GetString("order-by")
			space, _ := cmd.Flags().GetString("space")
			pageSize, _ := cmd.Flags().GetInt("page-size")
			params := &remote.ListParams{OrderBy: orderBy, Space: space, PageSize: pageSize}
			if err := remote.ValidateListParams(params); err != nil {
				return err
			}

			cfg, err := loadConfig(cmd, listBindings)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			cmd.SilenceUsage = true

			closeLog, err := setupLogging(cfg, cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			defer closeLog()

			svc, closer, err := newService(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer.Close()
			}

			objs, err := svc.ListObjects(cmd.Context(), params)
			if err != nil {
				return fmt.Errorf("list objects: %w", err)
			}

			if format != outputTable {
				if objs == nil {
					objs = []*remote.Object{}
				}
				return writeStructured(cmd.OutOrStdout(), format, objs)
			}
			return writeObjectTable(cmd.Context(), cmd.OutOrStdout(), svc, objs)
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().String("order-by", "", "sort keys, e.g. \"folder,name\" or \"createdTime desc\"")
	cmd.Flags().String("space", "", "space to list: "+strings.Join(remote.ValidSpaces, ", "))
	cmd.Flags().Int("page-size", 100, "maximum number of objects")
	cmd.Flags().StringP("remote", "r", "", "remote backend: drive, s3 or memory")
	addOutputFlag(cmd)
	return cmd
}

// writeObjectTable renders objs with their parents resolved to names.
func writeObjectTable(ctx context.Context, w io.Writer, svc remote.Service, objs []*remote.Object) error {
	if len(objs) == 0 {
		fmt.Fprintln(w, gray.Render("no objects"))
		return nil
	}

	names := remote.NewNameResolver(svc, len(objs)+16, time.Minute)
	for _, o := range objs {
		names.Remember(o.ID, o.Name)
	}

	rows := make([][]string, 0, len(objs))
	for _, o := range objs {
		rows = append(rows, []string{
			o.ID,
			utils.FormatTime(o.CreatedTime),
			o.Name,
			formatSize(o),
			strings.Join(o.Spaces, ", "),
			parentNames(ctx, names, o.ParentIDs),
		})
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(lipgloss.Color("14"))
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(gray).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers("ID", "Created Time", "Name", "Size", "Spaces", "Parents").
		Rows(rows...)

	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func formatSize(o *remote.Object) string {
	if o.IsFolder || o.Size < 0 {
		return "-"
	}
	return humanize.Bytes(uint64(o.Size))
}

// parentNames falls back to the raw id for parents it cannot name, such as
// the root of the remote.
func parentNames(ctx context.Context, names *remote.NameResolver, ids []string) string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		name, err := names.Name(ctx, id)
		if err != nil || name == "" {
			name = id
		}
		out = append(out, name)
	}
	return strings.Join(out, ", ")
}
