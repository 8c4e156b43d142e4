package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// NewItemCmd создаёт группу команд для просмотра items.
func NewItemCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "item",
		Short: "Inspect registration items",
	}

	cmd.AddCommand(newItemShowCmd(clientFn, outputFn))

	return cmd
}

func newItemShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ITEM_ID",
		Short: "Show item state and error history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := clientFn().GetItem(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			fields := [][2]string{
				{"ID", item.ID},
				{"Job", item.JobID},
				{"Source ID", item.SourceID},
				{"Name", item.Source.Name},
				{"State", item.State},
				{"Retries", strconv.Itoa(item.RetryCount)},
				{"Errors", formatCounts(item.ErrorHistory)},
			}
			if item.ResumeState != "" {
				fields = append(fields, [2]string{"Resume at", item.ResumeState})
			}
			if item.NextAttemptAt != "" {
				fields = append(fields, [2]string{"Next attempt", item.NextAttemptAt})
			}
			if item.LastErrorMessage != "" {
				fields = append(fields, [2]string{"Last error", item.LastErrorKind + ": " + item.LastErrorMessage})
			}
			if item.ExternalID != "" {
				fields = append(fields, [2]string{"External ID", item.ExternalID})
			}
			fields = append(fields, [2]string{"Updated", item.UpdatedAt})

			return outputFn().Fields(fields, item)
		},
	}
}
