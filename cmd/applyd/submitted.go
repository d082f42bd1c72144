package main

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/apply-orchestrator/internal/pipeline"
)

var submittedCmd = &cobra.Command{
	Use:   "submitted <application-id>",
	Short: "Record that a reviewed application was submitted",
	Long: `Moves an application from review_ready to submitted after you submitted the form
yourself. The submission time, confirmation type and your user name are recorded.`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmitted,
}

var (
	submittedConfirmation string
	submittedNote         string
)

func init() {
	submittedCmd.Flags().StringVar(&submittedConfirmation, "confirmation", pipeline.ConfirmedManual, "How the submission was confirmed: manual, page or email")
	submittedCmd.Flags().StringVar(&submittedNote, "note", "", "Free-form note, e.g. a confirmation number")

	rootCmd.AddCommand(submittedCmd)
}

// cliActor names the operator in status history.
func cliActor() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return "cli:" + u.Username
	}
	return "cli"
}

func submissionFromFlags(confirmation, note string) (pipeline.Submission, error) {
	confirmation = strings.ToLower(strings.TrimSpace(confirmation))
	switch confirmation {
	case "":
		confirmation = pipeline.ConfirmedManual
	case pipeline.ConfirmedManual, pipeline.ConfirmedPage, pipeline.ConfirmedEmail:
	default:
		return pipeline.Submission{}, fmt.Errorf("--confirmation must be manual, page or email, got %q", confirmation)
	}
	note = strings.TrimSpace(note)
	if len(note) > 1000 {
		return pipeline.Submission{}, fmt.Errorf("--note is limited to 1000 characters")
	}
	return pipeline.Submission{Confirmation: confirmation, Note: note}, nil
}

func runSubmitted(_ *cobra.Command, args []string) error {
	ctx := context.Background()
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid application id %q", args[0])
	}
	sub, err := submissionFromFlags(submittedConfirmation, submittedNote)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	task, err := pipeline.MarkSubmitted(ctx, st, id, sub, cliActor(), time.Now())
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(os.Stdout, "Marked %s (%s at %s) submitted\n", task.ID, task.Job.Title, task.Job.Company)
	return nil
}
