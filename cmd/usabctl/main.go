// usabctl is the operator CLI for the usability-testing service: a smoke
// test against a running server, a local questionnaire walkthrough, and a
// helper for hashing the admin password.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/clipdock/usability/internal/client"
	"github.com/clipdock/usability/internal/flow"
	"github.com/clipdock/usability/internal/localstore"
	"github.com/clipdock/usability/internal/models"
	"github.com/clipdock/usability/internal/reconciler"
	"github.com/clipdock/usability/internal/utils"
)

var baseURL string

func main() {
	root := &cobra.Command{
		Use:           "usabctl",
		Short:         "Operator tooling for the usability-testing service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&baseURL, "base-url", defaultBaseURL(), "API base URL")
	root.AddCommand(smokeCmd(), flowCmd(), hashPasswordCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func defaultBaseURL() string {
	return utils.SafeEnv("USAB_API_BASE_URL", "http://localhost:8080")
}

// smokeCmd exercises the full API surface once against a live server.
func smokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "smoke",
		Short: "Run an end-to-end check against a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			c := client.New(baseURL)

			sess, err := c.CreateSession(ctx, fmt.Sprintf("smoke-%d", time.Now().Unix()), models.JSONMap{"source": "usabctl"})
			if err != nil {
				return fmt.Errorf("create session: %w", err)
			}
			fmt.Println("created session", sess.ID)

			forms := []struct {
				formType models.FormType
				data     models.JSONMap
			}{
				{models.FormPretest, models.JSONMap{"age": "25-34", "experience": "daily"}},
				{models.FormPostTask, models.JSONMap{"task_number": 1, "task_success": "yes", "difficulty": 2}},
				{models.FormPostTestSUS, susAnswers()},
				{models.FormPostTestNPS, models.JSONMap{"rating": 9}},
				{models.FormPostTestFeedback, models.JSONMap{"overall": "smoke run"}},
			}
			for _, f := range forms {
				resp, err := c.Submit(ctx, sess.ID, f.formType, f.data, "usabctl")
				if err != nil {
					return fmt.Errorf("submit %s: %w", f.formType, err)
				}
				fmt.Printf("submitted %-18s -> %s\n", f.formType, resp.Message)
			}

			bundle, err := c.GetSession(ctx, sess.ID)
			if err != nil {
				return fmt.Errorf("get session: %w", err)
			}
			fmt.Printf("session %s status=%s submissions=%d notifications=%d\n",
				bundle.Session.ID, bundle.Session.Status, len(bundle.Submissions), len(bundle.Notifications))

			page, err := c.ListSessions(ctx, 1, 5)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			fmt.Printf("listed %d of %d sessions\n", len(page.Sessions), page.Pagination.Total)

			csv, err := c.Export(ctx, "csv")
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			fmt.Printf("export csv: %d bytes\n", len(csv))

			docs, err := c.WebhookDocs(ctx)
			if err != nil {
				return fmt.Errorf("webhook docs: %w", err)
			}
			fmt.Printf("webhook endpoint documents %d fields\n", len(docs))

			fmt.Println("smoke check passed")
			return nil
		},
	}
}

// flowCmd walks the whole participant questionnaire locally, syncing to the
// server in the background the way the collection UI does.
func flowCmd() *cobra.Command {
	var storePath, participant string
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Walk a participant session through every questionnaire step",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := localstore.Open(storePath)
			if err != nil {
				return fmt.Errorf("open local store: %w", err)
			}
			defer store.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			rec := reconciler.New(ctx, store, client.New(baseURL))
			facade := reconciler.NewFacade(store, rec)

			sess, err := facade.Create(participant)
			if err != nil {
				return fmt.Errorf("create local session: %w", err)
			}
			fmt.Println("local session", sess.ID)

			for {
				sess, err = flow.Resolve(facade, sess.ID)
				if err != nil {
					return err
				}
				step := flow.CurrentStep(sess)
				if step == flow.StepDone {
					break
				}
				data := sampleData(step, flow.TaskNumber(sess))
				next, verrs, err := flow.Advance(facade, sess.ID, data)
				if err != nil {
					return fmt.Errorf("advance %s: %w", step, err)
				}
				if len(verrs) > 0 {
					return fmt.Errorf("step %s rejected: %s: %s", step, verrs[0].Field, verrs[0].Message)
				}
				fmt.Printf("%-18s -> %s\n", step, next)
			}

			// give the background sync a moment to drain before exiting
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			rec.Shutdown(shutdownCtx)

			fmt.Println("flow complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&storePath, "store", "usability-local.db", "local SQLite store path")
	cmd.Flags().StringVar(&participant, "participant", "flow-walkthrough", "participant identifier")
	return cmd
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for USAB_ADMIN_PASSWORD_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), bcrypt.DefaultCost)
			if err != nil {
				return err
			}
			fmt.Println(string(hash))
			return nil
		},
	}
}

func susAnswers() models.JSONMap {
	data := models.JSONMap{}
	for i := 1; i <= 10; i++ {
		data[fmt.Sprintf("q%d", i)] = 3
	}
	return data
}

func sampleData(step flow.Step, taskNumber int) models.JSONMap {
	switch step {
	case flow.StepPretest:
		return models.JSONMap{"age": "25-34", "experience": "weekly"}
	case flow.StepPostTask:
		return models.JSONMap{"task_number": taskNumber, "task_success": "yes", "difficulty": 2}
	case flow.StepPostTestSUS:
		return susAnswers()
	case flow.StepPostTestNPS:
		return models.JSONMap{"rating": 8}
	case flow.StepPostTestFeedback:
		return models.JSONMap{"overall": "cli walkthrough"}
	}
	return models.JSONMap{}
}
